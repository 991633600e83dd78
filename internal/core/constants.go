/*
Package core constants that are shared across the pipeline stages rather than owned by a single
component. They provide the defaults used when a Config leaves a field at its zero value.
*/
package core

/*
domclass — extract and classify Internet domains from raw text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"time"
)

// Application-wide constants for tuning behavior.
const (
	// --- Workers ---

	// MaxWorkers is the upper limit on scheduler workers regardless of configuration.
	MaxWorkers = 256

	// MaxShardQueueSize is the capacity of each worker's queue.
	MaxShardQueueSize = 1024

	// MaxSubmitRetries bounds how often SubmitWait retries an enqueue that hit ErrQueueFull.
	MaxSubmitRetries = 15

	// SubmitRetryDelay is the pause between enqueue attempts on a full queue.
	SubmitRetryDelay = 50 * time.Millisecond

	// --- Extraction ---

	// ScratchTTL is the fixed lifetime of a bounded-extraction run's scratch entry.
	// Entries outlive the run only if the process dies between write and cleanup.
	ScratchTTL = 10 * time.Second

	// ExtractChunkSize is the approximate number of bytes scanned between cancellation checks.
	ExtractChunkSize = 64 * 1024

	// --- DNS ---

	// DefaultQueryTimeout is the per-query timeout for validation and origin lookups.
	DefaultQueryTimeout = 1 * time.Second

	// DefaultDNSPort is the port used when the resolver address carries none.
	DefaultDNSPort = 53

	// DefaultCacheTTL is how long validation and origin results stay fresh.
	DefaultCacheTTL = 3600 * time.Second

	// --- Networking ---

	// RequestTimeout bounds a single TLD list or ranking request.
	RequestTimeout = 15 * time.Second
)
