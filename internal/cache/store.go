// Package cache implements the resolution cache: a TTL-expiring set store keyed by
// "{scope}:{identifier}" and shared by every pipeline instance of a process.
package cache

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
	"context"
	"time"
)

// Store is the backend contract. Values are sets of strings; a key past its expiration
// is invisible to every read.
type Store interface {
	// SAdd adds members to the set at key. When ttl > 0 the key's expiration is (re)set.
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	// Replace atomically swaps the set at key for members and (re)sets its expiration
	// when ttl > 0. Concurrent replacements never leave a union behind.
	Replace(ctx context.Context, key string, ttl time.Duration, members ...string) error
	// SMembers returns the members of the set at key, or an empty slice if absent.
	SMembers(ctx context.Context, key string) ([]string, error)
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// Del removes keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error
}
