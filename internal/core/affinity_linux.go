//go:build linux
// +build linux

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
	"log"
	"runtime"

	"golang.org/x/sys/unix"
)

// setAffinity binds the current goroutine's OS thread to a specific CPU core.
// Best-effort: failure is logged and the worker keeps running unpinned.
func setAffinity(workerID, cpuID int) {
	// The worker goroutine owns this thread for its whole lifetime; no unlock.
	runtime.LockOSThread()

	var cpuSet unix.CPUSet
	cpuSet.Zero()
	cpuSet.Set(cpuID)

	tid := unix.Gettid()
	if err := unix.SchedSetaffinity(tid, &cpuSet); err != nil {
		log.Printf("Warning: Failed to set CPU affinity for worker %d on core %d (tid: %d): %v", workerID, cpuID, tid, err)
	}
}
