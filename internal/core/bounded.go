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
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/x-stp/domclass/internal/cache"
	"github.com/x-stp/domclass/internal/metrics"
)

// ScratchSeparator joins the ordinal and the candidate in a scratch set member.
const ScratchSeparator = "[^]"

// ExtractFunc produces candidates from text. Implementations must return promptly once
// ctx is done.
type ExtractFunc func(ctx context.Context, text string) ([]string, error)

// BoundedExecutor runs an ExtractFunc under a wall-clock deadline on its own goroutine.
// A run that misses the deadline, fails or panics yields an empty result, never a partial one.
type BoundedExecutor struct {
	deadline time.Duration
	scratch  *cache.Cache
}

type boundedResult struct {
	candidates []string
	err        error
}

// NewBoundedExecutor creates an executor. deadline <= 0 disables isolation.
// When scratch is non-nil, results are handed back through a per-run
// "cache:regex:{uuid}" set instead of the result channel.
func NewBoundedExecutor(deadline time.Duration, scratch *cache.Cache) *BoundedExecutor {
	return &BoundedExecutor{deadline: deadline, scratch: scratch}
}

// Deadline returns the configured deadline.
func (b *BoundedExecutor) Deadline() time.Duration { return b.deadline }

// Run executes fn over text and returns its candidates, or an empty non-nil slice on
// timeout, error or panic.
func (b *BoundedExecutor) Run(ctx context.Context, text string, fn ExtractFunc) []string {
	m := metrics.GetMetrics()
	start := time.Now()

	if b.deadline <= 0 {
		out, err := fn(ctx, text)
		if err != nil {
			log.Printf("regex: extraction failed: %v", err)
			m.RecordExtract("error", time.Since(start), 0)
			return []string{}
		}
		m.RecordExtract("ok", time.Since(start), len(out))
		return nonNil(out)
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithTimeout(ctx, b.deadline)
	defer cancel()

	done := make(chan boundedResult, 1)
	go b.work(runCtx, runID, text, fn, done)

	select {
	case res := <-done:
		if res.err != nil {
			log.Printf("regex: extraction failed: %v", res.err)
			m.RecordExtract("error", time.Since(start), 0)
			return []string{}
		}
		out := res.candidates
		if b.scratch != nil {
			out = b.collect(runID)
		}
		m.RecordExtract("ok", time.Since(start), len(out))
		return nonNil(out)
	case <-runCtx.Done():
		cancel()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			log.Printf("regex: processing timeout")
			m.RecordExtract("timeout", time.Since(start), 0)
		} else {
			log.Printf("regex: processing cancelled")
			m.RecordExtract("cancelled", time.Since(start), 0)
		}
		b.discard(runID)
		return []string{}
	}
}

// work is the isolated unit. It always sends exactly once on done (buffered), so a late
// result after cancellation is dropped without blocking.
func (b *BoundedExecutor) work(ctx context.Context, runID, text string, fn ExtractFunc, done chan<- boundedResult) {
	defer func() {
		if r := recover(); r != nil {
			done <- boundedResult{err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err := fn(ctx, text)
	if err != nil {
		done <- boundedResult{err: err}
		return
	}
	if b.scratch == nil {
		done <- boundedResult{candidates: out}
		return
	}

	members := make([]string, len(out))
	for i, c := range out {
		members[i] = strconv.Itoa(i) + ScratchSeparator + c
	}
	// The run context may already be done; scratch writes must not depend on it.
	bg := context.Background()
	if err := b.scratch.Add(bg, cache.ScopeCandidateScan, runID, members, ScratchTTL); err != nil {
		done <- boundedResult{err: fmt.Errorf("scratch write: %w", err)}
		return
	}
	// Cancelled while writing: the executor may already have swept the key.
	if ctx.Err() != nil {
		b.scratch.Delete(bg, cache.ScopeCandidateScan, runID)
		done <- boundedResult{err: ctx.Err()}
		return
	}
	done <- boundedResult{}
}

// collect reads the run's scratch set back in extraction order and deletes it.
func (b *BoundedExecutor) collect(runID string) []string {
	bg := context.Background()
	members, _ := b.scratch.Get(bg, cache.ScopeCandidateScan, runID)
	b.scratch.Delete(bg, cache.ScopeCandidateScan, runID)

	type indexed struct {
		i int
		c string
	}
	items := make([]indexed, 0, len(members))
	for _, m := range members {
		idx, cand, ok := strings.Cut(m, ScratchSeparator)
		if !ok {
			continue
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}
		items = append(items, indexed{i: i, c: cand})
	}
	sort.Slice(items, func(x, y int) bool { return items[x].i < items[y].i })

	out := make([]string, len(items))
	for k, it := range items {
		out[k] = it.c
	}
	return out
}

func (b *BoundedExecutor) discard(runID string) {
	if b.scratch != nil {
		b.scratch.Delete(context.Background(), cache.ScopeCandidateScan, runID)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
