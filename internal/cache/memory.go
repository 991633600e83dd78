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
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

const numShards = 32

type entry struct {
	members   map[string]struct{}
	expiresAt time.Time // zero means no expiration
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// MemoryStore is an in-process Store. Keys are spread over shards by xxh3 hash so
// concurrent validators rarely contend on the same lock. Expired keys are reaped lazily.
type MemoryStore struct {
	shards [numShards]*shard
	now    func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return m
}

func (m *MemoryStore) shardFor(key string) *shard {
	return m.shards[xxh3.HashString(key)%numShards]
}

// SAdd implements Store.
func (m *MemoryStore) SAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	s := m.shardFor(key)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = &entry{members: make(map[string]struct{}, len(members))}
		s.entries[key] = e
	}
	for _, v := range members {
		e.members[v] = struct{}{}
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return nil
}

// Replace implements Store.
func (m *MemoryStore) Replace(_ context.Context, key string, ttl time.Duration, members ...string) error {
	s := m.shardFor(key)
	e := &entry{members: make(map[string]struct{}, len(members))}
	for _, v := range members {
		e.members[v] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	if len(members) == 0 {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = e
	return nil
}

// SMembers implements Store.
func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s := m.shardFor(key)
	now := m.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.RUnlock()
		return []string{}, nil
	}
	if e.expired(now) {
		s.mu.RUnlock()
		m.reap(s, key, now)
		return []string{}, nil
	}
	out := make([]string, 0, len(e.members))
	for v := range e.members {
		out = append(out, v)
	}
	s.mu.RUnlock()
	return out, nil
}

// Exists implements Store.
func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s := m.shardFor(key)
	now := m.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	live := ok && !e.expired(now)
	s.mu.RUnlock()

	if ok && !live {
		m.reap(s, key, now)
	}
	return live, nil
}

// Del implements Store.
func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s := m.shardFor(key)
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
	}
	return nil
}

// reap drops key if it is still expired; another writer may have refreshed it meanwhile.
func (m *MemoryStore) reap(s *shard, key string, now time.Time) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok && e.expired(now) {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// Len returns the number of live keys. Intended for tests and diagnostics.
func (m *MemoryStore) Len() int {
	now := m.now()
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if !e.expired(now) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}
