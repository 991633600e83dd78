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
	"log"
	"time"

	"github.com/x-stp/domclass/internal/metrics"
)

// Key scopes.
const (
	ScopeValidation    = "dom_class:cache"
	ScopeCandidateScan = "cache:regex"
	ScopeOrigin        = "dom_class:origin"
)

// Cache is the scoped facade every pipeline stage uses. Backend failures are logged and
// reported as misses: the cache only ever saves round-trips, it never fails a lookup.
type Cache struct {
	store Store
}

// New wraps store. A nil store yields a nil *Cache, on which every method is a miss/no-op.
func New(store Store) *Cache {
	if store == nil {
		return nil
	}
	return &Cache{store: store}
}

// Key builds the backend key for (scope, id).
func Key(scope, id string) string {
	return scope + ":" + id
}

// Get returns the set stored for (scope, id). ok is false on a miss, an expired entry
// or a backend error.
func (c *Cache) Get(ctx context.Context, scope, id string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	key := Key(scope, id)
	ok, err := c.store.Exists(ctx, key)
	if err != nil {
		log.Printf("cache: exists %s: %v", key, err)
		return nil, false
	}
	if !ok {
		metrics.GetMetrics().RecordCache(scope, false)
		return nil, false
	}
	members, err := c.store.SMembers(ctx, key)
	if err != nil {
		log.Printf("cache: read %s: %v", key, err)
		return nil, false
	}
	// Expired between Exists and SMembers.
	if len(members) == 0 {
		metrics.GetMetrics().RecordCache(scope, false)
		return nil, false
	}
	metrics.GetMetrics().RecordCache(scope, true)
	return members, true
}

// Put replaces the set stored for (scope, id) and restarts its TTL clock.
func (c *Cache) Put(ctx context.Context, scope, id string, values []string, ttl time.Duration) {
	if c == nil || len(values) == 0 {
		return
	}
	key := Key(scope, id)
	if err := c.store.Replace(ctx, key, ttl, values...); err != nil {
		log.Printf("cache: write %s: %v", key, err)
	}
}

// Add appends values to the set for (scope, id) without clearing it first.
func (c *Cache) Add(ctx context.Context, scope, id string, values []string, ttl time.Duration) error {
	if c == nil || len(values) == 0 {
		return nil
	}
	return c.store.SAdd(ctx, Key(scope, id), ttl, values...)
}

// Delete removes the entry for (scope, id).
func (c *Cache) Delete(ctx context.Context, scope, id string) {
	if c == nil {
		return
	}
	key := Key(scope, id)
	if err := c.store.Del(ctx, key); err != nil {
		log.Printf("cache: delete %s: %v", key, err)
	}
}

// Exists reports whether (scope, id) holds a live entry. Backend errors read as absent.
func (c *Cache) Exists(ctx context.Context, scope, id string) bool {
	if c == nil {
		return false
	}
	ok, err := c.store.Exists(ctx, Key(scope, id))
	if err != nil {
		log.Printf("cache: exists %s: %v", Key(scope, id), err)
		return false
	}
	return ok
}
