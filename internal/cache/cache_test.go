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
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

var errBackend = errors.New("backend down")

func (failingStore) SAdd(context.Context, string, time.Duration, ...string) error { return errBackend }
func (failingStore) Replace(context.Context, string, time.Duration, ...string) error {
	return errBackend
}
func (failingStore) SMembers(context.Context, string) ([]string, error) { return nil, errBackend }
func (failingStore) Exists(context.Context, string) (bool, error)       { return false, errBackend }
func (failingStore) Del(context.Context, ...string) error               { return errBackend }

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "dom_class:cache:foo.lu", Key(ScopeValidation, "foo.lu"))
	assert.Equal(t, "cache:regex:1234", Key(ScopeCandidateScan, "1234"))
}

func TestCachePutOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemoryStore())

	c.Put(ctx, ScopeValidation, "foo.lu", []string{"a", "b"}, time.Minute)
	c.Put(ctx, ScopeValidation, "foo.lu", []string{"c"}, time.Minute)

	got, ok := c.Get(ctx, ScopeValidation, "foo.lu")
	require.True(t, ok)
	assert.Equal(t, []string{"c"}, got)
}

func TestCacheScopesAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemoryStore())

	c.Put(ctx, ScopeValidation, "x", []string{"dns"}, time.Minute)
	c.Put(ctx, ScopeOrigin, "x", []string{"asn"}, time.Minute)

	dns, ok := c.Get(ctx, ScopeValidation, "x")
	require.True(t, ok)
	origin, ok := c.Get(ctx, ScopeOrigin, "x")
	require.True(t, ok)
	assert.Equal(t, []string{"dns"}, dns)
	assert.Equal(t, []string{"asn"}, origin)

	c.Delete(ctx, ScopeValidation, "x")
	_, ok = c.Get(ctx, ScopeValidation, "x")
	assert.False(t, ok)
	assert.True(t, c.Exists(ctx, ScopeOrigin, "x"))
}

func TestCacheAdd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemoryStore())

	require.NoError(t, c.Add(ctx, ScopeCandidateScan, "run", []string{"0[^]a.lu"}, time.Second))
	require.NoError(t, c.Add(ctx, ScopeCandidateScan, "run", []string{"1[^]b.lu"}, time.Second))

	got, ok := c.Get(ctx, ScopeCandidateScan, "run")
	require.True(t, ok)
	sort.Strings(got)
	assert.Equal(t, []string{"0[^]a.lu", "1[^]b.lu"}, got)
}

func TestCacheBackendErrorIsMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(failingStore{})

	c.Put(ctx, ScopeValidation, "foo.lu", []string{"a"}, time.Minute)
	_, ok := c.Get(ctx, ScopeValidation, "foo.lu")
	assert.False(t, ok)
	assert.False(t, c.Exists(ctx, ScopeValidation, "foo.lu"))
	c.Delete(ctx, ScopeValidation, "foo.lu")
}

func TestNilCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(nil)

	assert.Nil(t, c)
	c.Put(ctx, ScopeValidation, "foo.lu", []string{"a"}, time.Minute)
	_, ok := c.Get(ctx, ScopeValidation, "foo.lu")
	assert.False(t, ok)
	assert.NoError(t, c.Add(ctx, ScopeValidation, "foo.lu", []string{"a"}, time.Minute))
}
