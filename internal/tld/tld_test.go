package tld

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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/domclass/internal/core"
)

const ianaSample = "# Version 2025010100, Last Updated Wed Jan  1 07:07:01 2025 UTC\nCOM\nLU\nBE\n\nXN--P1AI\n"

type fakeSource struct {
	body  []byte
	err   error
	calls atomic.Int32
}

func (f *fakeSource) Fetch(context.Context) ([]byte, error) {
	f.calls.Add(1)
	return f.body, f.err
}

func TestParse(t *testing.T) {
	t.Parallel()
	set := Parse([]byte(ianaSample))
	assert.Len(t, set, 4)
	for _, want := range []string{"com", "lu", "be", "xn--p1ai"} {
		assert.Contains(t, set, want)
	}
}

func TestLoadFetchesAndWritesCache(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested")
	src := &fakeSource{body: []byte(ianaSample)}
	s := NewSet(dir, src)

	require.False(t, s.Ready())
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.Load(context.Background()))

	assert.True(t, s.Ready())
	assert.Equal(t, 4, s.Len())
	assert.True(t, s.Contains("LU"))
	assert.True(t, s.Contains("com"))
	assert.False(t, s.Contains("e"))
	assert.Equal(t, int32(1), src.calls.Load())

	raw, err := os.ReadFile(s.CachePath())
	require.NoError(t, err)
	assert.Equal(t, ianaSample, string(raw), "cache must hold the list verbatim")

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestLoadPrefersDiskCache(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFileName), []byte("LU\n"), 0o644))

	src := &fakeSource{err: errors.New("network unreachable")}
	s := NewSet(dir, src)

	require.NoError(t, s.Load(context.Background()))
	assert.True(t, s.Contains("lu"))
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestLoadWithoutCacheOrSource(t *testing.T) {
	t.Parallel()
	src := &fakeSource{err: errors.New("network unreachable")}
	s := NewSet(t.TempDir(), src)

	err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindSourceUnavailable))
	assert.False(t, s.Ready())
	assert.Equal(t, 0, s.Len())

	src.err = nil
	src.body = []byte("COM\n")
	require.NoError(t, s.Load(context.Background()), "a failed load is retried")
	assert.True(t, s.Contains("com"))
}

func TestRefreshKeepsSetOnFailure(t *testing.T) {
	t.Parallel()
	src := &fakeSource{body: []byte("LU\n")}
	s := NewSet(t.TempDir(), src)
	require.NoError(t, s.Load(context.Background()))

	src.body = []byte("LU\nBE\n")
	require.NoError(t, s.Refresh(context.Background()))
	assert.True(t, s.Contains("be"))

	src.err = errors.New("down")
	require.Error(t, s.Refresh(context.Background()))
	assert.True(t, s.Contains("be"))

	src.err = nil
	src.body = []byte("# only comments\n")
	err := s.Refresh(context.Background())
	assert.True(t, core.IsKind(err, core.KindMalformedAnswer))
	assert.Equal(t, 2, s.Len())
}

func TestConcurrentFirstLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := &fakeSource{body: []byte(ianaSample)}
	s := NewSet(dir, src)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Load(context.Background()))
			assert.True(t, s.Contains("lu"))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())

	raw, err := os.ReadFile(s.CachePath())
	require.NoError(t, err)
	assert.Equal(t, ianaSample, string(raw))
}

func TestHTTPSource(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ianaSample))
	}))
	defer srv.Close()

	s := NewSet(t.TempDir(), HTTPSource{URL: srv.URL, Client: srv.Client()})
	require.NoError(t, s.Load(context.Background()))
	assert.True(t, s.Contains("xn--p1ai"))
}
