// Package tld maintains the process-wide set of valid top-level domains used to filter
// extracted candidates. The list comes from IANA and is cached verbatim on disk.
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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/x-stp/domclass/internal/client"
	"github.com/x-stp/domclass/internal/core"
)

const (
	// DefaultURL is the IANA list of delegated TLDs.
	DefaultURL = "https://data.iana.org/TLD/tlds-alpha-by-domain.txt"
	// CacheFileName is the file name of the on-disk copy inside the cache directory.
	CacheFileName = "tlds"
	// DefaultCacheDirName is created under the user's home directory.
	DefaultCacheDirName = ".DomainClassifier"
)

// Source fetches the raw newline-delimited TLD list.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPSource fetches the list with the shared HTTP client.
type HTTPSource struct {
	URL    string
	Client *http.Client // nil uses client.GetHTTPClient()
}

// Fetch implements Source.
func (h HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	url := h.URL
	if url == "" {
		url = DefaultURL
	}
	return client.Fetch(ctx, h.Client, url)
}

// Set is a lazily populated TLD set. Reads are lock-free once loaded.
type Set struct {
	cacheDir string
	src      Source

	mu     sync.Mutex // serializes population and refresh
	loaded atomic.Bool
	tlds   atomic.Pointer[map[string]struct{}]
}

// NewSet creates an unpopulated set backed by cacheDir and src.
func NewSet(cacheDir string, src Source) *Set {
	return &Set{cacheDir: cacheDir, src: src}
}

var (
	defaultSet  *Set
	defaultOnce sync.Once
)

// Default returns the process-wide set, cached under ~/.DomainClassifier and fed from IANA.
func Default() *Set {
	defaultOnce.Do(func() {
		defaultSet = NewSet(DefaultCacheDir(), HTTPSource{URL: DefaultURL})
	})
	return defaultSet
}

// DefaultCacheDir returns ~/.DomainClassifier, or a directory under the OS temp dir when
// the home directory cannot be determined.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), DefaultCacheDirName)
	}
	return filepath.Join(home, DefaultCacheDirName)
}

// CachePath returns the path of the on-disk copy.
func (s *Set) CachePath() string {
	return filepath.Join(s.cacheDir, CacheFileName)
}

// Load populates the set on first use: the on-disk copy when present, otherwise the
// source, whose answer is then written to disk. The network is never consulted when a
// cache file exists. A failed load leaves the set empty and is retried on the next call.
func (s *Set) Load(ctx context.Context) error {
	if s.loaded.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded.Load() {
		return nil
	}

	raw, err := os.ReadFile(s.CachePath())
	if err == nil {
		if set := Parse(raw); len(set) > 0 {
			s.swap(set)
			return nil
		}
		log.Printf("tld: cache %s is empty, refetching", s.CachePath())
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.Printf("tld: read cache %s: %v", s.CachePath(), err)
	}

	return s.fetchLocked(ctx)
}

// Refresh refetches the list regardless of the on-disk copy, rewrites the cache and swaps
// the in-memory set. On failure the current set is kept.
func (s *Set) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchLocked(ctx)
}

func (s *Set) fetchLocked(ctx context.Context) error {
	if s.src == nil {
		return core.NewError(core.KindSourceUnavailable, "tld fetch", errors.New("no source configured"))
	}
	raw, err := s.src.Fetch(ctx)
	if err != nil {
		if core.IsKind(err, core.KindSourceUnavailable) {
			return err
		}
		return core.NewError(core.KindSourceUnavailable, "tld fetch", err)
	}
	set := Parse(raw)
	if len(set) == 0 {
		return core.NewError(core.KindMalformedAnswer, "tld fetch", errors.New("list contains no entries"))
	}
	if err := writeAtomic(s.cacheDir, CacheFileName, raw); err != nil {
		// The list is still usable for this process.
		log.Printf("tld: write cache: %v", err)
	}
	s.swap(set)
	return nil
}

func (s *Set) swap(set map[string]struct{}) {
	s.tlds.Store(&set)
	s.loaded.Store(true)
}

// Contains reports whether label is a known TLD, case-insensitively.
func (s *Set) Contains(label string) bool {
	p := s.tlds.Load()
	if p == nil {
		return false
	}
	_, ok := (*p)[strings.ToLower(label)]
	return ok
}

// Len returns the number of TLDs loaded.
func (s *Set) Len() int {
	p := s.tlds.Load()
	if p == nil {
		return 0
	}
	return len(*p)
}

// Ready reports whether the set has been populated.
func (s *Set) Ready() bool {
	return s.loaded.Load()
}

// Parse reads a newline-delimited list, skipping blank and "#" lines and lowercasing entries.
func Parse(raw []byte) map[string]struct{} {
	set := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[strings.ToLower(line)] = struct{}{}
	}
	return set
}

// writeAtomic writes data to dir/name through a temp file and rename, so concurrent
// writers never leave a torn file behind.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
