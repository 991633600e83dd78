package output

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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultBufferSize is the default write buffer size.
	DefaultBufferSize = 256 * 1024 // 256KB

	// FlushInterval is how often buffered output is pushed to the destination.
	FlushInterval = 2 * time.Second
)

// ErrClosed is returned when writing to a closed Writer.
var ErrClosed = errors.New("output writer closed")

// Format selects how values are rendered.
type Format int

const (
	// FormatText writes one value per line using its String method.
	FormatText Format = iota
	// FormatJSON writes one JSON document per line.
	FormatJSON
)

// ParseFormat accepts "text" and "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json", "jsonl":
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("unknown output format %q", s)
}

// Options configures a Writer.
type Options struct {
	BufferSize    int
	FlushInterval time.Duration
	Compressed    bool
	Format        Format
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() *Options {
	return &Options{
		BufferSize:    DefaultBufferSize,
		FlushInterval: FlushInterval,
	}
}

// Stats counts what went through a Writer.
type Stats struct {
	Lines        atomic.Int64
	BytesWritten atomic.Int64
	FlushCount   atomic.Int64
	ErrorCount   atomic.Int64
}

// Writer is a buffered line writer with periodic background flushing. A Writer created
// with Create writes to a temporary file that replaces the target only on Close, so a
// failed run never leaves a truncated result behind.
type Writer struct {
	dst    io.Writer
	file   *os.File
	path   string
	tmp    string
	gz     *gzip.Writer
	buf    *bufio.Writer
	format Format

	mu     sync.Mutex
	closed bool

	cancel context.CancelFunc
	done   chan struct{}

	stats Stats
}

// New returns a Writer over dst. Closing it does not close dst.
func New(ctx context.Context, dst io.Writer, opts *Options) *Writer {
	if opts == nil {
		opts = DefaultOptions()
	}
	w := &Writer{dst: dst, format: opts.Format}
	w.init(ctx, opts)
	return w
}

// Create returns a Writer for path. Parent directories are created as needed.
func Create(ctx context.Context, path string, opts *Options) (*Writer, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}

	w := &Writer{dst: f, file: f, path: path, tmp: f.Name(), format: opts.Format}
	w.init(ctx, opts)
	return w, nil
}

func (w *Writer) init(ctx context.Context, opts *Options) {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	if opts.Compressed {
		w.gz, _ = gzip.NewWriterLevel(w.dst, gzip.BestSpeed)
		w.buf = bufio.NewWriterSize(w.gz, size)
	} else {
		w.buf = bufio.NewWriterSize(w.dst, size)
	}

	interval := opts.FlushInterval
	if interval <= 0 {
		interval = FlushInterval
	}
	flushCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.flusher(flushCtx, interval)
}

func (w *Writer) flusher(ctx context.Context, interval time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil && !errors.Is(err, ErrClosed) {
				log.Printf("output: background flush: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// WriteLine writes s followed by a newline. In JSON format s is written as a JSON string.
func (w *Writer) WriteLine(s string) error {
	if w.format == FormatJSON {
		return w.WriteValue(s)
	}
	return w.write([]byte(s + "\n"))
}

// WriteValue writes v on its own line: its String form in text format, its JSON encoding
// in JSON format.
func (w *Writer) WriteValue(v any) error {
	if w.format == FormatJSON {
		b, err := json.Marshal(v)
		if err != nil {
			w.stats.ErrorCount.Add(1)
			return fmt.Errorf("failed to encode output value: %w", err)
		}
		return w.write(append(b, '\n'))
	}
	if s, ok := v.(fmt.Stringer); ok {
		return w.write([]byte(s.String() + "\n"))
	}
	return w.write([]byte(fmt.Sprint(v) + "\n"))
}

func (w *Writer) write(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	n, err := w.buf.Write(b)
	w.stats.BytesWritten.Add(int64(n))
	if err != nil {
		w.stats.ErrorCount.Add(1)
		return fmt.Errorf("failed to write to buffer: %w", err)
	}
	w.stats.Lines.Add(1)
	return nil
}

// Flush pushes buffered output to the destination.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if err := w.buf.Flush(); err != nil {
		w.stats.ErrorCount.Add(1)
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if w.gz != nil {
		if err := w.gz.Flush(); err != nil {
			w.stats.ErrorCount.Add(1)
			return fmt.Errorf("failed to flush gzip writer: %w", err)
		}
	}
	w.stats.FlushCount.Add(1)
	return nil
}

// Close flushes everything and, for a file Writer, moves the temporary file into place.
// On error the temporary file is removed and the target is left untouched.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	<-w.done

	err := w.buf.Flush()
	if err == nil && w.gz != nil {
		err = w.gz.Close()
	}
	if w.file == nil {
		if err != nil {
			return fmt.Errorf("failed to flush output on close: %w", err)
		}
		return nil
	}

	if err == nil {
		err = w.file.Sync()
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(w.tmp, w.path)
	}
	if err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("failed to finalize %s: %w", w.path, err)
	}
	return nil
}

// Abort stops the Writer without publishing anything. Output already written to a
// non-file destination stays there.
func (w *Writer) Abort() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	<-w.done
	if w.file != nil {
		w.file.Close()
		os.Remove(w.tmp)
	}
}

// Stats returns the live counters of w.
func (w *Writer) Stats() *Stats {
	return &w.stats
}
