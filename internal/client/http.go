package client

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

/*
Package client provides the shared HTTP client used for the outbound lookups of domclass:
the IANA TLD list download and the BGP Ranking API.

Both collaborators are single hosts contacted a handful of times per run, so the pool is small.
The client is configured once and then retrieved by every caller, which keeps connection reuse
and timeout behaviour consistent across stages.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/x-stp/domclass/internal/core"
)

const (
	// UserAgent identifies domclass to remote services.
	UserAgent = "domclass/1.0 (+https://github.com/x-stp/domclass)"
	// MaxBodySize caps how much of a response body is read.
	MaxBodySize = 8 << 20
)

var (
	defaultDialTimeout      = 5 * time.Second
	defaultKeepAliveTimeout = 30 * time.Second
	defaultIdleConnTimeout  = 90 * time.Second
	defaultMaxIdleConns     = 8
	defaultMaxConnsPerHost  = 4

	// sharedClient is lazily initialized on first use or when explicitly configured.
	sharedClient     *http.Client
	sharedClientLock sync.RWMutex
)

// Config holds configuration parameters for the HTTP client.
// A zero-value field falls back to its default.
type Config struct {
	DialTimeout      time.Duration
	KeepAliveTimeout time.Duration
	IdleConnTimeout  time.Duration
	MaxIdleConns     int
	MaxConnsPerHost  int
	// RequestTimeout bounds the whole exchange, body included.
	RequestTimeout time.Duration
	// UserAgent overrides the default User-Agent header.
	UserAgent string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:      defaultDialTimeout,
		KeepAliveTimeout: defaultKeepAliveTimeout,
		IdleConnTimeout:  defaultIdleConnTimeout,
		MaxIdleConns:     defaultMaxIdleConns,
		MaxConnsPerHost:  defaultMaxConnsPerHost,
		RequestTimeout:   core.RequestTimeout,
		UserAgent:        UserAgent,
	}
}

// userAgentTransport stamps every outgoing request with a User-Agent.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

func (t *userAgentTransport) CloseIdleConnections() {
	if tr, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		tr.CloseIdleConnections()
	}
}

// InitHTTPClient (re)builds the shared client. A nil config means DefaultConfig().
// Idle connections of a replaced client are closed.
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	if sharedClient != nil {
		sharedClient.CloseIdleConnections()
	}
	sharedClient = newClient(config)
}

func newClient(config *Config) *http.Client {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	c := *config
	if c.DialTimeout == 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = def.KeepAliveTimeout
	}
	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = def.IdleConnTimeout
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = def.MaxIdleConns
	}
	if c.MaxConnsPerHost == 0 {
		c.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   c.DialTimeout,
			KeepAlive: c.KeepAliveTimeout,
		}).DialContext,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxConnsPerHost,
		MaxConnsPerHost:       c.MaxConnsPerHost,
		IdleConnTimeout:       c.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: &userAgentTransport{base: transport, ua: c.UserAgent},
		Timeout:   c.RequestTimeout,
	}
}

// GetHTTPClient returns the shared client, initializing it with defaults on first use.
func GetHTTPClient() *http.Client {
	sharedClientLock.RLock()
	c := sharedClient
	sharedClientLock.RUnlock()
	if c != nil {
		return c
	}

	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()
	if sharedClient == nil {
		sharedClient = newClient(nil)
	}
	return sharedClient
}

// Fetch GETs url and returns the body. Transport failures and non-2xx statuses are
// KindSourceUnavailable errors.
func Fetch(ctx context.Context, hc *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.NewError(core.KindConfiguration, "GET "+url, err)
	}
	return do(hc, req)
}

// PostJSON POSTs payload as JSON and decodes the response into out. A body that does not
// decode is a KindMalformedAnswer error.
func PostJSON(ctx context.Context, hc *http.Client, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return core.NewError(core.KindConfiguration, "POST "+url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	raw, err := do(hc, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return core.NewError(core.KindMalformedAnswer, "POST "+url, err)
	}
	return nil
}

func do(hc *http.Client, req *http.Request) ([]byte, error) {
	if hc == nil {
		hc = GetHTTPClient()
	}
	op := req.Method + " " + req.URL.String()

	resp, err := hc.Do(req)
	if err != nil {
		return nil, core.NewError(core.KindSourceUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, core.NewError(core.KindSourceUnavailable, op, fmt.Errorf("unexpected status %s", resp.Status))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, core.NewError(core.KindSourceUnavailable, op, err)
	}
	return raw, nil
}
