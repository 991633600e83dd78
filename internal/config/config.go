// Package config holds the runtime settings of domclass: defaults, environment overrides
// and validation.
package config

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
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/x-stp/domclass/internal/core"
	"github.com/x-stp/domclass/internal/dnsclient"
	"github.com/x-stp/domclass/internal/ranking"
	"github.com/x-stp/domclass/internal/tld"
)

// Config is the complete runtime configuration.
type Config struct {
	Nameservers  []string
	Port         int
	QueryTimeout time.Duration
	RecordTypes  []string

	CacheTTL time.Duration
	RedisURL string // empty keeps the cache in process
	NoCache  bool

	// ExtractTimeout bounds candidate extraction; 0 runs it inline.
	ExtractTimeout time.Duration

	Workers          int
	QueriesPerSecond float64
	PinWorkers       bool // bind validation workers to CPU cores (Linux)

	TLDSourceURL string
	TLDCacheDir  string
	RankingURL   string

	MetricsAddr string
	ListenAddr  string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Nameservers:  []string{"8.8.8.8"},
		Port:         core.DefaultDNSPort,
		QueryTimeout: core.DefaultQueryTimeout,
		RecordTypes:  []string{"A", "AAAA", "SOA", "MX", "CNAME"},
		CacheTTL:     core.DefaultCacheTTL,
		Workers:      1,
		TLDSourceURL: tld.DefaultURL,
		TLDCacheDir:  tld.DefaultCacheDir(),
		RankingURL:   ranking.DefaultURL,
		MetricsAddr:  ":9090",
		ListenAddr:   ":8080",
	}
}

// FromEnv returns Default() overridden by DOMCLASS_* environment variables.
// Unparsable values are configuration errors.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var err error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = envError(key, v, perr)
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			f, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				err = envError(key, v, perr)
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			b, perr := strconv.ParseBool(v)
			if perr != nil {
				err = envError(key, v, perr)
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			d, perr := ParseDuration(v)
			if perr != nil {
				err = envError(key, v, perr)
				return
			}
			*dst = d
		}
	}

	list("DOMCLASS_NAMESERVERS", &cfg.Nameservers)
	integer("DOMCLASS_DNS_PORT", &cfg.Port)
	duration("DOMCLASS_QUERY_TIMEOUT", &cfg.QueryTimeout)
	list("DOMCLASS_RECORD_TYPES", &cfg.RecordTypes)
	duration("DOMCLASS_CACHE_TTL", &cfg.CacheTTL)
	duration("DOMCLASS_EXTRACT_TIMEOUT", &cfg.ExtractTimeout)
	str("DOMCLASS_REDIS_URL", &cfg.RedisURL)
	integer("DOMCLASS_WORKERS", &cfg.Workers)
	float("DOMCLASS_QPS", &cfg.QueriesPerSecond)
	boolean("DOMCLASS_PIN_WORKERS", &cfg.PinWorkers)
	boolean("DOMCLASS_NO_CACHE", &cfg.NoCache)
	str("DOMCLASS_TLD_URL", &cfg.TLDSourceURL)
	str("DOMCLASS_TLD_CACHE_DIR", &cfg.TLDCacheDir)
	str("DOMCLASS_RANKING_URL", &cfg.RankingURL)
	str("DOMCLASS_METRICS_ADDR", &cfg.MetricsAddr)
	str("DOMCLASS_LISTEN_ADDR", &cfg.ListenAddr)

	return cfg, err
}

// ParseDuration accepts Go durations ("1.5s") and bare numbers of seconds ("3600").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envError(key, value string, err error) error {
	return core.NewError(core.KindConfiguration, "config", fmt.Errorf("%s=%q: %w", key, value, err))
}

// Validate reports the first invalid setting as a KindConfiguration error.
func (c Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return core.NewError(core.KindConfiguration, "config", fmt.Errorf(format, args...))
	}

	if len(c.Nameservers) == 0 {
		return fail("no nameservers configured")
	}
	for _, ns := range c.Nameservers {
		if net.ParseIP(ns) == nil {
			return fail("nameserver %q is not an IP address", ns)
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return fail("dns port %d out of range", c.Port)
	}
	if c.QueryTimeout <= 0 {
		return fail("query timeout must be positive, got %v", c.QueryTimeout)
	}
	if len(c.RecordTypes) == 0 {
		return fail("no record types configured")
	}
	if _, err := c.RecordTypeCodes(); err != nil {
		return err
	}
	if c.CacheTTL < 0 {
		return fail("cache ttl must not be negative, got %v", c.CacheTTL)
	}
	if c.ExtractTimeout < 0 {
		return fail("extract timeout must not be negative, got %v", c.ExtractTimeout)
	}
	if c.Workers < 1 || c.Workers > core.MaxWorkers {
		return fail("workers must be between 1 and %d, got %d", core.MaxWorkers, c.Workers)
	}
	if c.QueriesPerSecond < 0 {
		return fail("qps must not be negative, got %v", c.QueriesPerSecond)
	}
	if c.RedisURL != "" {
		if _, err := redis.ParseURL(c.RedisURL); err != nil {
			return fail("redis url: %v", err)
		}
	}
	return nil
}

// RecordTypeCodes maps RecordTypes to RR type codes, keeping order.
func (c Config) RecordTypeCodes() ([]uint16, error) {
	out := make([]uint16, 0, len(c.RecordTypes))
	for _, s := range c.RecordTypes {
		t, err := dnsclient.TypeFromString(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
