/*
Package origin attributes IP addresses to their announcing autonomous system and country
using the Team Cymru IP-to-ASN DNS service:

	1.2.0.192.origin.asn.cymru.com. TXT "23456 | 192.0.2.0/24 | LU | ripencc | 2001-01-01"

IPv6 addresses are looked up under origin6.asn.cymru.com with nibble-reversed names.
*/
package origin

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
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/x-stp/domclass/internal/cache"
	"github.com/x-stp/domclass/internal/core"
	"github.com/x-stp/domclass/internal/dnsclient"
	"github.com/x-stp/domclass/internal/metrics"
)

const (
	// ZoneV4 answers origin queries for IPv4 addresses.
	ZoneV4 = "origin.asn.cymru.com."
	// ZoneV6 answers origin queries for IPv6 addresses.
	ZoneV6 = "origin6.asn.cymru.com."
)

// Info is the parsed origin of an address.
type Info struct {
	ASN         string `json:"asn"`
	Prefix      string `json:"prefix,omitempty"`
	CountryCode string `json:"country_code"`
	Registry    string `json:"registry,omitempty"`
	Allocated   string `json:"allocated,omitempty"`
	Raw         string `json:"raw"`
}

// PrimaryASN returns the first ASN when a prefix is announced by several.
func (i *Info) PrimaryASN() string {
	if i == nil {
		return ""
	}
	if f := strings.Fields(i.ASN); len(f) > 0 {
		return f[0]
	}
	return ""
}

// Querier is the DNS dependency of the resolver.
type Querier interface {
	Query(ctx context.Context, name string, qtype uint16) dnsclient.Response
}

// ReverseName returns the origin query name for ip.
func ReverseName(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", core.NewError(core.KindConfiguration, "origin", fmt.Errorf("%q is not an IP address", ip))
	}
	arpa, err := dns.ReverseAddr(parsed.String())
	if err != nil {
		return "", core.NewError(core.KindConfiguration, "origin", err)
	}
	if parsed.To4() != nil {
		return strings.TrimSuffix(arpa, "in-addr.arpa.") + ZoneV4, nil
	}
	return strings.TrimSuffix(arpa, "ip6.arpa.") + ZoneV6, nil
}

// ParseTXT parses a Cymru origin answer. At least ASN, prefix and country must be present.
func ParseTXT(raw string) (*Info, error) {
	fields := strings.Split(strings.Trim(strings.TrimSpace(raw), "\""), "|")
	if len(fields) < 3 {
		return nil, core.NewError(core.KindMalformedAnswer, "origin txt", fmt.Errorf("expected at least 3 fields in %q", raw))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(strings.Trim(strings.TrimSpace(fields[i]), "\""))
	}
	info := &Info{ASN: fields[0], Prefix: fields[1], CountryCode: fields[2], Raw: raw}
	if len(fields) > 3 {
		info.Registry = fields[3]
	}
	if len(fields) > 4 {
		info.Allocated = fields[4]
	}
	if info.ASN == "" {
		return nil, core.NewError(core.KindMalformedAnswer, "origin txt", errors.New("empty ASN"))
	}
	return info, nil
}

// Resolver looks up origins, caching the raw TXT answer per IP.
type Resolver struct {
	q     Querier
	cache *cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// New creates a resolver. c may be nil; ttl <= 0 means core.DefaultCacheTTL.
func New(q Querier, c *cache.Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = core.DefaultCacheTTL
	}
	return &Resolver{q: q, cache: c, ttl: ttl}
}

// Lookup returns the origin of ip, or nil when there is none. Concurrent lookups of one
// address share a single query.
func (r *Resolver) Lookup(ctx context.Context, ip string) *Info {
	m := metrics.GetMetrics()

	if members, ok := r.cache.Get(ctx, cache.ScopeOrigin, ip); ok {
		if info, err := ParseTXT(members[0]); err == nil {
			m.RecordOriginLookup("cached")
			return info
		}
		r.cache.Delete(ctx, cache.ScopeOrigin, ip)
	}

	v, _, _ := r.group.Do(ip, func() (interface{}, error) {
		return r.lookup(ctx, ip), nil
	})
	info, _ := v.(*Info)
	return info
}

func (r *Resolver) lookup(ctx context.Context, ip string) *Info {
	m := metrics.GetMetrics()

	name, err := ReverseName(ip)
	if err != nil {
		log.Printf("origin: %v", err)
		m.RecordOriginLookup("invalid")
		return nil
	}

	resp := r.q.Query(ctx, name, dns.TypeTXT)
	switch resp.Outcome {
	case dnsclient.Answered:
	case dnsclient.NoAnswer:
		m.RecordOriginLookup("no_answer")
		return nil
	default:
		m.RecordOriginLookup("failed")
		return nil
	}

	raw := dnsclient.RData(resp.Records[0])
	info, err := ParseTXT(raw)
	if err != nil {
		log.Printf("origin: %s: %v", ip, err)
		m.RecordOriginLookup("malformed")
		return nil
	}
	r.cache.Put(ctx, cache.ScopeOrigin, ip, []string{raw}, r.ttl)
	m.RecordOriginLookup("answered")
	return info
}
