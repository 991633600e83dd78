// Package validate checks candidates against DNS and keeps every answer, so any output
// mode can be projected from one validation pass.
package validate

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
	"log"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/x-stp/domclass/internal/cache"
	"github.com/x-stp/domclass/internal/core"
	"github.com/x-stp/domclass/internal/dnsclient"
)

// DefaultTypes is the record type order queried for each candidate.
var DefaultTypes = []uint16{dns.TypeA, dns.TypeAAAA, dns.TypeSOA, dns.TypeMX, dns.TypeCNAME}

// Querier is the DNS dependency of the validator.
type Querier interface {
	Query(ctx context.Context, name string, qtype uint16) dnsclient.Response
}

// Options tunes a Validator.
type Options struct {
	Types        []uint16      // nil means DefaultTypes
	TTL          time.Duration // cache expiration; <= 0 means core.DefaultCacheTTL
	Workers      int           // > 1 validates candidates in parallel
	PerWorkerQPS float64
	PinWorkers   bool
}

// Validator resolves candidates, consulting and filling the validation cache.
type Validator struct {
	q     Querier
	cache *cache.Cache
	opts  Options
}

// New creates a validator. c may be nil to disable caching.
func New(q Querier, c *cache.Cache, opts Options) *Validator {
	if len(opts.Types) == 0 {
		opts.Types = DefaultTypes
	}
	if opts.TTL <= 0 {
		opts.TTL = core.DefaultCacheTTL
	}
	return &Validator{q: q, cache: c, opts: opts}
}

// Types returns the default record types of v.
func (v *Validator) Types() []uint16 {
	return append([]uint16(nil), v.opts.Types...)
}

// Lookup returns every answer for domain across types (nil means the configured set), in
// type order. A cached entry is returned as is; otherwise DNS is queried and a non-empty
// result is cached. NXDOMAIN, NODATA and failures yield no answers for that type.
func (v *Validator) Lookup(ctx context.Context, domain string, types []uint16) []Answer {
	if len(types) == 0 {
		types = v.opts.Types
	}
	id := v.cacheID(domain, types)

	if members, ok := v.cache.Get(ctx, cache.ScopeValidation, id); ok {
		if answers, ok := decode(domain, members); ok {
			return answers
		}
	}

	answers := make([]Answer, 0, len(types))
	for _, t := range types {
		resp := v.q.Query(ctx, domain, t)
		if resp.Outcome != dnsclient.Answered {
			continue
		}
		typ := dnsclient.TypeString(t)
		for _, rr := range resp.Records {
			answers = append(answers, Answer{
				Domain: domain,
				Type:   typ,
				Value:  dnsclient.RData(rr),
				Class:  dnsclient.ClassString(rr.Header().Class),
				TTL:    rr.Header().Ttl,
			})
		}
	}

	if len(answers) > 0 {
		members := make([]string, len(answers))
		for i, a := range answers {
			members[i] = a.serialize(i)
		}
		v.cache.Put(ctx, cache.ScopeValidation, id, members, v.opts.TTL)
	}
	return answers
}

// Validate looks up every domain and returns the answers in candidate order. Domains
// without any answer contribute nothing.
func (v *Validator) Validate(ctx context.Context, domains []string, types []uint16) []Answer {
	per := make([][]Answer, len(domains))

	if v.opts.Workers > 1 && len(domains) > 1 {
		v.validateParallel(ctx, domains, types, per)
	} else {
		for i, d := range domains {
			per[i] = v.Lookup(ctx, d, types)
		}
	}

	out := make([]Answer, 0, len(domains))
	for _, answers := range per {
		out = append(out, answers...)
	}
	return out
}

func (v *Validator) validateParallel(ctx context.Context, domains []string, types []uint16, per [][]Answer) {
	s, err := core.NewScheduler(ctx, core.SchedulerOptions{
		Workers:      v.opts.Workers,
		PerWorkerQPS: v.opts.PerWorkerQPS,
		PinWorkers:   v.opts.PinWorkers,
	})
	if err != nil {
		log.Printf("validate: scheduler unavailable, validating sequentially: %v", err)
		for i, d := range domains {
			per[i] = v.Lookup(ctx, d, types)
		}
		return
	}
	defer s.Shutdown()

	for i, d := range domains {
		i, d := i, d
		err := s.SubmitWait(ctx, d, func(ctx context.Context) error {
			per[i] = v.Lookup(ctx, d, types)
			return nil
		})
		if err != nil {
			if errors.Is(err, core.ErrQueueFull) {
				per[i] = v.Lookup(ctx, d, types)
				continue
			}
			log.Printf("validate: %s not submitted: %v", d, err)
		}
	}
	s.Wait()
}

// cacheID is the domain itself for the configured type set, so the key reads
// "dom_class:cache:{domain}"; other type sets get their own entry.
func (v *Validator) cacheID(domain string, types []uint16) string {
	if sameTypes(types, v.opts.Types) {
		return domain
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = dnsclient.TypeString(t)
	}
	return domain + "/" + strings.Join(names, ",")
}

func sameTypes(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// decode parses cached members back into answers in their stored order. Entries that
// do not parse are logged and skipped; an entry with no usable member counts as a miss.
func decode(domain string, members []string) ([]Answer, bool) {
	type ordered struct {
		n int
		a Answer
	}
	items := make([]ordered, 0, len(members))
	for _, m := range members {
		a, n, err := parseAnswer(m)
		if err != nil {
			log.Printf("validate: %v", core.NewError(core.KindMalformedAnswer, "cache entry for "+domain, err))
			continue
		}
		items = append(items, ordered{n: n, a: a})
	}
	if len(items) == 0 {
		return nil, false
	}
	sort.Slice(items, func(i, j int) bool { return items[i].n < items[j].n })

	out := make([]Answer, len(items))
	for i, it := range items {
		out[i] = it.a
	}
	return out, true
}
