/*
Package classifier ties the pipeline together for one text submission: candidate extraction
under a deadline, TLD filtering, DNS validation, origin attribution, ranking and the
include/exclude filters.

A Classifier holds the derived state of its current text and is not safe for concurrent use.
Create one per submission; the cache, TLD set and DNS client behind it may be shared.
*/
package classifier

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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/x-stp/domclass/internal/cache"
	"github.com/x-stp/domclass/internal/core"
	"github.com/x-stp/domclass/internal/extract"
	"github.com/x-stp/domclass/internal/origin"
	"github.com/x-stp/domclass/internal/ranking"
	"github.com/x-stp/domclass/internal/tld"
	"github.com/x-stp/domclass/internal/validate"
)

// DNS is what the classifier needs from a resolver. *dnsclient.Client implements it.
type DNS interface {
	validate.Querier
	LookupA(ctx context.Context, host string) []string
	Resolver() string
}

// TLDSet is the TLD filter source. *tld.Set implements it.
type TLDSet interface {
	Load(ctx context.Context) error
	Contains(label string) bool
}

// OriginResolver attributes an IP address. *origin.Resolver implements it.
type OriginResolver interface {
	Lookup(ctx context.Context, ip string) *origin.Info
}

// Deps wires a Classifier. Only DNS is required.
type Deps struct {
	DNS     DNS
	Cache   *cache.Cache   // nil disables caching and scratch handoff
	TLDs    TLDSet         // nil means tld.Default()
	Origins OriginResolver // nil means an origin.Resolver over DNS and Cache
	Ranker  ranking.Ranker // nil leaves every rank empty

	RecordTypes      []uint16      // nil means validate.DefaultTypes
	ExtractTimeout   time.Duration // <= 0 extracts inline
	CacheTTL         time.Duration
	Workers          int
	QueriesPerSecond float64
	PinWorkers       bool
	Now              func() time.Time
}

// RankedDomain is a domain with the reputation rank of its origin ASN.
type RankedDomain struct {
	Rank   *float64 `json:"rank"`
	Domain string   `json:"domain"`
}

func (r RankedDomain) String() string {
	if r.Rank == nil {
		return "- " + r.Domain
	}
	return strconv.FormatFloat(*r.Rank, 'f', -1, 64) + " " + r.Domain
}

// IPOrigin is an address with its origin, nil when unknown.
type IPOrigin struct {
	IP     string       `json:"ip"`
	Origin *origin.Info `json:"origin"`
}

func (o IPOrigin) String() string {
	if o.Origin == nil {
		return o.IP
	}
	return o.IP + " " + o.Origin.Raw
}

// Classifier runs the pipeline over one text.
type Classifier struct {
	deps      Deps
	executor  *core.BoundedExecutor
	validator *validate.Validator
	origins   OriginResolver

	text       string
	candidates []string
	answers    []validate.Answer
	validated  bool
}

// New creates a classifier with no text.
func New(deps Deps) *Classifier {
	if deps.TLDs == nil {
		deps.TLDs = tld.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	origins := deps.Origins
	if origins == nil {
		origins = origin.New(deps.DNS, deps.Cache, deps.CacheTTL)
	}
	return &Classifier{
		deps:     deps,
		executor: core.NewBoundedExecutor(deps.ExtractTimeout, deps.Cache),
		validator: validate.New(deps.DNS, deps.Cache, validate.Options{
			Types:        deps.RecordTypes,
			TTL:          deps.CacheTTL,
			Workers:      deps.Workers,
			PerWorkerQPS: deps.QueriesPerSecond,
			PinWorkers:   deps.PinWorkers,
		}),
		origins: origins,
	}
}

// Text replaces the submission, drops every result derived from the previous one and
// rescans it with the TLD filter on. The new candidates are returned and stay current
// until the next Text or PotentialDomains call.
func (c *Classifier) Text(ctx context.Context, text string) []string {
	c.text = text
	return c.PotentialDomains(ctx, true)
}

func (c *Classifier) reset() {
	c.answers = nil
	c.validated = false
}

// PotentialDomains extracts the candidates of the current text. With validTLD, candidates
// whose last label is not a known TLD are dropped; when no TLD list can be loaded the
// filter is skipped with a warning. A new candidate set invalidates earlier validation.
func (c *Classifier) PotentialDomains(ctx context.Context, validTLD bool) []string {
	candidates := c.executor.Run(ctx, c.text, extract.Candidates)

	if validTLD {
		if err := c.deps.TLDs.Load(ctx); err != nil {
			log.Printf("tld: list unavailable, TLD filter skipped: %v", err)
		} else {
			candidates = extract.FilterTLD(candidates, c.deps.TLDs.Contains)
		}
	}

	c.candidates = candidates
	c.reset()
	return append([]string(nil), candidates...)
}

// Candidates returns the current candidate set without rescanning.
func (c *Classifier) Candidates() []string {
	return append([]string(nil), c.candidates...)
}

// ValidDomains validates the current candidates and projects the answers in mode. types
// overrides the configured record types for this call.
func (c *Classifier) ValidDomains(ctx context.Context, mode validate.Mode, types []uint16) []validate.Record {
	c.answers = c.validator.Validate(ctx, c.candidates, types)
	c.validated = true
	return validate.Project(c.answers, mode, c.deps.DNS.Resolver(), c.deps.Now())
}

// Answers returns every answer of the last validation.
func (c *Classifier) Answers() []validate.Answer {
	return append([]validate.Answer(nil), c.answers...)
}

// IPAddresses resolves every candidate to its first IPv4 address and returns the distinct
// addresses in candidate order. Candidates that do not resolve are skipped.
func (c *Classifier) IPAddresses(ctx context.Context) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(c.candidates))
	for _, d := range c.candidates {
		ips := c.deps.DNS.LookupA(ctx, d)
		if len(ips) == 0 {
			continue
		}
		if _, ok := seen[ips[0]]; ok {
			continue
		}
		seen[ips[0]] = struct{}{}
		out = append(out, ips[0])
	}
	return out
}

// IPOrigins is IPAddresses with the origin of each address attached.
func (c *Classifier) IPOrigins(ctx context.Context) []IPOrigin {
	ips := c.IPAddresses(ctx)
	out := make([]IPOrigin, 0, len(ips))
	for _, ip := range ips {
		out = append(out, IPOrigin{IP: ip, Origin: c.origins.Lookup(ctx, ip)})
	}
	return out
}

// addressable returns the A and CNAME records of the last validation, one per
// (domain, type), in answer order.
func (c *Classifier) addressable() []validate.ExtendedRecord {
	var out []validate.ExtendedRecord
	for _, r := range validate.Project(c.answers, validate.ModeExtended, "", time.Time{}) {
		rec := r.(validate.ExtendedRecord)
		if rec.Type == "A" || rec.Type == "CNAME" {
			out = append(out, rec)
		}
	}
	return out
}

// originOf attributes an A or CNAME record. A CNAME is first resolved to an address.
func (c *Classifier) originOf(ctx context.Context, rec validate.ExtendedRecord) (*origin.Info, bool) {
	ip := rec.Value
	if rec.Type == "CNAME" {
		ips := c.deps.DNS.LookupA(ctx, rec.Value)
		if len(ips) == 0 {
			return nil, false
		}
		ip = ips[0]
	}
	return c.origins.Lookup(ctx, ip), true
}

// LocalizeDomains keeps the validated A and CNAME records whose origin country is cc.
// Records that cannot be attributed are dropped.
func (c *Classifier) LocalizeDomains(ctx context.Context, cc string) []validate.ExtendedRecord {
	out := make([]validate.ExtendedRecord, 0)
	for _, rec := range c.addressable() {
		info, ok := c.originOf(ctx, rec)
		if !ok || info == nil {
			continue
		}
		if strings.EqualFold(info.CountryCode, cc) {
			out = append(out, rec)
		}
	}
	return out
}

// RankDomains ranks every validated A and CNAME record by the reputation of its origin
// ASN, ascending. Entries without a rank sort last; ties keep answer order. A CNAME that
// cannot be attributed is left out. Without a prior validation the result is empty.
func (c *Classifier) RankDomains(ctx context.Context) []RankedDomain {
	out := make([]RankedDomain, 0)
	if !c.validated {
		return out
	}
	date := ranking.DefaultDate(c.deps.Now())

	type key struct {
		domain string
		rank   float64
		ranked bool
	}
	seen := make(map[key]struct{})
	for _, rec := range c.addressable() {
		info, ok := c.originOf(ctx, rec)
		if !ok || (info == nil && rec.Type == "CNAME") {
			continue
		}
		entry := RankedDomain{Domain: rec.Domain}
		if asn := info.PrimaryASN(); asn != "" && c.deps.Ranker != nil {
			if rank, ok := c.deps.Ranker.Rank(ctx, asn, date); ok {
				entry.Rank = &rank
			}
		}

		k := key{domain: entry.Domain, ranked: entry.Rank != nil}
		if entry.Rank != nil {
			k.rank = *entry.Rank
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, entry)
	}

	SortRanked(out)
	return out
}

// SortRanked orders by ascending rank with missing ranks last, keeping the relative order
// of equal entries.
func SortRanked(r []RankedDomain) {
	sort.SliceStable(r, func(i, j int) bool {
		a, b := r[i].Rank, r[j].Rank
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

// workingSet is the validated domains when validation has run, else the candidates,
// distinct and in first-occurrence order.
func (c *Classifier) workingSet() []string {
	if !c.validated {
		return append([]string(nil), c.candidates...)
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, a := range c.answers {
		if _, ok := seen[a.Domain]; ok {
			continue
		}
		seen[a.Domain] = struct{}{}
		out = append(out, a.Domain)
	}
	return out
}

// Include returns the working-set domains matching pattern. A pattern that does not
// compile is a KindConfiguration error.
func (c *Classifier) Include(pattern string) ([]string, error) {
	return c.filter("include", pattern, true)
}

// Exclude returns the working-set domains not matching pattern. Include and Exclude of
// one pattern partition the working set.
func (c *Classifier) Exclude(pattern string) ([]string, error) {
	return c.filter("exclude", pattern, false)
}

func (c *Classifier) filter(op, pattern string, keep bool) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, core.NewError(core.KindConfiguration, op, err)
	}
	out := make([]string, 0)
	for _, d := range c.workingSet() {
		if re.MatchString(d) == keep {
			out = append(out, d)
		}
	}
	return out, nil
}
