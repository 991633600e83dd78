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
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/domclass/internal/cache"
	"github.com/x-stp/domclass/internal/core"
	"github.com/x-stp/domclass/internal/dnsclient"
	"github.com/x-stp/domclass/internal/origin"
	"github.com/x-stp/domclass/internal/validate"
)

type fakeDNS struct {
	records map[string][]dns.RR
}

func newFakeDNS(t *testing.T, lines ...string) *fakeDNS {
	t.Helper()
	f := &fakeDNS{records: map[string][]dns.RR{}}
	for _, l := range lines {
		rr, err := dns.NewRR(l)
		require.NoError(t, err)
		name := strings.TrimSuffix(rr.Header().Name, ".")
		f.records[name] = append(f.records[name], rr)
	}
	return f
}

func (f *fakeDNS) Query(_ context.Context, name string, qtype uint16) dnsclient.Response {
	var out []dns.RR
	for _, rr := range f.records[strings.TrimSuffix(name, ".")] {
		if rr.Header().Rrtype == qtype {
			out = append(out, rr)
		}
	}
	if len(out) == 0 {
		return dnsclient.Response{Outcome: dnsclient.NoAnswer}
	}
	return dnsclient.Response{Outcome: dnsclient.Answered, Records: out}
}

func (f *fakeDNS) LookupA(ctx context.Context, host string) []string {
	var ips []string
	for _, rr := range f.Query(ctx, host, dns.TypeA).Records {
		ips = append(ips, dnsclient.RData(rr))
	}
	return ips
}

func (f *fakeDNS) Resolver() string { return "192.0.2.53" }

type fakeTLDs struct {
	set map[string]bool
	err error
}

func (f fakeTLDs) Load(context.Context) error { return f.err }
func (f fakeTLDs) Contains(label string) bool { return f.set[strings.ToLower(label)] }

type fakeOrigins map[string]*origin.Info

func (f fakeOrigins) Lookup(_ context.Context, ip string) *origin.Info { return f[ip] }

type fakeRanker map[string]float64

func (f fakeRanker) Rank(_ context.Context, asn string, _ time.Time) (float64, bool) {
	r, ok := f[asn]
	return r, ok
}

func newTestClassifier(t *testing.T, d *fakeDNS) *Classifier {
	t.Helper()
	return New(Deps{
		DNS:   d,
		Cache: cache.New(cache.NewMemoryStore()),
		TLDs:  fakeTLDs{set: map[string]bool{"lu": true, "com": true, "be": true}},
		Origins: fakeOrigins{
			"192.0.2.1":    {ASN: "23456", CountryCode: "LU"},
			"198.51.100.1": {ASN: "64500", CountryCode: "US"},
			"203.0.113.5":  {ASN: "64501", CountryCode: "LU"},
		},
		Ranker: fakeRanker{"23456": 0.42, "64501": 0.1},
		Now:    func() time.Time { return time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC) },
	})
}

func TestPotentialDomainsTLDFilter(t *testing.T) {
	t.Parallel()
	c := newTestClassifier(t, newFakeDNS(t))
	c.Text(context.Background(), "www.foo.lu www.xxx.com abc.lu a.b.c.d.e foo.be")

	assert.Equal(t, []string{"www.foo.lu", "www.xxx.com", "abc.lu", "a.b.c.d.e", "foo.be"}, c.PotentialDomains(context.Background(), false))
	assert.Equal(t, []string{"www.foo.lu", "www.xxx.com", "abc.lu", "foo.be"}, c.PotentialDomains(context.Background(), true))
	assert.Equal(t, []string{"www.foo.lu", "www.xxx.com", "abc.lu", "foo.be"}, c.Candidates())
}

func TestPotentialDomainsWithoutTLDList(t *testing.T) {
	t.Parallel()
	c := New(Deps{DNS: newFakeDNS(t), TLDs: fakeTLDs{err: core.NewError(core.KindSourceUnavailable, "tld fetch", errors.New("offline"))}})
	c.Text(context.Background(), "foo.lu a.b.c.d.e")

	assert.Equal(t, []string{"foo.lu", "a.b.c.d.e"}, c.PotentialDomains(context.Background(), true))
}

func TestPotentialDomainsWithDeadline(t *testing.T) {
	t.Parallel()
	c := New(Deps{
		DNS:            newFakeDNS(t),
		Cache:          cache.New(cache.NewMemoryStore()),
		TLDs:           fakeTLDs{},
		ExtractTimeout: 5 * time.Second,
	})
	c.Text(context.Background(), "b.lu a.lu b.lu c.be")
	assert.Equal(t, []string{"b.lu", "a.lu", "c.be"}, c.PotentialDomains(context.Background(), false))
}

func TestValidDomainsModes(t *testing.T) {
	t.Parallel()
	d := newFakeDNS(t,
		"foo.lu. 300 IN A 192.0.2.1",
		"foo.lu. 300 IN MX 10 mx.foo.lu.",
	)
	c := newTestClassifier(t, d)
	c.Text(context.Background(), "foo.lu nope.lu")
	c.PotentialDomains(context.Background(), true)
	ctx := context.Background()

	assert.Equal(t, []validate.Record{
		validate.ExtendedRecord{Domain: "foo.lu", Type: "A", Value: "192.0.2.1"},
		validate.ExtendedRecord{Domain: "foo.lu", Type: "MX", Value: "10 mx.foo.lu."},
	}, c.ValidDomains(ctx, validate.ModeExtended, nil))

	assert.Equal(t, []validate.Record{validate.CompactRecord{Domain: "foo.lu"}}, c.ValidDomains(ctx, validate.ModeCompact, nil))

	lines := c.ValidDomains(ctx, validate.ModePassiveDNS, nil)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0].String(), "||127.0.0.1||192.0.2.53||IN||foo.lu||A||192.0.2.1||300||1"), lines[0].String())

	mx := c.ValidDomains(ctx, validate.ModeExtended, []uint16{dns.TypeMX})
	assert.Equal(t, []validate.Record{validate.ExtendedRecord{Domain: "foo.lu", Type: "MX", Value: "10 mx.foo.lu."}}, mx)
}

func TestRankDomains(t *testing.T) {
	t.Parallel()
	d := newFakeDNS(t,
		"bar.lu. 300 IN A 198.51.100.1",
		"foo.lu. 300 IN A 192.0.2.1",
		"mail.foo.lu. 300 IN MX 10 foo.lu.",
	)
	c := newTestClassifier(t, d)
	c.Text(context.Background(), "bar.lu foo.lu mail.foo.lu")
	c.PotentialDomains(context.Background(), true)
	c.ValidDomains(context.Background(), validate.ModeExtended, nil)

	got := c.RankDomains(context.Background())
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Rank)
	assert.InDelta(t, 0.42, *got[0].Rank, 1e-9)
	assert.Equal(t, "foo.lu", got[0].Domain)
	assert.Nil(t, got[1].Rank, "missing ranks sort last")
	assert.Equal(t, "bar.lu", got[1].Domain)
}

func TestRankDomainsFollowsCNAME(t *testing.T) {
	t.Parallel()
	d := newFakeDNS(t,
		"www.foo.lu. 300 IN CNAME edge.cdn.lu.",
		"edge.cdn.lu. 300 IN A 203.0.113.5",
		"dangling.lu. 300 IN CNAME gone.lu.",
	)
	c := newTestClassifier(t, d)
	c.Text(context.Background(), "www.foo.lu dangling.lu")
	c.PotentialDomains(context.Background(), true)
	c.ValidDomains(context.Background(), validate.ModeExtended, nil)

	got := c.RankDomains(context.Background())
	require.Len(t, got, 1, "an unresolvable CNAME is left out")
	assert.Equal(t, "www.foo.lu", got[0].Domain)
	require.NotNil(t, got[0].Rank)
	assert.InDelta(t, 0.1, *got[0].Rank, 1e-9)

	local := c.LocalizeDomains(context.Background(), "LU")
	assert.Equal(t, []validate.ExtendedRecord{{Domain: "www.foo.lu", Type: "CNAME", Value: "edge.cdn.lu."}}, local)
}

func TestLocalizeDomains(t *testing.T) {
	t.Parallel()
	d := newFakeDNS(t,
		"foo.lu. 300 IN A 192.0.2.1",
		"bar.com. 300 IN A 198.51.100.1",
		"unknown.be. 300 IN A 233.252.0.1",
	)
	c := newTestClassifier(t, d)
	c.Text(context.Background(), "foo.lu bar.com unknown.be")
	c.PotentialDomains(context.Background(), true)
	c.ValidDomains(context.Background(), validate.ModeExtended, nil)

	assert.Equal(t, []validate.ExtendedRecord{{Domain: "foo.lu", Type: "A", Value: "192.0.2.1"}}, c.LocalizeDomains(context.Background(), "LU"))
	assert.Equal(t, []validate.ExtendedRecord{{Domain: "bar.com", Type: "A", Value: "198.51.100.1"}}, c.LocalizeDomains(context.Background(), "us"))
	assert.Empty(t, c.LocalizeDomains(context.Background(), "FR"))
}

func TestTextResetsDerivedState(t *testing.T) {
	t.Parallel()
	d := newFakeDNS(t, "foo.lu. 300 IN A 192.0.2.1")
	c := newTestClassifier(t, d)
	c.Text(context.Background(), "foo.lu")
	c.PotentialDomains(context.Background(), true)
	c.ValidDomains(context.Background(), validate.ModeExtended, nil)
	require.NotEmpty(t, c.RankDomains(context.Background()))

	assert.Equal(t, []string{"bar.lu"}, c.Text(context.Background(), "bar.lu nope.zz"))
	assert.Empty(t, c.RankDomains(context.Background()))
	assert.Empty(t, c.Answers())
	assert.Empty(t, c.LocalizeDomains(context.Background(), "LU"))
	assert.Equal(t, []string{"bar.lu"}, c.Candidates(), "new text is scanned right away")

	inc, err := c.Include(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"bar.lu"}, inc, "filters work on the new candidates")
}

func TestTextScansWithoutPotentialDomains(t *testing.T) {
	t.Parallel()
	d := newFakeDNS(t, "bar.lu. 300 IN A 198.51.100.1")
	c := newTestClassifier(t, d)
	c.Text(context.Background(), "bar.lu a.b.c.d.e")

	assert.Equal(t, []validate.Record{validate.CompactRecord{Domain: "bar.lu"}}, c.ValidDomains(context.Background(), validate.ModeCompact, nil))
}

func TestIncludeExcludePartition(t *testing.T) {
	t.Parallel()
	d := newFakeDNS(t,
		"www.foo.lu. 300 IN A 192.0.2.1",
		"www.foo.lu. 300 IN MX 10 mx.foo.lu.",
		"abc.lu. 300 IN A 192.0.2.1",
		"foo.be. 300 IN A 192.0.2.1",
	)
	c := newTestClassifier(t, d)
	c.Text(context.Background(), "www.foo.lu www.xxx.com abc.lu foo.be www.foo.lu")
	c.PotentialDomains(context.Background(), true)

	check := func(t *testing.T, working []string) {
		for _, p := range []string{"foo", `\.lu$`, "^www", "zzz", ""} {
			inc, err := c.Include(p)
			require.NoError(t, err)
			exc, err := c.Exclude(p)
			require.NoError(t, err)

			union := append(append([]string(nil), inc...), exc...)
			sort.Strings(union)
			want := append([]string(nil), working...)
			sort.Strings(want)
			assert.Equal(t, want, union, "pattern %q", p)
			for _, x := range inc {
				assert.NotContains(t, exc, x, "pattern %q", p)
			}
		}
	}

	t.Run("candidates", func(t *testing.T) {
		check(t, []string{"www.foo.lu", "www.xxx.com", "abc.lu", "foo.be"})
	})

	c.ValidDomains(context.Background(), validate.ModeExtended, nil)
	t.Run("validated", func(t *testing.T) {
		check(t, []string{"www.foo.lu", "abc.lu", "foo.be"})
		inc, err := c.Include("foo")
		require.NoError(t, err)
		assert.Equal(t, []string{"www.foo.lu", "foo.be"}, inc, "one entry per domain, first-occurrence order")
	})
}

func TestIncludeBadPattern(t *testing.T) {
	t.Parallel()
	c := newTestClassifier(t, newFakeDNS(t))
	_, err := c.Include("(")
	assert.True(t, core.IsKind(err, core.KindConfiguration))
	_, err = c.Exclude("[a-")
	assert.True(t, core.IsKind(err, core.KindConfiguration))
}

func TestIPAddresses(t *testing.T) {
	t.Parallel()
	d := newFakeDNS(t,
		"foo.lu. 300 IN A 192.0.2.1",
		"www.foo.lu. 300 IN A 192.0.2.1",
		"bar.com. 300 IN A 198.51.100.1",
	)
	c := newTestClassifier(t, d)
	c.Text(context.Background(), "foo.lu www.foo.lu nope.lu bar.com")
	c.PotentialDomains(context.Background(), false)

	assert.Equal(t, []string{"192.0.2.1", "198.51.100.1"}, c.IPAddresses(context.Background()))

	origins := c.IPOrigins(context.Background())
	require.Len(t, origins, 2)
	assert.Equal(t, "LU", origins[0].Origin.CountryCode)
	assert.Equal(t, "US", origins[1].Origin.CountryCode)
}

func TestSortRanked(t *testing.T) {
	t.Parallel()
	f := func(v float64) *float64 { return &v }
	r := []RankedDomain{{nil, "a"}, {f(0.5), "b"}, {nil, "c"}, {f(0.1), "d"}, {f(0.5), "e"}}
	SortRanked(r)

	var got []string
	for _, x := range r {
		got = append(got, x.Domain)
	}
	assert.Equal(t, []string{"d", "b", "e", "a", "c"}, got)
	assert.Equal(t, "0.1 d", r[0].String())
	assert.Equal(t, "- a", r[3].String())
}
