package origin

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/domclass/internal/cache"
	"github.com/x-stp/domclass/internal/core"
	"github.com/x-stp/domclass/internal/dnsclient"
	"github.com/x-stp/domclass/internal/dnsclient/dnstest"
)

func TestReverseName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ip   string
		want string
	}{
		{"192.0.2.1", "1.2.0.192.origin.asn.cymru.com."},
		{"2001:db8::1", "1.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.origin6.asn.cymru.com."},
	}
	for _, tt := range tests {
		got, err := ReverseName(tt.ip)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ReverseName("not-an-ip")
	assert.True(t, core.IsKind(err, core.KindConfiguration))
}

func TestParseTXT(t *testing.T) {
	t.Parallel()

	info, err := ParseTXT(`"23456 | 192.0.2.0/24 | LU | ripencc | 2001-01-01"`)
	require.NoError(t, err)
	assert.Equal(t, "23456", info.ASN)
	assert.Equal(t, "192.0.2.0/24", info.Prefix)
	assert.Equal(t, "LU", info.CountryCode)
	assert.Equal(t, "ripencc", info.Registry)
	assert.Equal(t, "2001-01-01", info.Allocated)

	info, err = ParseTXT("3356 174 | 198.51.100.0/24 | US")
	require.NoError(t, err)
	assert.Equal(t, "3356 174", info.ASN)
	assert.Equal(t, "3356", info.PrimaryASN())
	assert.Empty(t, info.Registry)

	for _, bad := range []string{"", "garbage", "23456 | 192.0.2.0/24", " | 192.0.2.0/24 | LU"} {
		_, err := ParseTXT(bad)
		assert.True(t, core.IsKind(err, core.KindMalformedAnswer), "input %q", bad)
	}
	assert.Equal(t, "", (*Info)(nil).PrimaryASN())
}

func TestResolverLookup(t *testing.T) {
	t.Parallel()
	srv := dnstest.Start(t,
		`1.2.0.192.origin.asn.cymru.com. 300 IN TXT "23456 | 192.0.2.0/24 | LU | ripencc | 2001-01-01"`,
		`2.2.0.192.origin.asn.cymru.com. 300 IN TXT "garbage"`,
	)
	c, err := dnsclient.New([]string{srv.Addr}, srv.Port, 500*time.Millisecond, 0)
	require.NoError(t, err)

	store := cache.NewMemoryStore()
	r := New(c, cache.New(store), time.Minute)
	ctx := context.Background()

	info := r.Lookup(ctx, "192.0.2.1")
	require.NotNil(t, info)
	assert.Equal(t, "LU", info.CountryCode)

	served := srv.Queries()
	again := r.Lookup(ctx, "192.0.2.1")
	assert.Equal(t, info, again)
	assert.Equal(t, served, srv.Queries(), "second lookup must come from the cache")

	assert.Nil(t, r.Lookup(ctx, "192.0.2.2"), "malformed answer")
	assert.Nil(t, r.Lookup(ctx, "192.0.2.3"), "NXDOMAIN")
	assert.Nil(t, r.Lookup(ctx, "bogus"))

	ok, _ := store.Exists(ctx, "dom_class:origin:192.0.2.2")
	assert.False(t, ok)
}

type slowQuerier struct {
	calls atomic.Int32
}

func (s *slowQuerier) Query(_ context.Context, name string, _ uint16) dnsclient.Response {
	s.calls.Add(1)
	time.Sleep(50 * time.Millisecond)
	rr, _ := dns.NewRR(name + ` 60 IN TXT "64496 | 203.0.113.0/24 | BE | ripencc | 2010-01-01"`)
	return dnsclient.Response{Outcome: dnsclient.Answered, Records: []dns.RR{rr}}
}

func TestResolverDeduplicatesConcurrentLookups(t *testing.T) {
	t.Parallel()
	q := &slowQuerier{}
	r := New(q, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info := r.Lookup(context.Background(), "203.0.113.9")
			assert.NotNil(t, info)
			assert.Equal(t, "BE", info.CountryCode)
		}()
	}
	wg.Wait()
	assert.Less(t, q.calls.Load(), int32(8))
}
