package ranking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDate(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 1, 13, 45, 0, 0, time.UTC)
	assert.Equal(t, "2025-02-28", DefaultDate(now).Format("2006-01-02"))
}

func TestBGPRankingRank(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got asnQuery
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/asn" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var q asnQuery
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &q)
		mu.Lock()
		got = q
		mu.Unlock()

		switch q.ASN {
		case "23456":
			_, _ = io.WriteString(w, `{"meta": {"asn": "23456"}, "response": {"asn_description": "TEST", "ranking": {"rank": 0.42, "position": 3, "total_known_asns": 15000}}}`)
		case "64496":
			_, _ = io.WriteString(w, `{"response": {"ranking": {}}}`)
		case "64497":
			_, _ = io.WriteString(w, `<html>`)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	b := NewBGPRanking(srv.URL+"/", srv.Client())
	ctx := context.Background()
	date := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)

	rank, ok := b.Rank(ctx, "AS23456", date)
	require.True(t, ok)
	assert.InDelta(t, 0.42, rank, 1e-9)
	mu.Lock()
	assert.Equal(t, asnQuery{ASN: "23456", AddressFamily: "v4", Date: "2025-01-02"}, got)
	mu.Unlock()

	tests := []struct {
		name string
		asn  string
	}{
		{"empty asn", ""},
		{"missing rank", "64496"},
		{"malformed body", "64497"},
		{"server error", "64498"},
	}
	for _, tt := range tests {
		_, ok := b.Rank(ctx, tt.asn, date)
		assert.False(t, ok, tt.name)
	}
}

func TestBGPRankingUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, ok := NewBGPRanking(url, nil).Rank(context.Background(), "23456", time.Now())
	assert.False(t, ok)
}
