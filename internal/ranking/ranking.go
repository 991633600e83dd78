// Package ranking queries an ASN reputation service.
package ranking

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
	"net/http"
	"strings"
	"time"

	"github.com/x-stp/domclass/internal/client"
	"github.com/x-stp/domclass/internal/core"
	"github.com/x-stp/domclass/internal/metrics"
)

// DefaultURL is the public CIRCL BGP Ranking instance.
const DefaultURL = "https://bgpranking-ng.circl.lu/"

// Ranker returns the reputation rank of an ASN on a given day. ok is false when no rank
// is available for any reason.
type Ranker interface {
	Rank(ctx context.Context, asn string, date time.Time) (rank float64, ok bool)
}

// DefaultDate is the reference day used when the caller has none: the day before now.
func DefaultDate(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d-1, 0, 0, 0, 0, now.Location())
}

// BGPRanking is a Ranker backed by the BGP Ranking JSON API.
type BGPRanking struct {
	baseURL string
	hc      *http.Client
}

// NewBGPRanking creates a client for the service at baseURL ("" means DefaultURL).
func NewBGPRanking(baseURL string, hc *http.Client) *BGPRanking {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &BGPRanking{baseURL: strings.TrimRight(baseURL, "/"), hc: hc}
}

type asnQuery struct {
	ASN           string `json:"asn"`
	AddressFamily string `json:"address_family"`
	Date          string `json:"date"`
}

type asnResponse struct {
	Response struct {
		Ranking struct {
			Rank *float64 `json:"rank"`
		} `json:"ranking"`
	} `json:"response"`
}

// Rank implements Ranker.
func (b *BGPRanking) Rank(ctx context.Context, asn string, date time.Time) (float64, bool) {
	m := metrics.GetMetrics()
	asn = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(asn)), "AS")
	if asn == "" {
		m.RecordRanking("skipped")
		return 0, false
	}

	var out asnResponse
	err := client.PostJSON(ctx, b.hc, b.baseURL+"/json/asn", asnQuery{
		ASN:           asn,
		AddressFamily: "v4",
		Date:          date.Format("2006-01-02"),
	}, &out)
	if err != nil {
		log.Printf("ranking: AS%s: %v", asn, err)
		m.RecordRanking(outcome(err))
		return 0, false
	}
	if out.Response.Ranking.Rank == nil {
		log.Printf("ranking: AS%s: %v", asn, core.NewError(core.KindMalformedAnswer, "bgpranking", errors.New("no rank in response")))
		m.RecordRanking("malformed")
		return 0, false
	}
	m.RecordRanking("ok")
	return *out.Response.Ranking.Rank, true
}

func outcome(err error) string {
	var e *core.Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	return "error"
}
