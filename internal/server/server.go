/*
Package server exposes the classifier over HTTP. Each request gets its own Classifier; the
DNS client, cache and TLD set are shared.
*/
package server

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
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/x-stp/domclass/internal/classifier"
	"github.com/x-stp/domclass/internal/core"
	"github.com/x-stp/domclass/internal/dnsclient"
	"github.com/x-stp/domclass/internal/metrics"
	"github.com/x-stp/domclass/internal/validate"
)

const (
	// MaxRequestBody caps the size of a classify request.
	MaxRequestBody = 8 << 20

	// HandlerTimeout bounds a classify request end to end.
	HandlerTimeout = 2 * time.Minute
)

// ClassifyRequest is the body of POST /v1/classify.
type ClassifyRequest struct {
	Text     string   `json:"text"`
	ValidTLD *bool    `json:"valid_tld,omitempty"` // default true
	Validate bool     `json:"validate"`
	Mode     string   `json:"mode,omitempty"`
	Types    []string `json:"types,omitempty"`
	Country  string   `json:"country,omitempty"`
	Rank     bool     `json:"rank"`
	IPs      bool     `json:"ips"`
	Include  string   `json:"include,omitempty"`
	Exclude  string   `json:"exclude,omitempty"`
}

// ClassifyResponse carries every result the request asked for.
type ClassifyResponse struct {
	Candidates []string                  `json:"candidates"`
	Records    []validate.Record         `json:"records,omitempty"`
	Localized  []validate.ExtendedRecord `json:"localized,omitempty"`
	Ranked     []classifier.RankedDomain `json:"ranked,omitempty"`
	IPs        []classifier.IPOrigin     `json:"ips,omitempty"`
	Included   []string                  `json:"included,omitempty"`
	Excluded   []string                  `json:"excluded,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Handler serves the classify API.
type Handler struct {
	deps classifier.Deps
}

// New creates a handler. deps is copied into a fresh Classifier per request.
func New(deps classifier.Deps) *Handler {
	return &Handler{deps: deps}
}

// Routes returns the router with every endpoint mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(HandlerTimeout))

	r.Get("/healthz", h.handleHealth)
	r.Post("/v1/classify", h.handleClassify)
	if metrics.IsMetricsEnabled() {
		r.Handle("/metrics", metrics.Handler())
	}
	return r
}

// NewHTTPServer wraps handler in a server with sane header timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req ClassifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, core.NewError(core.KindConfiguration, "decode request", err))
		return
	}

	resp, err := h.classify(r, req)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Printf("server: %s classified %d candidates in %v", middleware.GetReqID(ctx), len(resp.Candidates), time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) classify(r *http.Request, req ClassifyRequest) (*ClassifyResponse, error) {
	ctx := r.Context()

	mode, err := validate.ParseMode(req.Mode)
	if err != nil {
		return nil, core.NewError(core.KindConfiguration, "mode", err)
	}
	var types []uint16
	for _, s := range req.Types {
		t, err := dnsclient.TypeFromString(s)
		if err != nil {
			return nil, core.NewError(core.KindConfiguration, "types", err)
		}
		types = append(types, t)
	}

	c := classifier.New(h.deps)
	candidates := c.Text(ctx, req.Text)
	if req.ValidTLD != nil && !*req.ValidTLD {
		candidates = c.PotentialDomains(ctx, false)
	}
	resp := &ClassifyResponse{Candidates: candidates}

	if req.Validate || req.Country != "" || req.Rank {
		resp.Records = c.ValidDomains(ctx, mode, types)
	}
	if req.Country != "" {
		resp.Localized = c.LocalizeDomains(ctx, req.Country)
	}
	if req.Rank {
		resp.Ranked = c.RankDomains(ctx)
	}
	if req.IPs {
		resp.IPs = c.IPOrigins(ctx)
	}
	if req.Include != "" {
		if resp.Included, err = c.Include(req.Include); err != nil {
			return nil, err
		}
	}
	if req.Exclude != "" {
		if resp.Excluded, err = c.Exclude(req.Exclude); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var e *core.Error
	if errors.As(err, &e) {
		resp.Kind = e.Kind.String()
		if e.Kind == core.KindConfiguration {
			status = http.StatusBadRequest
		}
	}
	if status == http.StatusInternalServerError {
		log.Printf("server: %v", err)
		resp.Error = fmt.Sprintf("internal error: %v", err)
	}
	writeJSON(w, status, resp)
}
