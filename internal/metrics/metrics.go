package metrics

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
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// DNS metrics
	DNSQueriesTotal    *prometheus.CounterVec
	DNSQueryDuration   *prometheus.HistogramVec
	OriginLookupsTotal *prometheus.CounterVec
	RankingRequests    *prometheus.CounterVec
	CacheRequestsTotal *prometheus.CounterVec

	// Extraction metrics
	ExtractRunsTotal *prometheus.CounterVec
	ExtractDuration  prometheus.Histogram
	CandidatesFound  prometheus.Counter

	// Scheduler metrics
	SchedulerWorkSubmitted prometheus.Counter
	SchedulerWorkCompleted prometheus.Counter
	SchedulerWorkFailed    *prometheus.CounterVec
	WorkerPanics           *prometheus.CounterVec
	QueueBackpressureHit   *prometheus.CounterVec
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled = true
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// Registry exposes the registry so other servers can mount the handler.
func Registry() *prometheus.Registry {
	return registry
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

	return &Metrics{
		DNSQueriesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domclass_dns_queries_total",
				Help: "Total number of DNS queries by record type and outcome",
			},
			[]string{"rtype", "outcome"},
		),
		DNSQueryDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domclass_dns_query_duration_seconds",
				Help:    "Time spent on DNS queries",
				Buckets: buckets,
			},
			[]string{"rtype"},
		),
		OriginLookupsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domclass_origin_lookups_total",
				Help: "Total number of ASN origin lookups",
			},
			[]string{"outcome"},
		),
		RankingRequests: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domclass_ranking_requests_total",
				Help: "Total number of reputation ranking requests",
			},
			[]string{"outcome"},
		),
		CacheRequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domclass_cache_requests_total",
				Help: "Resolution cache lookups by scope and result",
			},
			[]string{"scope", "result"},
		),
		ExtractRunsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domclass_extract_runs_total",
				Help: "Candidate extraction runs by outcome",
			},
			[]string{"outcome"},
		),
		ExtractDuration: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "domclass_extract_duration_seconds",
				Help:    "Time spent extracting candidates from raw text",
				Buckets: buckets,
			},
		),
		CandidatesFound: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "domclass_candidates_found_total",
				Help: "Total number of distinct candidates extracted",
			},
		),
		SchedulerWorkSubmitted: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "domclass_scheduler_work_submitted_total",
				Help: "Total number of work items submitted to the scheduler",
			},
		),
		SchedulerWorkCompleted: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "domclass_scheduler_work_completed_total",
				Help: "Total number of work items completed by the scheduler",
			},
		),
		SchedulerWorkFailed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domclass_scheduler_work_failed_total",
				Help: "Total number of work items that failed processing",
			},
			[]string{"error_type"},
		),
		WorkerPanics: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domclass_worker_panics_total",
				Help: "Total number of panics recovered by a worker",
			},
			[]string{"worker_id"},
		),
		QueueBackpressureHit: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domclass_queue_backpressure_hits_total",
				Help: "Number of times backpressure was applied due to full queue",
			},
			[]string{"worker_id"},
		),
	}
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string) error {
	if !metricsEnabled {
		return nil
	}

	// Only start once
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", Handler())

		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Printf("Starting metrics server on %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	})

	return nil
}

// Handler returns the promhttp handler bound to the application registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		log.Println("Shutting down metrics server...")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// RecordDNSQuery counts one DNS query and observes its latency.
func (m *Metrics) RecordDNSQuery(rtype, outcome string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	m.DNSQueriesTotal.WithLabelValues(rtype, outcome).Inc()
	m.DNSQueryDuration.WithLabelValues(rtype).Observe(d.Seconds())
}

// RecordCache counts a cache lookup as hit or miss for scope.
func (m *Metrics) RecordCache(scope string, hit bool) {
	if !metricsEnabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(scope, result).Inc()
}

// RecordExtract records one extraction run.
func (m *Metrics) RecordExtract(outcome string, d time.Duration, found int) {
	if !metricsEnabled {
		return
	}
	m.ExtractRunsTotal.WithLabelValues(outcome).Inc()
	m.ExtractDuration.Observe(d.Seconds())
	m.CandidatesFound.Add(float64(found))
}

// RecordOriginLookup counts an origin lookup by outcome.
func (m *Metrics) RecordOriginLookup(outcome string) {
	if !metricsEnabled {
		return
	}
	m.OriginLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordRanking counts a ranking request by outcome.
func (m *Metrics) RecordRanking(outcome string) {
	if !metricsEnabled {
		return
	}
	m.RankingRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordWorkSubmitted() {
	if !metricsEnabled {
		return
	}
	m.SchedulerWorkSubmitted.Inc()
}

func (m *Metrics) RecordWorkCompleted() {
	if !metricsEnabled {
		return
	}
	m.SchedulerWorkCompleted.Inc()
}

func (m *Metrics) RecordWorkFailed(errorType string) {
	if !metricsEnabled {
		return
	}
	m.SchedulerWorkFailed.WithLabelValues(errorType).Inc()
}

func (m *Metrics) RecordWorkerPanic(workerID string) {
	if !metricsEnabled {
		return
	}
	m.WorkerPanics.WithLabelValues(workerID).Inc()
}

func (m *Metrics) RecordBackpressure(workerID string) {
	if !metricsEnabled {
		return
	}
	m.QueueBackpressureHit.WithLabelValues(workerID).Inc()
}
