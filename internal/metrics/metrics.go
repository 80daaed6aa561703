// Package metrics exposes Prometheus counters for ingestion, generation and
// storage calls.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schizoid/markovbot/internal/markov"
)

// Collector holds all metrics of the process on a private registry.
type Collector struct {
	registry *prometheus.Registry

	SentencesIngested  *prometheus.CounterVec
	SentencesGenerated *prometheus.CounterVec
	GeneratedTokens    prometheus.Histogram

	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
}

var _ markov.Observer = (*Collector)(nil)

// NewCollector creates the metrics under namespace and registers them along
// with the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		SentencesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sentences_ingested_total",
				Help:      "Sentences ingested, by outcome.",
			},
			[]string{"outcome"},
		),
		SentencesGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sentences_generated_total",
				Help:      "Sentence generations, by outcome.",
			},
			[]string{"outcome"},
		),
		GeneratedTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generated_tokens",
				Help:      "Tokens per generated sentence.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Storage calls, by operation and status.",
			},
			[]string{"operation", "status"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Storage call latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.SentencesIngested,
		c.SentencesGenerated,
		c.GeneratedTokens,
		c.StoreOperations,
		c.StoreDuration,
	)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SentenceIngested implements markov.Observer.
func (c *Collector) SentenceIngested(_ string, _ int, err error) {
	c.SentencesIngested.WithLabelValues(outcome(err)).Inc()
}

// SentenceGenerated implements markov.Observer.
func (c *Collector) SentenceGenerated(_ string, tokens int, err error) {
	c.SentencesGenerated.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		c.GeneratedTokens.Observe(float64(tokens))
	}
}

// outcome maps an error to a low-cardinality label value.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, markov.ErrNoData):
		return "no_data"
	case errors.Is(err, markov.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, markov.ErrStorageUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func (c *Collector) observe(op string, start time.Time, err error) {
	c.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	c.StoreOperations.WithLabelValues(op, outcome(err)).Inc()
}
