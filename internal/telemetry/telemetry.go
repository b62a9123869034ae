// Package telemetry centralizes the store's structured logging and
// metrics surface behind the stable event names spec.md's External
// Interfaces section implies (store.query.*, store.cache.<name>.*,
// store.loader.*, store.reasoner.*). Grounded on the zap
// sugared-logger-plus-prometheus-registry idiom pervasive in erigon's
// command/service wiring.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Telemetry bundles a logger and the store's prometheus collectors. A
// nil *Telemetry is valid and turns every method into a no-op, so
// packages under test can pass nil rather than construct a registry.
type Telemetry struct {
	log *zap.Logger

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	opErrors    *prometheus.CounterVec
}

// New registers the store's metrics on reg and wraps log. Pass a
// fresh prometheus.NewRegistry() per Store in tests to avoid
// cross-test collector collisions.
func New(log *zap.Logger, reg prometheus.Registerer) (*Telemetry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Telemetry{
		log: log,
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "store", Subsystem: "cache", Name: "hits_total",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "store", Subsystem: "cache", Name: "misses_total",
		}, []string{"cache"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "store", Name: "op_duration_seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "store", Name: "op_errors_total",
		}, []string{"op", "kind"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{t.cacheHits, t.cacheMisses, t.opDuration, t.opErrors} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// Noop returns a Telemetry that logs nowhere and registers nothing,
// for packages wired without a Store (unit tests, one-off tools).
func Noop() *Telemetry {
	t, _ := New(zap.NewNop(), nil)
	return t
}

// CacheEvent records a single cache probe outcome under the named
// cache (spec.md §9's per-cache hit/miss telemetry requirement).
func (t *Telemetry) CacheEvent(cache string, hit bool) {
	if t == nil {
		return
	}
	if hit {
		t.cacheHits.WithLabelValues(cache).Inc()
	} else {
		t.cacheMisses.WithLabelValues(cache).Inc()
	}
}

// ObserveOp records the wall-clock duration of op, typically via
// defer t.ObserveOp("store.query")(time.Now()).
func (t *Telemetry) ObserveOp(op string) func(time.Time) {
	if t == nil {
		return func(time.Time) {}
	}
	return func(start time.Time) {
		t.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// OpError records that op failed with the given error kind string
// (errs.Kind.String()), driving the store.*.errors telemetry series.
func (t *Telemetry) OpError(op, kind string) {
	if t == nil {
		return
	}
	t.opErrors.WithLabelValues(op, kind).Inc()
}

// Event logs a structured, stable-named event at info level — the
// store.query.*/store.loader.*/store.reasoner.* event vocabulary.
func (t *Telemetry) Event(name string, fields ...zap.Field) {
	if t == nil {
		return
	}
	t.log.Info(name, fields...)
}

// Logger exposes the underlying zap logger for callers that need to
// attach it to a longer-lived component (e.g. internal/loader's
// worker pool).
func (t *Telemetry) Logger() *zap.Logger {
	if t == nil {
		return zap.NewNop()
	}
	return t.log
}
