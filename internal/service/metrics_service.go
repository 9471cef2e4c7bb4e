package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
)

// MetricsService owns the Prometheus collectors of the scheduling core.
// A nil *MetricsService is valid and records nothing.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	generationRuns     prometheus.Counter
	generationDuration prometheus.Histogram
	slotsCreated       prometheus.Counter
	slotsSkipped       prometheus.Counter
	generationFailures prometheus.Counter

	bookingOutcomes *prometheus.CounterVec
	bookingDuration *prometheus.HistogramVec
	bookingRetries  prometheus.Counter

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	generationRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slot_generation_runs_total",
		Help: "Number of completed slot generation runs",
	})

	generationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_generation_duration_seconds",
		Help:    "Duration of slot generation runs",
		Buckets: prometheus.DefBuckets,
	})

	slotsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slot_generation_slots_created_total",
		Help: "Slots inserted by the generator",
	})

	slotsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slot_generation_slots_skipped_total",
		Help: "Slots the generator found already present",
	})

	generationFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slot_generation_doctor_failures_total",
		Help: "Doctors whose generation failed",
	})

	bookingOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_outcomes_total",
		Help: "Booking checks and creations by outcome",
	}, []string{"operation", "outcome"})

	bookingDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booking_duration_seconds",
		Help:    "Duration of booking checks and creations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	bookingRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_transient_retries_total",
		Help: "Booking attempts retried after a transient store error",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "availability_cache_hits_total",
		Help: "Availability lookups served from cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "availability_cache_misses_total",
		Help: "Availability lookups computed from the store",
	})

	registry.MustRegister(
		generationRuns, generationDuration, slotsCreated, slotsSkipped, generationFailures,
		bookingOutcomes, bookingDuration, bookingRetries,
		cacheHits, cacheMisses,
	)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		generationRuns:     generationRuns,
		generationDuration: generationDuration,
		slotsCreated:       slotsCreated,
		slotsSkipped:       slotsSkipped,
		generationFailures: generationFailures,
		bookingOutcomes:    bookingOutcomes,
		bookingDuration:    bookingDuration,
		bookingRetries:     bookingRetries,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *MetricsService) ObserveGeneration(summary *model.GenerationSummary, duration time.Duration) {
	if m == nil || summary == nil {
		return
	}
	m.generationRuns.Inc()
	m.generationDuration.Observe(duration.Seconds())
	m.slotsCreated.Add(float64(summary.SlotsCreated))
	m.slotsSkipped.Add(float64(summary.Skipped))
	m.generationFailures.Add(float64(len(summary.Failures)))
}

// ObserveBooking records one CheckAvailability or CreateBooking call.
// outcome is the outcome kind, or "error" for infrastructure failures.
func (m *MetricsService) ObserveBooking(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.bookingOutcomes.WithLabelValues(operation, outcome).Inc()
	m.bookingDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *MetricsService) IncBookingRetry() {
	if m == nil {
		return
	}
	m.bookingRetries.Inc()
}

func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}
