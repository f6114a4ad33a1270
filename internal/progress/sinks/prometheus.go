package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvisser/tablehawk/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns all
// collectors for runs started/completed/running and per-city page counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pagesFetched  *prometheus.CounterVec
	detailsDone   *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	records       *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tablehawk_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablehawk_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tablehawk_runs_running",
			Help: "Current number of running crawls.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tablehawk_run_duration_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablehawk_pages_fetched_total",
			Help: "Listing page completions partitioned by city and status class.",
		}, []string{"city", "status_class"}),
		detailsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablehawk_details_fetched_total",
			Help: "Detail page completions partitioned by city and status class.",
		}, []string{"city", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablehawk_fetch_bytes_total",
			Help: "Bytes downloaded per city.",
		}, []string{"city"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tablehawk_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by city and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"city", "status_class"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablehawk_records_total",
			Help: "Validated records extracted per city.",
		}, []string{"city"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pagesFetched,
		s.detailsDone,
		s.fetchBytes,
		s.fetchDuration,
		s.records,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StagePageDone:
		s.handlePageEvent(evt)
	case progress.StageDetailDone:
		s.handleDetailEvent(evt)
	case progress.StageRecord:
		s.countRecords(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeDuration(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeDuration(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeDuration(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) countRecords(evt progress.Event) {
	if evt.Records > 0 {
		s.records.WithLabelValues(cityLabel(evt)).Add(float64(evt.Records))
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	city := cityLabel(evt)
	statusClass := statusLabel(evt)
	s.pagesFetched.WithLabelValues(city, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(city).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(city, statusClass).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleDetailEvent(evt progress.Event) {
	city := cityLabel(evt)
	statusClass := statusLabel(evt)
	s.detailsDone.WithLabelValues(city, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(city).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(city, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func cityLabel(evt progress.Event) string {
	if evt.City == "" {
		return "unknown"
	}
	return evt.City
}

func statusLabel(evt progress.Event) string {
	if evt.StatusClass == "" {
		return string(progress.StatusOther)
	}
	return string(evt.StatusClass)
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
