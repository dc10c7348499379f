// Package metrics counts detections and exposes them to Prometheus and to
// in-process subscribers (the status endpoint).
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guardian"

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Detections        int64 `json:"detections"`
	Advisories        int64 `json:"advisories"`
	Criticals         int64 `json:"criticals"`
	Blocks            int64 `json:"blocks"`
	Suppressed        int64 `json:"suppressed"`
	Sealed            int64 `json:"sealed"`
	SealFailures      int64 `json:"sealFailures"`
	AlertFailures     int64 `json:"alertFailures"`
	LastTimeToBlockMs int64 `json:"lastTimeToBlockMs"`
	PublishedAtMs     int64 `json:"publishedAt"`
}

// Metrics holds one registry per instance; nothing is global.
type Metrics struct {
	registry *prometheus.Registry

	detections    prometheus.Counter
	advisories    *prometheus.CounterVec
	criticals     prometheus.Counter
	blocks        prometheus.Counter
	suppressed    prometheus.Counter
	sealed        prometheus.Counter
	sealFailures  prometheus.Counter
	alertFailures prometheus.Counter
	timeToBlock   prometheus.Histogram
	lockdown      prometheus.Gauge

	snap struct {
		detections      atomic.Int64
		advisories      atomic.Int64
		criticals       atomic.Int64
		blocks          atomic.Int64
		suppressed      atomic.Int64
		sealed          atomic.Int64
		sealFailures    atomic.Int64
		alertFailures   atomic.Int64
		lastTimeToBlock atomic.Int64
	}

	mu          sync.Mutex
	nextID      int
	subscribers map[int]func(Snapshot)
	last        Snapshot
}

func New() *Metrics {
	m := &Metrics{
		registry:    prometheus.NewRegistry(),
		subscribers: make(map[int]func(Snapshot)),
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	m.detections = counter("rule_detections_total", "Messages with at least one rule hit")
	m.advisories = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "advisories_total",
		Help:      "Advisories surfaced, by label",
	}, []string{"label"})
	m.criticals = counter("critical_detections_total", "CRITICAL detections")
	m.blocks = counter("blocks_total", "Block side-effects invoked")
	m.suppressed = counter("suppressed_total", "Hits suppressed by cooldown")
	m.sealed = counter("evidence_sealed_total", "Evidence packets sealed and stored")
	m.sealFailures = counter("evidence_failures_total", "Evidence seal or store failures")
	m.alertFailures = counter("alert_failures_total", "Parent alert dispatch failures")
	m.timeToBlock = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "time_to_block_seconds",
		Help:      "Delay between message timestamp and block",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
	m.lockdown = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lockdown_active",
		Help:      "1 while lockdown is active",
	})

	m.registry.MustRegister(
		m.detections, m.advisories, m.criticals, m.blocks, m.suppressed,
		m.sealed, m.sealFailures, m.alertFailures, m.timeToBlock, m.lockdown,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// IncDetections satisfies rules.DetectionCounter.
func (m *Metrics) IncDetections() {
	m.detections.Inc()
	m.snap.detections.Add(1)
}

func (m *Metrics) IncAdvisory(label string) {
	m.advisories.WithLabelValues(label).Inc()
	m.snap.advisories.Add(1)
}

func (m *Metrics) IncCritical() {
	m.criticals.Inc()
	m.snap.criticals.Add(1)
}

func (m *Metrics) IncBlock() {
	m.blocks.Inc()
	m.snap.blocks.Add(1)
}

func (m *Metrics) IncSuppressed() {
	m.suppressed.Inc()
	m.snap.suppressed.Add(1)
}

func (m *Metrics) IncSealed() {
	m.sealed.Inc()
	m.snap.sealed.Add(1)
}

func (m *Metrics) IncSealFailure() {
	m.sealFailures.Inc()
	m.snap.sealFailures.Add(1)
}

func (m *Metrics) IncAlertFailure() {
	m.alertFailures.Inc()
	m.snap.alertFailures.Add(1)
}

func (m *Metrics) ObserveTimeToBlock(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.timeToBlock.Observe(d.Seconds())
	m.snap.lastTimeToBlock.Store(d.Milliseconds())
}

func (m *Metrics) SetLockdown(active bool) {
	if active {
		m.lockdown.Set(1)
		return
	}
	m.lockdown.Set(0)
}

// Current reads the counters without publishing.
func (m *Metrics) Current() Snapshot {
	return Snapshot{
		Detections:        m.snap.detections.Load(),
		Advisories:        m.snap.advisories.Load(),
		Criticals:         m.snap.criticals.Load(),
		Blocks:            m.snap.blocks.Load(),
		Suppressed:        m.snap.suppressed.Load(),
		Sealed:            m.snap.sealed.Load(),
		SealFailures:      m.snap.sealFailures.Load(),
		AlertFailures:     m.snap.alertFailures.Load(),
		LastTimeToBlockMs: m.snap.lastTimeToBlock.Load(),
	}
}

// Publish stamps the current counters and hands them to every subscriber.
func (m *Metrics) Publish(nowMs int64) Snapshot {
	s := m.Current()
	s.PublishedAtMs = nowMs

	m.mu.Lock()
	m.last = s
	subs := make([]func(Snapshot), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
	return s
}

// Last returns the most recently published snapshot.
func (m *Metrics) Last() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Subscribe registers fn for every Publish. The returned func unsubscribes.
func (m *Metrics) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
