package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the chat-side counters. All handlers share one instance
// registered against the app registry.
type Metrics struct {
	pollChecks  *prometheus.CounterVec
	badCursors  prometheus.Counter
	writes      *prometheus.CounterVec
	listFetches *prometheus.CounterVec
}

// NewMetrics registers the chat collectors with reg. The watermark age
// gauge reads mark at scrape time.
func NewMetrics(reg prometheus.Registerer, mark *Watermark) *Metrics {
	m := &Metrics{
		pollChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_poll_checks_total",
			Help: "Freshness poll checks served, by result.",
		}, []string{"result"}),
		badCursors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_poll_bad_cursors_total",
			Help: "Poll requests whose Last-Update header was missing or unparsable.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_message_writes_total",
			Help: "Successful message mutations, by operation.",
		}, []string{"op"}),
		listFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_message_fetches_total",
			Help: "Message list reads served, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.pollChecks, m.badCursors, m.writes, m.listFetches)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "parley_watermark_age_seconds",
		Help: "Seconds since the freshness watermark last advanced.",
	}, func() float64 {
		return time.Since(mark.Time()).Seconds()
	}))
	return m
}

func (m *Metrics) pollCheck(hasUpdates bool) {
	if m == nil {
		return
	}
	result := "no_change"
	if hasUpdates {
		result = "updates"
	}
	m.pollChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) badCursor() {
	if m == nil {
		return
	}
	m.badCursors.Inc()
}

func (m *Metrics) write(op string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(op).Inc()
}

func (m *Metrics) listFetch(kind string) {
	if m == nil {
		return
	}
	m.listFetches.WithLabelValues(kind).Inc()
}
