package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentic-c-eda/sentinel/internal/watchdog"
)

// metrics owns the dashboard's Prometheus registry. The registry is
// per-server rather than global so tests can build servers freely.
type metrics struct {
	registry    *prometheus.Registry
	llmDuration prometheus.Histogram
}

func newMetrics(s *Server) *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		llmDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_llm_call_duration_seconds",
			Help:    "Wall time of chat-completion calls made by this process.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	reg.MustRegister(&stateCollector{s: s})
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeLLMCall(d time.Duration) {
	m.llmDuration.Observe(d.Seconds())
}

var (
	descEventsStored = prometheus.NewDesc("sentinel_events_stored",
		"Events currently in the store.", nil, nil)
	descEventsLastHour = prometheus.NewDesc("sentinel_events_last_hour",
		"Events stored in the last hour.", nil, nil)
	descDecisionsStored = prometheus.NewDesc("sentinel_decisions_stored",
		"Batch decisions currently in the store.", nil, nil)
	descFlagsPending = prometheus.NewDesc("sentinel_flags_pending",
		"Flags awaiting operator triage.", nil, nil)
	descFlagsToday = prometheus.NewDesc("sentinel_flags_today",
		"Flags raised since local midnight.", nil, nil)

	descRawLines = prometheus.NewDesc("sentinel_pipeline_raw_lines_total",
		"Log lines read by the daemon's tailer.", nil, nil)
	descNoiseFiltered = prometheus.NewDesc("sentinel_pipeline_noise_filtered_total",
		"Lines dropped by the noise gate.", nil, nil)
	descTrustFiltered = prometheus.NewDesc("sentinel_pipeline_trust_filtered_total",
		"Lines dropped by the trust filter.", nil, nil)
	descParseFailed = prometheus.NewDesc("sentinel_pipeline_parse_failed_total",
		"Lines that matched no event rule.", nil, nil)
	descEventsEmitted = prometheus.NewDesc("sentinel_pipeline_events_emitted_total",
		"Normalized events emitted by the pipeline.", nil, nil)
	descParseLatency = prometheus.NewDesc("sentinel_pipeline_parse_latency_microseconds",
		"Smoothed per-line parse latency.", nil, nil)

	descPTYSessions = prometheus.NewDesc("sentinel_pty_sessions_active",
		"Sessions currently held by the PTY service.", nil, nil)
)

// stateCollector reads the store, the daemon's persisted pipeline
// snapshot and the PTY session table at scrape time. Sources that are
// unreachable simply contribute no samples.
type stateCollector struct {
	s *Server
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descEventsStored
	ch <- descEventsLastHour
	ch <- descDecisionsStored
	ch <- descFlagsPending
	ch <- descFlagsToday
	ch <- descRawLines
	ch <- descNoiseFiltered
	ch <- descTrustFiltered
	ch <- descParseFailed
	ch <- descEventsEmitted
	ch <- descParseLatency
	ch <- descPTYSessions
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	if st, err := c.s.db.Stats(); err == nil {
		ch <- prometheus.MustNewConstMetric(descEventsStored, prometheus.GaugeValue, float64(st.TotalEvents))
		ch <- prometheus.MustNewConstMetric(descEventsLastHour, prometheus.GaugeValue, float64(st.EventsLastHour))
		ch <- prometheus.MustNewConstMetric(descDecisionsStored, prometheus.GaugeValue, float64(st.TotalDecisions))
		ch <- prometheus.MustNewConstMetric(descFlagsPending, prometheus.GaugeValue, float64(st.PendingFlags))
		ch <- prometheus.MustNewConstMetric(descFlagsToday, prometheus.GaugeValue, float64(st.FlagsToday))
	}

	if raw := c.s.db.GetConfig("pipeline_stats", ""); raw != "" {
		var snap watchdog.Stats
		if err := json.Unmarshal([]byte(raw), &snap); err == nil {
			ch <- prometheus.MustNewConstMetric(descRawLines, prometheus.CounterValue, float64(snap.RawLines))
			ch <- prometheus.MustNewConstMetric(descNoiseFiltered, prometheus.CounterValue, float64(snap.NoiseFiltered))
			ch <- prometheus.MustNewConstMetric(descTrustFiltered, prometheus.CounterValue, float64(snap.TrustFiltered))
			ch <- prometheus.MustNewConstMetric(descParseFailed, prometheus.CounterValue, float64(snap.ParseFailed))
			ch <- prometheus.MustNewConstMetric(descEventsEmitted, prometheus.CounterValue, float64(snap.EventsOutput))
			ch <- prometheus.MustNewConstMetric(descParseLatency, prometheus.GaugeValue, snap.AvgParseLatencyUS)
		}
	}

	if sessions, err := c.s.pty.ListSessions(); err == nil {
		ch <- prometheus.MustNewConstMetric(descPTYSessions, prometheus.GaugeValue, float64(len(sessions)))
	}
}
