package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hystericca/grimlink"
)

const appLabel = "grimlink"

// Metrics is the relay's observability sink. Message and termination counters
// are bumped inline; occupancy gauges are produced at scrape time by walking
// the registry without coordination, tolerating slightly stale counts. An
// evicted channel's per-channel series simply stops being emitted, keeping
// the exporter's label cardinality bounded.
type Metrics struct {
	reg *prometheus.Registry

	incoming prometheus.Counter
	outgoing prometheus.Counter

	terminated map[grimlink.TerminationReason]prometheus.Counter
}

func NewMetrics(registry *Registry) *Metrics {
	reg := prometheus.NewRegistry()
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"app": appLabel}, reg)

	m := &Metrics{
		reg: reg,
		incoming: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_incoming",
			Help: "Incoming messages",
		}),
		outgoing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_outgoing",
			Help: "Outgoing messages",
		}),
		terminated: map[grimlink.TerminationReason]prometheus.Counter{
			grimlink.TerminationHostConflict: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "connection_terminated_host",
				Help: "Terminated connection due to host already present",
			}),
			grimlink.TerminationSpam: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "connection_terminated_spam",
				Help: "Terminated connection due to message spam",
			}),
			grimlink.TerminationTimeout: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "connection_terminated_timeout",
				Help: "Terminated connection due to timeout",
			}),
			grimlink.TerminationValidate: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "connection_terminated_player_validate",
				Help: "Terminated connection due to player validation failure",
			}),
		},
	}

	wrapped.MustRegister(m.incoming, m.outgoing)
	for _, c := range m.terminated {
		wrapped.MustRegister(c)
	}
	wrapped.MustRegister(newOccupancyCollector(registry))
	return m
}

// IncIncoming counts one accepted inbound frame, before classification.
func (m *Metrics) IncIncoming() { m.incoming.Inc() }

// IncOutgoing counts one successful relay to a recipient.
func (m *Metrics) IncOutgoing() { m.outgoing.Inc() }

// Terminated counts a forced connection termination by reason.
func (m *Metrics) Terminated(reason grimlink.TerminationReason) {
	if c, ok := m.terminated[reason]; ok {
		c.Inc()
	}
}

// Handler returns the pull-style exposition endpoint for this sink.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// occupancyCollector derives concurrency gauges from the registry on every
// scrape, mirroring how counters backed by live state avoid drift.
type occupancyCollector struct {
	registry *Registry

	players    *prometheus.Desc
	channels   *prometheus.Desc
	perChannel *prometheus.Desc
}

func newOccupancyCollector(registry *Registry) *occupancyCollector {
	return &occupancyCollector{
		registry:   registry,
		players:    prometheus.NewDesc("players_concurrent", "Concurrent Players", nil, nil),
		channels:   prometheus.NewDesc("channels_concurrent", "Concurrent Channels", nil, nil),
		perChannel: prometheus.NewDesc("channel_players", "Players in each channel", []string{"name"}, nil),
	}
}

func (c *occupancyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.players
	ch <- c.channels
	ch <- c.perChannel
}

func (c *occupancyCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.registry.ChannelCounts()
	total := 0
	for _, n := range counts {
		total += n
	}
	ch <- prometheus.MustNewConstMetric(c.players, prometheus.GaugeValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.channels, prometheus.GaugeValue, float64(len(counts)))
	for name, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.perChannel, prometheus.GaugeValue, float64(n), name)
	}
}
