package monitoring

import (
	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	endpointsConnected prometheus.Gauge
	broadcastsActive   prometheus.Gauge
	authFailuresTotal  prometheus.Counter

	envelopesRoutedTotal  *prometheus.CounterVec
	envelopesDroppedTotal *prometheus.CounterVec
	joinDenialsTotal      *prometheus.CounterVec
	broadcastViewerCount  *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return newCollector(promauto.With(prometheus.DefaultRegisterer))
}

// NewPrometheusCollectorWith registers all metrics on the given
// registerer. Used by tests to avoid duplicate registration panics.
func NewPrometheusCollectorWith(reg prometheus.Registerer) *PrometheusCollector {
	return newCollector(promauto.With(reg))
}

func newCollector(factory promauto.Factory) *PrometheusCollector {
	return &PrometheusCollector{
		endpointsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "classpilot_endpoints_connected",
			Help: "Number of authenticated endpoints with a live channel",
		}),

		broadcastsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "classpilot_broadcasts_active",
			Help: "Number of broadcasts currently running",
		}),

		authFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "classpilot_auth_failures_total",
			Help: "Total number of rejected auth envelopes",
		}),

		envelopesRoutedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classpilot_envelopes_routed_total",
			Help: "Total number of envelopes forwarded by the relay",
		}, []string{"type"}),

		envelopesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classpilot_envelopes_dropped_total",
			Help: "Total number of envelopes dropped by the relay",
		}, []string{"reason"}),

		joinDenialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classpilot_join_denials_total",
			Help: "Total number of viewer join requests denied by the guard",
		}, []string{"reason"}),

		broadcastViewerCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classpilot_broadcast_viewer_count",
			Help: "Number of connected viewers per broadcaster",
		}, []string{"broadcaster_id"}),
	}
}

func (p *PrometheusCollector) RecordEndpointConnected() {
	p.endpointsConnected.Inc()
}

func (p *PrometheusCollector) RecordEndpointDisconnected() {
	p.endpointsConnected.Dec()
}

func (p *PrometheusCollector) RecordAuthFailure() {
	p.authFailuresTotal.Inc()
}

func (p *PrometheusCollector) RecordEnvelopeRouted(msgType string) {
	p.envelopesRoutedTotal.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) RecordEnvelopeDropped(reason string) {
	p.envelopesDroppedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordJoinDenied(reason string) {
	p.joinDenialsTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordBroadcastStarted(broadcasterID domain.UserID) {
	p.broadcastsActive.Inc()
	p.broadcastViewerCount.WithLabelValues(string(broadcasterID)).Set(0)
}

func (p *PrometheusCollector) RecordBroadcastEnded(broadcasterID domain.UserID) {
	p.broadcastsActive.Dec()
	p.broadcastViewerCount.DeleteLabelValues(string(broadcasterID))
}
