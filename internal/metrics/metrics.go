package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session control metrics
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtspsource_session_state",
		Help: "1 for the current session state, 0 for the others",
	}, []string{"state"})

	controlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtspsource_control_requests_total",
		Help: "Control requests processed by the session worker",
	}, []string{"kind", "result"})

	controlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtspsource_control_request_duration_seconds",
		Help:    "Time from submission to completion of a control request",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
	}, []string{"kind"})

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtspsource_reconnects_scheduled_total",
		Help: "Reconnections scheduled, by failure cause",
	}, []string{"cause"})

	timerFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtspsource_supervisor_timer_fires_total",
		Help: "Supervisor timer firings by role",
	}, []string{"timer"})

	// RTP receive metrics
	rtpPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtspsource_rtp_packets_total",
		Help: "RTP packets received per media",
	}, []string{"media"})

	rtpBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtspsource_rtp_bytes_total",
		Help: "RTP payload bytes received per media",
	}, []string{"media"})

	rtpPacketsLostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtspsource_rtp_packets_lost_total",
		Help: "RTP packets detected lost from sequence gaps per media",
	}, []string{"media"})

	// Packet queue metrics
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtspsource_queue_depth",
		Help: "Samples waiting in a stream packet queue",
	}, []string{"stream"})

	queueDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtspsource_queue_dropped_total",
		Help: "Samples dropped because a packet queue exceeded its budget",
	}, []string{"stream"})

	playPosition = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtspsource_play_position_seconds",
		Help: "Current playback position of an output stream",
	}, []string{"stream"})
)

// States lists every label value SetSessionState writes.
var States = []string{"Initial", "SettingUp", "ReadyToPlay", "Playing", "Reconnecting"}

// SetSessionState marks state as current and clears the others.
func SetSessionState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

// ObserveControlRequest records one resolved control request.
func ObserveControlRequest(kind, result string, seconds float64) {
	controlRequestsTotal.WithLabelValues(kind, result).Inc()
	controlRequestDuration.WithLabelValues(kind).Observe(seconds)
}

func IncReconnect(cause string) {
	reconnectsTotal.WithLabelValues(cause).Inc()
}

func IncTimerFire(timer string) {
	timerFiresTotal.WithLabelValues(timer).Inc()
}

// AddRTP records received packets and payload bytes for a media.
func AddRTP(media string, packets, bytes int) {
	rtpPacketsTotal.WithLabelValues(media).Add(float64(packets))
	rtpBytesTotal.WithLabelValues(media).Add(float64(bytes))
}

func AddRTPLost(media string, lost int) {
	if lost > 0 {
		rtpPacketsLostTotal.WithLabelValues(media).Add(float64(lost))
	}
}

func SetQueueDepth(stream string, depth int) {
	queueDepth.WithLabelValues(stream).Set(float64(depth))
}

func IncQueueDropped(stream string) {
	queueDroppedTotal.WithLabelValues(stream).Inc()
}

func SetPlayPosition(stream string, seconds float64) {
	playPosition.WithLabelValues(stream).Set(seconds)
}
