package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshmodem"

var (
	registerOnce sync.Once

	statusRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "requests_total",
			Help:      "Status API requests by route and component.",
		},
		[]string{"service", "route", "component", "code"},
	)
	statusDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "request_duration_seconds",
			Help:      "Status API latency in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5},
		},
		[]string{"service", "route"},
	)
	kissFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kiss",
			Name:      "frames_total",
			Help:      "KISS frames crossing the serial link.",
		},
		[]string{"direction", "command"},
	)
	kissDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kiss",
			Name:      "dropped_frames_total",
			Help:      "Frames discarded for bad escapes, overflow or invalid requests.",
		},
	)
	radioPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "radio",
			Name:      "packets_total",
			Help:      "Packets transmitted and received over the air.",
		},
		[]string{"direction"},
	)
	radioAirtime = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "radio",
			Name:      "airtime_seconds_total",
			Help:      "Cumulative transmit airtime.",
		},
	)
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Outbound message transmissions by route.",
		},
		[]string{"route"},
	)
	deliveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "outcomes_total",
			Help:      "Terminal outcomes of outbound messages.",
		},
		[]string{"outcome"},
	)
	duplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "duplicates_total",
			Help:      "Inbound messages suppressed as duplicates.",
		},
		[]string{"kind"},
	)
	clockCorrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timesync",
			Name:      "corrections_total",
			Help:      "Forward clock corrections applied from peer consensus.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			statusRequests, statusDuration,
			kissFrames, kissDropped,
			radioPackets, radioAirtime,
			deliveryAttempts, deliveryOutcomes,
			duplicates, clockCorrections,
		)
	})
}

// RecordStatusRequest counts one status API call. component is empty for
// routes that do not address a component.
func RecordStatusRequest(service, route, component string, code int, took time.Duration) {
	RegisterMetrics()
	statusRequests.WithLabelValues(service, route, component, strconv.Itoa(code)).Inc()
	statusDuration.WithLabelValues(service, route).Observe(took.Seconds())
}

// RecordFrame counts a KISS frame; direction is "in" or "out".
func RecordFrame(direction, command string) {
	RegisterMetrics()
	kissFrames.WithLabelValues(direction, command).Inc()
}

func RecordFrameDropped() {
	RegisterMetrics()
	kissDropped.Inc()
}

func RecordRadioPacket(direction string) {
	RegisterMetrics()
	radioPackets.WithLabelValues(direction).Inc()
}

func RecordAirtime(d time.Duration) {
	RegisterMetrics()
	radioAirtime.Add(d.Seconds())
}

func RecordDeliveryAttempt(route string) {
	RegisterMetrics()
	deliveryAttempts.WithLabelValues(route).Inc()
}

func RecordDelivery(outcome string) {
	RegisterMetrics()
	deliveryOutcomes.WithLabelValues(outcome).Inc()
}

func RecordDuplicate(kind string) {
	RegisterMetrics()
	duplicates.WithLabelValues(kind).Inc()
}

func RecordClockCorrection() {
	RegisterMetrics()
	clockCorrections.Inc()
}
