// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus counters and gauges for the Access
// Decision Engine, grounded in the teacher's promauto idiom
// (internal/api/metrics.go, internal/control/middleware/metrics.go) with
// the `xg2g_` metric namespace replaced by `access_core_`.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts every frame that reaches the decision pipeline,
	// labeled by outcome: granted, denied, debounced. Unknown gates and
	// credentials count as denied; frames from unknown devices are not
	// counted.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_core_scans_total",
		Help: "Total scan frames processed by the ingress dispatcher, by outcome.",
	}, []string{"outcome"})

	// DenialsTotal counts denied decisions by reason code (spec.md §4.4).
	DenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_core_denials_total",
		Help: "Total denied decisions, labeled by reason code.",
	}, []string{"reason"})

	// DecisionDuration observes the wall-clock time from scan receipt to
	// decision (rule evaluation plus, on grant, the transition commit).
	DecisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "access_core_decision_duration_seconds",
		Help:    "Time from scan receipt to decision outcome.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// ZoneOccupancy tracks current occupancy per zone, updated by the
	// State Transition Executor and the Manual Override path is excluded
	// (spec.md §4.6: override does not mutate occupancy).
	ZoneOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "access_core_zone_occupancy",
		Help: "Current occupancy of a zone.",
	}, []string{"zone"})

	// DebounceDropsTotal counts scans suppressed by the Debounce Cache.
	DebounceDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_core_debounce_drops_total",
		Help: "Total scans suppressed as duplicates within the debounce window.",
	})

	// HardwareCommandsTotal counts outbound hardware "open" commands by
	// result: success, failure, breaker_open.
	HardwareCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_core_hardware_commands_total",
		Help: "Total hardware open commands issued, by result.",
	}, []string{"result"})

	// BreakerState reports each device's circuit breaker state as a gauge
	// (0 = closed, 0.5 = half-open, 1 = open) so it can be graphed
	// alongside HardwareCommandsTotal.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "access_core_breaker_state",
		Help: "Circuit breaker state per device (0=closed, 0.5=half-open, 1=open).",
	}, []string{"device"})

	// EventSubscribers reports the current subscriber count on the event
	// hub, for spotting a leaking or wedged push-channel consumer.
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "access_core_event_subscribers",
		Help: "Current number of subscribers on the live event hub.",
	})
)

// ObserveDecision records a completed decision's outcome and latency.
func ObserveDecision(outcome string, reason string, granted bool, since time.Time) {
	ScansTotal.WithLabelValues(outcome).Inc()
	if !granted && reason != "" {
		DenialsTotal.WithLabelValues(reason).Inc()
	}
	DecisionDuration.Observe(time.Since(since).Seconds())
}

// SetZoneOccupancy updates the gauge for a single zone.
func SetZoneOccupancy(zoneName string, occupancy int) {
	ZoneOccupancy.WithLabelValues(zoneName).Set(float64(occupancy))
}

// RecordHardwareCommand tallies an outbound hardware command by result.
func RecordHardwareCommand(result string) {
	HardwareCommandsTotal.WithLabelValues(result).Inc()
}

// SetBreakerState maps a breaker state string to the numeric gauge value.
func SetBreakerState(device string, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 0.5
	default:
		v = 0
	}
	BreakerState.WithLabelValues(device).Set(v)
}
