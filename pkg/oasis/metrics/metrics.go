// Package metrics exposes controller health over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace        = "oasis"
	controlSubsystem = "control"
	modelSubsystem   = "model"
)

var (
	// ZoneTemperature tracks the latest observed temperature per zone.
	ZoneTemperature = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: controlSubsystem,
			Name:      "zone_temperature_celsius",
			Help:      "Latest observed zone temperature in Celsius",
		},
		[]string{"zone"},
	)

	// PredictionError tracks per-zone realized-vs-predicted temperature error.
	PredictionError = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: modelSubsystem,
			Name:      "prediction_error_celsius",
			Help:      "Absolute difference between predicted and realized zone temperature",
		},
		[]string{"zone"},
	)

	// ModelConfidence tracks the active model's confidence score.
	ModelConfidence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: modelSubsystem,
			Name:      "confidence",
			Help:      "Confidence score of the active thermal model (0-1)",
		},
	)

	// PlanningDuration observes planner wall-clock time per cycle.
	PlanningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: controlSubsystem,
			Name:      "planning_duration_seconds",
			Help:      "Wall-clock duration of schedule optimization",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// Plans counts planning outcomes.
	Plans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: controlSubsystem,
			Name:      "plans_total",
			Help:      "Planning attempts by result",
		},
		[]string{"result"}, // "success", "infeasible", "reused", "error"
	)

	// FallbackTransitions counts entries into reactive fallback.
	FallbackTransitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: controlSubsystem,
			Name:      "fallback_transitions_total",
			Help:      "Number of transitions into reactive fallback control",
		},
	)

	// ScheduleEnergyCost tracks the predicted cost of the active schedule.
	ScheduleEnergyCost = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: controlSubsystem,
			Name:      "schedule_energy_cost",
			Help:      "Predicted energy cost of the active schedule over its horizon",
		},
	)

	// CommandsRejected counts actuator command rejections at the adapter.
	CommandsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: controlSubsystem,
			Name:      "commands_rejected_total",
			Help:      "Actuator commands rejected by the platform adapter",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ZoneTemperature,
		PredictionError,
		ModelConfidence,
		PlanningDuration,
		Plans,
		FallbackTransitions,
		ScheduleEnergyCost,
		CommandsRejected,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
