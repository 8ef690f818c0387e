package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ETFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinewater_et_fetch_total",
			Help: "Total ET source fetches",
		},
		[]string{"source", "status"},
	)

	ETFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vinewater_et_fetch_latency_seconds",
			Help:    "ET source fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	WeatherFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinewater_weather_fetch_total",
			Help: "Total rainfall and forecast fetches",
		},
		[]string{"kind", "status"},
	)

	EventsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinewater_events_reconciled_total",
			Help: "Irrigation events inserted, deleted, skipped or failed by reconciliation",
		},
		[]string{"operation", "outcome"},
	)

	BudgetsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vinewater_water_budgets_computed_total",
			Help: "Water budgets computed, by coverage",
		},
		[]string{"coverage"},
	)
)
