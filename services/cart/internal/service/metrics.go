package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_sessions_open",
		Help: "Number of cart sessions held in memory",
	})

	sessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_sessions_closed_total",
			Help: "Total number of cart sessions torn down, by reason",
		},
		[]string{"reason"},
	)
)
