package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "session_state_transitions_total",
		Help: "Session lifecycle transitions",
	},
	[]string{"from", "to"},
)
