package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes.
const (
	outcomeSuccess   = "success"
	outcomeReused    = "reused"
	outcomeAbsent    = "absent"
	outcomeRejected  = "rejected"
	outcomeMalformed = "malformed"
	outcomeError     = "error"
)

var refreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "session_token_refresh_total",
		Help: "Token refresh attempts by outcome",
	},
	[]string{"outcome"},
)
