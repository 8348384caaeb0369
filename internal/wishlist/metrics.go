package wishlist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAdded   = "added"
	resultRemoved = "removed"
	resultError   = "error"
)

var toggleTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "session_wishlist_toggle_total",
		Help: "Wishlist toggles by store mode and result",
	},
	[]string{"mode", "result"},
)

func resultFor(present bool) string {
	if present {
		return resultAdded
	}
	return resultRemoved
}
