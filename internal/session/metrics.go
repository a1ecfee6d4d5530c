package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var navigationActions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bubblenav_navigation_actions_total",
		Help: "Navigator actions returned for reader input",
	},
	[]string{"action"}, // show, advance_page, retreat_page, hide, pass_through, none
)
