package flowctrl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ruleTriggers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradesrv",
		Subsystem: "flowctrl",
		Name:      "rule_triggers_total",
		Help:      "Flow control rule triggers by target",
	},
	[]string{"target"},
)
