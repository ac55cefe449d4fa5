package tdsrv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradesrv",
		Subsystem: "tdsrv",
		Name:      "orders_accepted_total",
		Help:      "Orders that passed flow control and reached the gateway",
	})

	ordersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradesrv",
		Subsystem: "tdsrv",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected by a flow control rule",
	})

	ordersReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradesrv",
		Subsystem: "tdsrv",
		Name:      "order_reports_reconciled_total",
		Help:      "Inbound reports and acks applied to the ledger",
	})
)
