// Package schema keeps declared tables and the live relational schema in
// sync, and maps records of declared tables to SQL.
package schema

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reconcileOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "botstore_reconcile_operations_total",
	Help: "Schema operations by kind and outcome (applied, failed).",
}, []string{"kind", "outcome"})
