// Package database serializes access to one relational connection and
// renders the schema statements of each supported SQL dialect.
package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executorAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botstore_executor_attempts_total",
		Help: "Database operation attempts by outcome (ok, retry, fatal).",
	}, []string{"outcome"})
	executorExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botstore_executor_exhausted_total",
		Help: "Database operations that failed every attempt.",
	})
)
