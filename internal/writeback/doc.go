// Package writeback serves logical tables from memory and persists them to
// a remote key-value store with debounced, batched flushes.
//
// Each logical table is stored remotely as one codec-encoded blob. Reads and
// writes only touch memory once a table has been hydrated; writes mark the
// table dirty and a Scheduler batches dirty tables into a single BatchSet.
// A failed flush keeps the tables dirty, but is only retried once another
// write arrives or Flush is called.
package writeback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "botstore_cache_flushes_total",
	Help: "Write-back flushes by outcome (ok, failed).",
}, []string{"outcome"})

var flushedTablesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "botstore_cache_flushed_tables_total",
	Help: "Tables written by successful flushes.",
})

var hydrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "botstore_cache_hydrations_total",
	Help: "Table hydrations by outcome (loaded, missing, exhausted).",
}, []string{"outcome"})
