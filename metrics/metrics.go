// Package metrics registers the node's Prometheus collectors. Export of the
// metrics endpoint is wired outside the core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProcessed counts blocks successfully inserted into the chain.
	BlocksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solstice",
		Subsystem: "chain",
		Name:      "blocks_processed_total",
		Help:      "Blocks executed and committed.",
	})

	// TxsProcessed counts transactions executed in committed blocks.
	TxsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solstice",
		Subsystem: "chain",
		Name:      "txs_processed_total",
		Help:      "Transactions executed in committed blocks.",
	})

	// PoolSize tracks the number of transactions in the mempool.
	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "solstice",
		Subsystem: "txpool",
		Name:      "pool_size",
		Help:      "Transactions currently held by the pool.",
	})

	// BatchesFinalized counts settlement batches that cleared the
	// challenge window.
	BatchesFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solstice",
		Subsystem: "settlement",
		Name:      "batches_finalized_total",
		Help:      "Settlement batches finalized on L1.",
	})

	// SlotsMissed counts slots where the scheduled leader failed to produce.
	SlotsMissed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solstice",
		Subsystem: "consensus",
		Name:      "slots_missed_total",
		Help:      "Slots where the scheduled leader did not produce a block.",
	})
)
