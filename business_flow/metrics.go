package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Serials handed out by the ledger
	serialsReservedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kusanagi_serials_reserved_total",
			Help: "Total number of serial numbers reserved",
		},
	)

	// Lost compare-and-swap races per counter kind
	allocationConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kusanagi_allocation_conflicts_total",
			Help: "Counter compare-and-swap attempts lost to a concurrent writer",
		},
		[]string{"counter"},
	)

	// Transactions run again after a transient storage failure
	transactionRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kusanagi_transaction_retries_total",
			Help: "Transactions retried after a transient storage failure",
		},
		[]string{"operation"},
	)

	// Micro-ID decodes by confidence and input source
	microIDDecodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kusanagi_microid_decodes_total",
			Help: "Micro-ID decodes partitioned by confidence and source",
		},
		[]string{"confidence", "source"},
	)

	// Batch lifecycle outcomes
	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kusanagi_batches_total",
			Help: "Engraving batches partitioned by outcome",
		},
		[]string{"outcome"},
	)

	batchCreateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kusanagi_batch_create_duration_seconds",
			Help:    "Time spent creating an engraving batch",
			Buckets: prometheus.DefBuckets,
		},
	)
)

const (
	counterKindSerial = "serial_number"
	counterKindDesign = "design"

	counterKindIdentifier = "identifier"
	operationCreateBatch  = "create_batch"

	decodeSourceGrid  = "grid"
	decodeSourceImage = "image"
)
