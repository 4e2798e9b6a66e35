package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	batchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rasterd",
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Total inference batches executed",
		},
	)

	zeroFilledBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rasterd",
			Subsystem: "pipeline",
			Name:      "zero_filled_batches_total",
			Help:      "Batches substituted with zeros after a model failure",
		},
	)

	patchesProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rasterd",
			Subsystem: "pipeline",
			Name:      "patches_processed_total",
			Help:      "Total patches pushed through the model",
		},
	)

	chunksWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rasterd",
			Subsystem: "pipeline",
			Name:      "chunks_written_total",
			Help:      "Chunks reconstructed and handed to reporters",
		},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rasterd",
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one inference batch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	queueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rasterd",
			Subsystem: "pipeline",
			Name:      "queue_length",
			Help:      "Items waiting in a bounded stage queue",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(
		batchesTotal,
		zeroFilledBatchesTotal,
		patchesProcessedTotal,
		chunksWrittenTotal,
		batchDuration,
		queueLength,
	)
}
