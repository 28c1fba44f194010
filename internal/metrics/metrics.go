package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline and cache metrics.
var (
	IngestFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wraith",
			Name:      "ingest_files_total",
			Help:      "Files processed by the ingestion pipeline",
		},
		[]string{"outcome"}, // "ingested" / "skipped"
	)

	IngestChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wraith",
			Name:      "ingest_chunks_total",
			Help:      "Chunks written to the vector store",
		},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wraith",
			Name:      "query_duration_seconds",
			Help:      "End-to-end question answering duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	SearchCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wraith",
			Name:      "search_cache_total",
			Help:      "Vector store result cache hits and misses",
		},
		[]string{"result"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wraith",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wraith",
			Name:      "store_operation_duration_seconds",
			Help:      "Vector store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op", "status"},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			IngestFilesTotal,
			IngestChunksTotal,
			QueryDuration,
			SearchCacheTotal,
			EmbeddingCacheTotal,
			StoreOperationDuration,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}
