package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledgevault",
		Name:      "knowledge_items_ingested_total",
		Help:      "Knowledge item ingestions by item type and outcome.",
	}, []string{"type", "outcome"})

	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledgevault",
		Name:      "knowledge_items_processed_total",
		Help:      "Deferred processing runs by item type and outcome.",
	}, []string{"type", "outcome"})
)
