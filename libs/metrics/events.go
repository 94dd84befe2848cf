package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "outbox",
		Name:      "events_published_total",
		Help:      "Outbox events written to Kafka, by topic.",
	}, []string{"topic"})

	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "inbox",
		Name:      "events_consumed_total",
		Help:      "Kafka events handled, by consumer, topic and result.",
	}, []string{"consumer", "topic", "result"})
)
