package wechat

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledgevault",
		Subsystem: "wechat",
		Name:      "webhook_requests_total",
		Help:      "Webhook deliveries by method and result.",
	}, []string{"method", "result"})

	messagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledgevault",
		Subsystem: "wechat",
		Name:      "messages_total",
		Help:      "Routed inbound messages by kind and outcome.",
	}, []string{"kind", "outcome"})

	linkAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledgevault",
		Subsystem: "wechat",
		Name:      "link_attempts_total",
		Help:      "Link token redemptions by outcome.",
	}, []string{"outcome"})

	linkTokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knowledgevault",
		Subsystem: "wechat",
		Name:      "link_tokens_issued_total",
		Help:      "Link tokens issued for QR codes.",
	})

	webhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "knowledgevault",
		Subsystem: "wechat",
		Name:      "webhook_duration_seconds",
		Help:      "Time spent answering webhook deliveries.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 4.5},
	})
)

func linkOutcome(err error) string {
	switch {
	case errors.Is(err, ErrLinkTokenExpired):
		return "expired"
	case errors.Is(err, ErrLinkTokenNotFound):
		return "not_found"
	}
	return "error"
}
