package metrics

import "github.com/prometheus/client_golang/prometheus"

// SettlementMetrics tracks the payment confirmation and payout pipeline.
type SettlementMetrics struct {
	webhookEvents      *prometheus.CounterVec
	securityMismatches *prometheus.CounterVec
	transfers          *prometheus.CounterVec
	webhookRetries     *prometheus.CounterVec
}

func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "events_total",
		Help:      "Provider webhook events by kind and outcome.",
	}, []string{"kind", "outcome"})
	securityMismatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "security_mismatches_total",
		Help:      "Payment events rejected because they disagree with the order of record.",
	}, []string{"check"})
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "transfers_total",
		Help:      "Vendor transfer attempts by outcome.",
	}, []string{"outcome"})
	webhookRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "failure_retries_total",
		Help:      "Webhook failure ledger reprocessing attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(webhookEvents, securityMismatches, transfers, webhookRetries)
	return &SettlementMetrics{
		webhookEvents:      webhookEvents,
		securityMismatches: securityMismatches,
		transfers:          transfers,
		webhookRetries:     webhookRetries,
	}
}

func (m *SettlementMetrics) WebhookEvent(kind, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) SecurityMismatch(check string) {
	if m == nil || m.securityMismatches == nil {
		return
	}
	m.securityMismatches.WithLabelValues(normalizeLabel(check)).Inc()
}

func (m *SettlementMetrics) Transfer(outcome string) {
	if m == nil || m.transfers == nil {
		return
	}
	m.transfers.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) WebhookRetry(outcome string) {
	if m == nil || m.webhookRetries == nil {
		return
	}
	m.webhookRetries.WithLabelValues(normalizeLabel(outcome)).Inc()
}
