package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "webhook-failure-retry"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)
	metrics.IncSkipped("cron-worker")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "marketsplit_cron_job_runs_total", map[string]string{"job": job, "outcome": "success"}); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 2 {
		t.Fatalf("expected success=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "marketsplit_cron_job_runs_total", map[string]string{"job": job, "outcome": "failure"}); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "marketsplit_cron_cycles_skipped_total", map[string]string{"lock": "cron-worker"}); err != nil {
		t.Fatalf("fetch skipped: %v", err)
	} else if got != 1 {
		t.Fatalf("expected skipped=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "marketsplit_cron_job_duration_seconds", map[string]string{"job": job}); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var cron *CronJobMetrics
	cron.IncSuccess("x")
	cron.ObserveDuration("x", time.Second)

	unregistered := NewSettlementMetrics(nil)
	unregistered.Transfer("paid")
	unregistered.SecurityMismatch("amount")
}

func TestSettlementMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)
	m.WebhookEvent("payment_succeeded", "confirmed")
	m.SecurityMismatch("amount")
	m.Transfer("processing")
	m.Transfer("processing")
	m.Transfer("failed")
	m.WebhookRetry("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, _ := fetchCounterValue(mfs, "marketsplit_settlement_transfers_total", map[string]string{"outcome": "processing"}); got != 2 {
		t.Fatalf("expected 2 processing transfers, got %f", got)
	}
	if got, _ := fetchCounterValue(mfs, "marketsplit_webhooks_security_mismatches_total", map[string]string{"check": "amount"}); got != 1 {
		t.Fatalf("expected 1 amount mismatch, got %f", got)
	}
	if got, _ := fetchCounterValue(mfs, "marketsplit_webhooks_failure_retries_total", map[string]string{"outcome": "unknown"}); got != 1 {
		t.Fatalf("expected empty outcome to normalize to unknown, got %f", got)
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
