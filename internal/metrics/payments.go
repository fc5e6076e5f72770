// Package metrics exposes Prometheus collectors for the payment pipeline.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Payments groups the pipeline collectors. A nil *Payments records nothing.
type Payments struct {
	outcomes        *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	providerFetches *prometheus.HistogramVec
	reconcileRuns   *prometheus.CounterVec
	reconcileItems  *prometheus.CounterVec
	stockClamped    prometheus.Counter
}

func NewPayments(registerer prometheus.Registerer) *Payments {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Payments{
		outcomes: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_payment_outcomes_total",
			Help: "Payment observations processed, by entry point and resulting action",
		}, []string{"source", "action"})),
		webhooks: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_webhook_requests_total",
			Help: "Provider webhook deliveries, by handling result",
		}, []string{"result"})),
		providerFetches: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkout_provider_fetch_duration_seconds",
			Help:    "Duration of provider transaction lookups in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"result"})),
		reconcileRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_reconcile_runs_total",
			Help: "Reconciliation runs, by trigger and mode",
		}, []string{"trigger", "dry_run"})),
		reconcileItems: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_reconcile_items_total",
			Help: "Orders visited by reconciliation, by action",
		}, []string{"action"})),
		stockClamped: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_stock_clamped_total",
			Help: "Stock decrements clamped to zero because of a shortfall",
		})),
	}
}

func (p *Payments) ObserveOutcome(source, action string) {
	if p == nil {
		return
	}
	p.outcomes.WithLabelValues(source, action).Inc()
}

func (p *Payments) ObserveWebhook(result string) {
	if p == nil {
		return
	}
	p.webhooks.WithLabelValues(result).Inc()
}

func (p *Payments) ObserveProviderFetch(duration time.Duration, err error) {
	if p == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.providerFetches.WithLabelValues(result).Observe(duration.Seconds())
}

func (p *Payments) ObserveReconcileRun(trigger string, dryRun bool) {
	if p == nil {
		return
	}
	p.reconcileRuns.WithLabelValues(trigger, fmt.Sprintf("%t", dryRun)).Inc()
}

func (p *Payments) ObserveReconcileItem(action string) {
	if p == nil {
		return
	}
	p.reconcileItems.WithLabelValues(action).Inc()
}

func (p *Payments) ObserveStockClamped() {
	if p == nil {
		return
	}
	p.stockClamped.Inc()
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type: %v", err))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}
