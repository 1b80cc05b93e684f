package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TerminalTransitions counts cashier terminal state changes.
	TerminalTransitions *prometheus.CounterVec
	// OrdersTotal counts order submissions by outcome.
	OrdersTotal *prometheus.CounterVec
	// RPCDuration records backend call latency in milliseconds.
	RPCDuration *prometheus.HistogramVec
	// ProductPrice exposes the advertised price in cents per product.
	ProductPrice *prometheus.GaugeVec
	// PriceChanges counts advertised price changes by direction.
	PriceChanges *prometheus.CounterVec
	// ScannerEvents counts scan stream events by kind.
	ScannerEvents *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers terminal and pricing collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TerminalTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_transitions_total",
			Help:      "Count of terminal state transitions.",
		}, []string{"from", "to"})
		OrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Count of order submissions by outcome.",
		}, []string{"result"})
		RPCDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_ms",
			Help:      "Latency of backend JSON-RPC calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method", "result"})
		ProductPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "product_price_cents",
			Help:      "Last advertised price per product in cents.",
		}, []string{"product"})
		PriceChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_changes_total",
			Help:      "Count of advertised price changes by direction.",
		}, []string{"direction"})
		ScannerEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanner_events_total",
			Help:      "Count of scan stream events by kind.",
		}, []string{"kind"})

		mustRegisterCollector(reg, TerminalTransitions, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TerminalTransitions = v
			}
		})
		mustRegisterCollector(reg, OrdersTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrdersTotal = v
			}
		})
		mustRegisterCollector(reg, RPCDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				RPCDuration = v
			}
		})
		mustRegisterCollector(reg, ProductPrice, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.GaugeVec); ok {
				ProductPrice = v
			}
		})
		mustRegisterCollector(reg, PriceChanges, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PriceChanges = v
			}
		})
		mustRegisterCollector(reg, ScannerEvents, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ScannerEvents = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
