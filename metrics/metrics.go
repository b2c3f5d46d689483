// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package metrics exposes prometheus collectors for the payout pipeline.
// A Metrics value observes both the indexer client and the wallet service.
package metrics

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/wallet"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "satpayout"

// Metrics holds the collectors of a running daemon.
type Metrics struct {
	indexerRequests *prometheus.CounterVec
	indexerLatency  *prometheus.HistogramVec
	feeFallbacks    *prometheus.CounterVec

	walletsCreated *prometheus.CounterVec
	payoutsSent    prometheus.Counter
	payoutsFailed  *prometheus.CounterVec
	payoutSats     prometheus.Counter
	payoutFeeSats  prometheus.Counter
	payoutInputs   prometheus.Histogram
}

// Compile time checks.
var (
	_ chain.Observer  = (*Metrics)(nil)
	_ wallet.Observer = (*Metrics)(nil)
)

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		indexerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "requests_total",
				Help:      "Indexer requests by endpoint and result.",
			},
			[]string{"endpoint", "result"},
		),
		indexerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "request_duration_seconds",
				Help:      "Indexer request latency by endpoint.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		feeFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "fee_fallbacks_total",
				Help:      "Fee estimates replaced by the fallback rate.",
			},
			[]string{"reason"},
		),
		walletsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wallet",
				Name:      "created_total",
				Help:      "Wallets created by owner kind.",
			},
			[]string{"owner"},
		),
		payoutsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "sent_total",
			Help:      "Payouts broadcast.",
		}),
		payoutsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "failed_total",
				Help:      "Failed payouts by error code.",
			},
			[]string{"code"},
		),
		payoutSats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "sent_satoshis_total",
			Help:      "Satoshis paid to recipients.",
		}),
		payoutFeeSats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "fee_satoshis_total",
			Help:      "Satoshis paid in transaction fees.",
		}),
		payoutInputs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "inputs",
			Help:      "Inputs spent per payout.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}

	collectors := []prometheus.Collector{
		m.indexerRequests, m.indexerLatency, m.feeFallbacks,
		m.walletsCreated, m.payoutsSent, m.payoutsFailed,
		m.payoutSats, m.payoutFeeSats, m.payoutInputs,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// result names the outcome of an indexer request.
func result(err error) string {
	var broadcastErr *chain.BroadcastError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, chain.ErrConflict):
		return "conflict"
	case errors.As(err, &broadcastErr):
		return "rejected"
	default:
		return "error"
	}
}

// ObserveRequest records an indexer request.
func (m *Metrics) ObserveRequest(endpoint string, elapsed time.Duration,
	err error) {

	m.indexerRequests.WithLabelValues(endpoint, result(err)).Inc()
	m.indexerLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// FeeFallback records a use of the fallback fee rate.
func (m *Metrics) FeeFallback(reason string) {
	m.feeFallbacks.WithLabelValues(reason).Inc()
}

// WalletCreated records a new wallet.
func (m *Metrics) WalletCreated(kind wallet.OwnerKind) {
	m.walletsCreated.WithLabelValues(kind.String()).Inc()
}

// PayoutSent records a broadcast payout.
func (m *Metrics) PayoutSent(amount, fee btcutil.Amount, numInputs int) {
	m.payoutsSent.Inc()
	m.payoutSats.Add(float64(amount))
	m.payoutFeeSats.Add(float64(fee))
	m.payoutInputs.Observe(float64(numInputs))
}

// PayoutFailed records a failed payout.
func (m *Metrics) PayoutFailed(code wallet.ErrorCode) {
	m.payoutsFailed.WithLabelValues(code.String()).Inc()
}
