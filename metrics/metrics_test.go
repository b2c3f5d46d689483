// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()

	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	return m
}

// TestRegisterTwice checks that registering into the same registry twice
// fails instead of panicking.
func TestRegisterTwice(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)

	_, err = New(registry)
	require.Error(t, err)
}

// TestRequestResult checks the result label of indexer requests.
func TestRequestResult(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "success",
			want: "ok",
		},
		{
			name: "conflict",
			err: &chain.BroadcastError{
				StatusCode: 400,
				Reason:     "txn-mempool-conflict",
			},
			want: "conflict",
		},
		{
			name: "rejected",
			err: &chain.BroadcastError{
				StatusCode: 400,
				Reason:     "min relay fee not met",
			},
			want: "rejected",
		},
		{
			name: "transport",
			err:  fmt.Errorf("wrapped: %w", errors.New("timeout")),
			want: "error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := newTestMetrics(t)
			m.ObserveRequest("broadcast", time.Millisecond, tc.err)

			require.Equal(t, 1.0, testutil.ToFloat64(
				m.indexerRequests.WithLabelValues(
					"broadcast", tc.want,
				),
			))
			require.Equal(t, 1, testutil.CollectAndCount(
				m.indexerLatency,
			))
		})
	}
}

// TestWalletObserver checks the wallet service counters.
func TestWalletObserver(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)

	m.WalletCreated(wallet.OwnerUser)
	m.WalletCreated(wallet.OwnerUser)
	m.WalletCreated(wallet.OwnerOrganization)
	m.PayoutSent(5_000, 300, 1)
	m.PayoutSent(2_000, 150, 2)
	m.PayoutFailed(wallet.ErrInsufficientFunds)
	m.FeeFallback(chain.FallbackRequestFailed)

	require.Equal(t, 2.0, testutil.ToFloat64(
		m.walletsCreated.WithLabelValues("user"),
	))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.walletsCreated.WithLabelValues("organization"),
	))
	require.Equal(t, 2.0, testutil.ToFloat64(m.payoutsSent))
	require.Equal(t, 7_000.0, testutil.ToFloat64(m.payoutSats))
	require.Equal(t, 450.0, testutil.ToFloat64(m.payoutFeeSats))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.payoutsFailed.WithLabelValues(
			wallet.ErrInsufficientFunds.String(),
		),
	))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.feeFallbacks.WithLabelValues(chain.FallbackRequestFailed),
	))
}
