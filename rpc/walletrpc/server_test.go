// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata" // Zones used by payout claims.

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testAddress = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"

type mockWallets struct {
	mock.Mock
}

func (m *mockWallets) CreateWallet(ctx context.Context, kind wallet.OwnerKind,
	ownerID string) (*wallet.Info, error) {

	args := m.Called(ctx, kind, ownerID)
	info, _ := args.Get(0).(*wallet.Info)
	return info, args.Error(1)
}

func (m *mockWallets) SendPayout(ctx context.Context, senderOrgID,
	recipientUserID string, amount int64) (string, error) {

	args := m.Called(ctx, senderOrgID, recipientUserID, amount)
	return args.String(0), args.Error(1)
}

func (m *mockWallets) Balance(ctx context.Context,
	address string) (btcutil.Amount, error) {

	args := m.Called(ctx, address)
	return args.Get(0).(btcutil.Amount), args.Error(1)
}

func (m *mockWallets) History(ctx context.Context, address string,
	limit int) ([]chain.TxSummary, error) {

	args := m.Called(ctx, address, limit)
	history, _ := args.Get(0).([]chain.TxSummary)
	return history, args.Error(1)
}

func (m *mockWallets) WalletSnapshot(ctx context.Context,
	address string) (*wallet.Snapshot, error) {

	args := m.Called(ctx, address)
	snapshot, _ := args.Get(0).(*wallet.Snapshot)
	return snapshot, args.Error(1)
}

func (m *mockWallets) UserWalletSnapshot(ctx context.Context,
	userID string) (*wallet.Snapshot, error) {

	args := m.Called(ctx, userID)
	snapshot, _ := args.Get(0).(*wallet.Snapshot)
	return snapshot, args.Error(1)
}

func (m *mockWallets) OrgWalletSnapshot(ctx context.Context,
	orgID string) (*wallet.Snapshot, error) {

	args := m.Called(ctx, orgID)
	snapshot, _ := args.Get(0).(*wallet.Snapshot)
	return snapshot, args.Error(1)
}

type mockPayouts struct {
	mock.Mock
}

func (m *mockPayouts) Process(ctx context.Context,
	claim *payout.Claim) (*payout.Record, error) {

	args := m.Called(ctx, claim)
	record, _ := args.Get(0).(*payout.Record)
	return record, args.Error(1)
}

func (m *mockPayouts) History(ctx context.Context,
	userID string) ([]*payout.Record, error) {

	args := m.Called(ctx, userID)
	records, _ := args.Get(0).([]*payout.Record)
	return records, args.Error(1)
}

func newTestServer(opts *Options) (*Server, *mockWallets, *mockPayouts) {
	wallets := &mockWallets{}
	payouts := &mockPayouts{}
	if opts == nil {
		opts = &Options{}
	}
	return NewServer(opts, wallets, payouts, nil), wallets, payouts
}

func do(t *testing.T, s *Server, method, path, body string) (int,
	map[string]interface{}) {

	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp),
			rec.Body.String())
	}
	return rec.Code, resp
}

// TestCreateWallet checks both wallet creation routes.
func TestCreateWallet(t *testing.T) {
	t.Parallel()

	s, wallets, _ := newTestServer(nil)
	info := &wallet.Info{
		ID: "w1", Address: testAddress, Network: "testnet3",
	}
	wallets.On("CreateWallet", mock.Anything, wallet.OwnerUser, "user-1").
		Return(info, nil)
	wallets.On("CreateWallet", mock.Anything, wallet.OwnerOrganization,
		"org-1").Return(nil, wallet.Error{
		Code:        wallet.ErrWalletExists,
		Description: "organization org-1 already has a wallet",
	})

	status, resp := do(t, s, http.MethodPost, "/v1/users/user-1/wallet", "")
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, map[string]interface{}{
		"id": "w1", "address": testAddress, "network": "testnet3",
	}, resp)

	status, resp = do(t, s, http.MethodPost, "/v1/orgs/org-1/wallet", "")
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "ErrWalletExists", resp["code"])
	require.Equal(t, "organization org-1 already has a wallet",
		resp["error"])

	wallets.AssertExpectations(t)
}

// TestSendTransaction checks the payout route and its error mapping.
func TestSendTransaction(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
		wantError  string
		retryable  bool
		noCall     bool
	}{
		{
			name:       "success",
			body:       `{"senderOrgId":"org-1","recipientUserId":"user-1","amountSatoshis":5000}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "fractional amount",
			body:       `{"senderOrgId":"org-1","recipientUserId":"user-1","amountSatoshis":10.5}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "amountSatoshis must be an integer",
			noCall:     true,
		},
		{
			name: "invalid amount",
			body: `{"senderOrgId":"org-1","recipientUserId":"user-1","amountSatoshis":5000}`,
			err: wallet.Error{
				Code:        wallet.ErrInvalidAmount,
				Description: "amount must be positive",
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "ErrInvalidAmount",
			wantError:  "amount must be positive",
		},
		{
			name: "unknown recipient",
			body: `{"senderOrgId":"org-1","recipientUserId":"user-1","amountSatoshis":5000}`,
			err: wallet.Error{
				Code:        wallet.ErrWalletNotFound,
				Description: "user user-1 has no wallet",
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "ErrWalletNotFound",
			wantError:  "user user-1 has no wallet",
		},
		{
			name: "insufficient funds",
			body: `{"senderOrgId":"org-1","recipientUserId":"user-1","amountSatoshis":5000}`,
			err: wallet.Error{
				Code:        wallet.ErrInsufficientFunds,
				Description: "insufficient funds",
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "ErrInsufficientFunds",
			wantError:  "insufficient funds",
		},
		{
			name: "conflict",
			body: `{"senderOrgId":"org-1","recipientUserId":"user-1","amountSatoshis":5000}`,
			err: wallet.Error{
				Code:        wallet.ErrConflict,
				Description: "inputs already spent",
			},
			wantStatus: http.StatusConflict,
			wantCode:   "ErrConflict",
			wantError:  "inputs already spent",
			retryable:  true,
		},
		{
			name: "indexer down",
			body: `{"senderOrgId":"org-1","recipientUserId":"user-1","amountSatoshis":5000}`,
			err: wallet.Error{
				Code:        wallet.ErrAddressLookup,
				Description: "unable to list outputs",
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "ErrAddressLookup",
			wantError:  "unable to list outputs",
			retryable:  true,
		},
		{
			name: "internal detail hidden",
			body: `{"senderOrgId":"org-1","recipientUserId":"user-1","amountSatoshis":5000}`,
			err: wallet.Error{
				Code:        wallet.ErrDecryption,
				Description: "unable to decrypt sender key",
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "ErrDecryption",
			wantError:  internalErrorMessage,
		},
		{
			name:       "unexpected error",
			body:       `{"senderOrgId":"org-1","recipientUserId":"user-1","amountSatoshis":5000}`,
			err:        errors.New("secret detail"),
			wantStatus: http.StatusInternalServerError,
			wantError:  internalErrorMessage,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, wallets, _ := newTestServer(nil)
			wallets.On("SendPayout", mock.Anything, "org-1", "user-1",
				int64(5000)).Return("abcd", tc.err)

			status, resp := do(t, s, http.MethodPost,
				"/v1/transactions", tc.body)
			require.Equal(t, tc.wantStatus, status, resp)

			if tc.noCall {
				wallets.AssertNotCalled(t, "SendPayout",
					mock.Anything, mock.Anything,
					mock.Anything, mock.Anything)
			}

			if tc.wantStatus == http.StatusOK {
				require.Equal(t, "abcd", resp["txid"])
				return
			}
			require.Equal(t, tc.wantError, resp["error"])
			if tc.wantCode != "" {
				require.Equal(t, tc.wantCode, resp["code"])
			}
			if tc.retryable {
				require.Equal(t, true, resp["retryable"])
			} else {
				require.NotContains(t, resp, "retryable")
			}
		})
	}
}

// TestAddressQueries checks the balance, history and snapshot routes.
func TestAddressQueries(t *testing.T) {
	t.Parallel()

	s, wallets, _ := newTestServer(nil)
	blockTime := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	history := []chain.TxSummary{
		{
			TxID: "aa", Direction: chain.Incoming, Net: 5_000,
			Confirmed: true, BlockHeight: 100, BlockTime: blockTime,
		},
		{TxID: "bb", Direction: chain.Outgoing, Net: -5_300},
	}
	wallets.On("Balance", mock.Anything, testAddress).
		Return(btcutil.Amount(4_700), nil)
	wallets.On("History", mock.Anything, testAddress, 0).
		Return(history, nil)
	wallets.On("History", mock.Anything, testAddress, 1).
		Return(history[:1], nil)
	wallets.On("WalletSnapshot", mock.Anything, testAddress).
		Return(&wallet.Snapshot{
			Address: testAddress, Balance: 4_700, History: history,
		}, nil)
	wallets.On("UserWalletSnapshot", mock.Anything, "user-9").
		Return(nil, wallet.Error{
			Code:        wallet.ErrWalletNotFound,
			Description: "user user-9 has no wallet",
		})

	status, resp := do(t, s, http.MethodGet,
		"/v1/addresses/"+testAddress+"/balance", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 4_700.0, resp["balance"])

	status, resp = do(t, s, http.MethodGet,
		"/v1/addresses/"+testAddress+"/history", "")
	require.Equal(t, http.StatusOK, status)
	txs := resp["transactions"].([]interface{})
	require.Len(t, txs, 2)
	require.Equal(t, map[string]interface{}{
		"txid": "aa", "direction": "incoming", "net": 5_000.0,
		"confirmed": true, "blockHeight": 100.0,
		"blockTime": float64(blockTime.Unix()),
	}, txs[0])
	require.Equal(t, map[string]interface{}{
		"txid": "bb", "direction": "outgoing", "net": -5_300.0,
		"confirmed": false,
	}, txs[1])

	status, resp = do(t, s, http.MethodGet,
		"/v1/addresses/"+testAddress+"/history?limit=1", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp["transactions"], 1)

	for _, limit := range []string{"0", "-2", "ten"} {
		status, _ = do(t, s, http.MethodGet,
			"/v1/addresses/"+testAddress+"/history?limit="+limit, "")
		require.Equal(t, http.StatusBadRequest, status, limit)
	}

	status, resp = do(t, s, http.MethodGet, "/v1/addresses/"+testAddress, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 4_700.0, resp["balance"])
	require.Len(t, resp["transactions"], 2)

	status, resp = do(t, s, http.MethodGet, "/v1/users/user-9/wallet", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "ErrWalletNotFound", resp["code"])

	status, _ = do(t, s, http.MethodGet, "/v1/nowhere", "")
	require.Equal(t, http.StatusNotFound, status)
}

// TestProcessPayout checks the claim route.
func TestProcessPayout(t *testing.T) {
	t.Parallel()

	paidAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	record := &payout.Record{
		ID: "p1", OrgID: "org-1", UserID: "user-1", Amount: 4_000,
		BonusAmount: 500, TxID: "abcd", WalletAddress: testAddress,
		OnTime: true, ChoreLogIDs: []string{"c1"}, PaidAt: paidAt,
	}

	testCases := []struct {
		name       string
		body       string
		record     *payout.Record
		err        error
		wantStatus int
		wantBonus  btcutil.Amount
	}{
		{
			name: "default bonus",
			body: `{"orgId":"org-1","userId":"user-1",` +
				`"earnedSatoshis":4000,"choreLogIds":["c1"],` +
				`"nextPayoutDate":"2025-03-10",` +
				`"timeZone":"America/New_York"}`,
			record:     record,
			wantStatus: http.StatusOK,
			wantBonus:  500,
		},
		{
			name: "explicit bonus",
			body: `{"orgId":"org-1","userId":"user-1",` +
				`"earnedSatoshis":4000,"nextPayoutDate":"2025-03-10",` +
				`"onTimeBonusSatoshis":0}`,
			record:     record,
			wantStatus: http.StatusOK,
			wantBonus:  0,
		},
		{
			name: "window closed",
			body: `{"orgId":"org-1","userId":"user-1",` +
				`"earnedSatoshis":4000,"nextPayoutDate":"2025-03-10"}`,
			err:        fmt.Errorf("%w: late", payout.ErrWindowClosed),
			wantStatus: http.StatusUnprocessableEntity,
			wantBonus:  500,
		},
		{
			name: "recorded failure keeps txid",
			body: `{"orgId":"org-1","userId":"user-1",` +
				`"earnedSatoshis":4000,"nextPayoutDate":"2025-03-10"}`,
			record:     record,
			err:        fmt.Errorf("%w: disk full", payout.ErrRecord),
			wantStatus: http.StatusInternalServerError,
			wantBonus:  500,
		},
		{
			name: "repeated chore log",
			body: `{"orgId":"org-1","userId":"user-1",` +
				`"earnedSatoshis":4000,"choreLogIds":["c1","c1"],` +
				`"nextPayoutDate":"2025-03-10"}`,
			err: fmt.Errorf("%w: c1",
				payout.ErrDuplicateChoreLog),
			wantStatus: http.StatusBadRequest,
			wantBonus:  500,
		},
		{
			name: "bad date",
			body: `{"orgId":"org-1","userId":"user-1",` +
				`"earnedSatoshis":4000,"nextPayoutDate":"10/03/2025"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "bad zone",
			body: `{"orgId":"org-1","userId":"user-1",` +
				`"earnedSatoshis":4000,"nextPayoutDate":"2025-03-10",` +
				`"timeZone":"Mars/Olympus"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing user",
			body: `{"orgId":"org-1","earnedSatoshis":4000,` +
				`"nextPayoutDate":"2025-03-10"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, _, payouts := newTestServer(&Options{
				DefaultOnTimeBonus: 500,
			})
			payouts.On("Process", mock.Anything, mock.MatchedBy(
				func(c *payout.Claim) bool {
					return c.Settings.OnTimeBonus == tc.wantBonus
				},
			)).Return(tc.record, tc.err)

			status, resp := do(t, s, http.MethodPost, "/v1/payouts",
				tc.body)
			require.Equal(t, tc.wantStatus, status, resp)

			switch {
			case tc.wantStatus == http.StatusOK:
				require.Equal(t, "abcd", resp["txid"])
				require.Equal(t, 4_500.0, resp["total"])
				require.Equal(t, "2025-03-10T09:00:00Z",
					resp["paidAt"])

			case tc.record != nil:
				require.Equal(t, "abcd", resp["txid"])

			case tc.err == nil:
				payouts.AssertNotCalled(t, "Process",
					mock.Anything, mock.Anything)
			}
		})
	}
}

// TestPayoutHistory checks that payouts are listed per user.
func TestPayoutHistory(t *testing.T) {
	t.Parallel()

	s, _, payouts := newTestServer(nil)
	payouts.On("History", mock.Anything, "user-1").Return(
		[]*payout.Record{{ID: "p1", UserID: "user-1", Amount: 10}}, nil,
	)
	payouts.On("History", mock.Anything, "user-2").Return(nil, nil)

	status, resp := do(t, s, http.MethodGet, "/v1/users/user-1/payouts", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp["payouts"], 1)

	status, resp = do(t, s, http.MethodGet, "/v1/users/user-2/payouts", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, []interface{}{}, resp["payouts"])
}

// TestBasicAuth checks that credentials are required once configured.
func TestBasicAuth(t *testing.T) {
	t.Parallel()

	s, wallets, _ := newTestServer(&Options{
		Username: "payout", Password: "hunter2",
	})
	wallets.On("Balance", mock.Anything, testAddress).
		Return(btcutil.Amount(1), nil)

	path := "/v1/addresses/" + testAddress + "/balance"
	testCases := []struct {
		name       string
		user, pass string
		setAuth    bool
		wantStatus int
	}{
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{
			name: "wrong", user: "payout", pass: "nope",
			setAuth: true, wantStatus: http.StatusUnauthorized,
		},
		{
			name: "valid", user: "payout", pass: "hunter2",
			setAuth: true, wantStatus: http.StatusOK,
		},
	}
	for _, tc := range testCases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if tc.setAuth {
			req.SetBasicAuth(tc.user, tc.pass)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		require.Equal(t, tc.wantStatus, rec.Code, tc.name)
	}
}

// TestThrottle checks that requests beyond the client limit are refused.
func TestThrottle(t *testing.T) {
	t.Parallel()

	s, wallets, _ := newTestServer(&Options{MaxClients: 1})

	entered := make(chan struct{})
	release := make(chan struct{})
	wallets.On("Balance", mock.Anything, testAddress).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(btcutil.Amount(1), nil).Once()

	path := "/v1/addresses/" + testAddress + "/balance"
	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		done <- rec.Code
	}()
	<-entered

	status, _ := do(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusTooManyRequests, status)

	close(release)
	require.Equal(t, http.StatusOK, <-done)
}

// TestMetricsRoute checks that the gatherer is served when configured.
func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_requests_total",
		Help: "Test counter.",
	})
	registry.MustRegister(counter)
	counter.Inc()

	s := NewServer(&Options{}, &mockWallets{}, nil, registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "test_requests_total 1")

	// Payout routes are absent without a processor.
	status, _ := do(t, s, http.MethodPost, "/v1/payouts", "{}")
	require.Equal(t, http.StatusNotFound, status)
}
