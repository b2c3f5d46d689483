// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/wallet"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockSender is a mock implementation of the Sender interface.
type mockSender struct {
	mock.Mock
}

func (m *mockSender) WalletInfo(ctx context.Context, kind wallet.OwnerKind,
	ownerID string) (*wallet.Info, error) {

	args := m.Called(ctx, kind, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Info), args.Error(1)
}

func (m *mockSender) SendPayout(ctx context.Context, senderOrgID,
	recipientUserID string, amount int64) (string, error) {

	args := m.Called(ctx, senderOrgID, recipientUserID, amount)
	return args.String(0), args.Error(1)
}

// mockRecorder is a mock implementation of the Recorder interface.
type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordPayout(ctx context.Context, r *Record) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *mockRecorder) PayoutsByUser(ctx context.Context,
	userID string) ([]*Record, error) {

	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Record), args.Error(1)
}

var payoutDate = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

// TestClassify checks the on-time, grace and closed windows.
func TestClassify(t *testing.T) {
	t.Parallel()

	est := time.FixedZone("EST", -5*60*60)

	testCases := []struct {
		name     string
		settings Settings
		now      time.Time
		window   Window
		closed   bool
	}{
		{
			name:     "payout day",
			settings: Settings{NextPayoutDate: payoutDate},
			now:      payoutDate.Add(15 * time.Hour),
			window:   Window{OnTime: true},
		},
		{
			name:     "day after",
			settings: Settings{NextPayoutDate: payoutDate},
			now:      payoutDate.Add(36 * time.Hour),
			window:   Window{Grace: true},
		},
		{
			name:     "grace ended",
			settings: Settings{NextPayoutDate: payoutDate},
			now:      payoutDate.AddDate(0, 0, DefaultGraceDays),
			closed:   true,
		},
		{
			name:     "before payout day",
			settings: Settings{NextPayoutDate: payoutDate},
			now:      payoutDate.Add(-12 * time.Hour),
			window:   Window{Grace: true},
		},
		{
			name: "longer grace",
			settings: Settings{
				NextPayoutDate: payoutDate,
				GraceDays:      5,
			},
			now:    payoutDate.AddDate(0, 0, 4),
			window: Window{Grace: true},
		},
		{
			name: "organization time zone",
			settings: Settings{
				NextPayoutDate: time.Date(
					2025, time.March, 10, 0, 0, 0, 0, est,
				),
				Location: est,
			},
			// 23:00 on the payout day in EST.
			now:    time.Date(2025, time.March, 11, 4, 0, 0, 0, time.UTC),
			window: Window{OnTime: true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			window, err := tc.settings.Classify(tc.now)
			if tc.closed {
				require.ErrorIs(t, err, ErrWindowClosed)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.window, window)
		})
	}
}

func newTestProcessor(now time.Time) (*Processor, *mockSender,
	*mockRecorder) {

	sender := &mockSender{}
	recorder := &mockRecorder{}
	p := NewProcessor(sender, recorder)
	p.now = func() time.Time { return now }

	return p, sender, recorder
}

func testClaim() *Claim {
	return &Claim{
		OrgID:       "org-1",
		UserID:      "user-1",
		Earned:      4_000,
		ChoreLogIDs: []string{"log-1", "log-2"},
		Settings: Settings{
			NextPayoutDate: payoutDate,
			OnTimeBonus:    1_000,
		},
	}
}

// TestProcessOnTime checks that an on-time claim pays the bonus and is
// recorded with the indexer's txid.
func TestProcessOnTime(t *testing.T) {
	t.Parallel()

	now := payoutDate.Add(9 * time.Hour)
	p, sender, recorder := newTestProcessor(now)

	sender.On("WalletInfo", mock.Anything, wallet.OwnerUser, "user-1").
		Return(&wallet.Info{Address: "tb1qrecipient"}, nil)
	sender.On("SendPayout", mock.Anything, "org-1", "user-1", int64(5_000)).
		Return("txid-1", nil)
	recorder.On("RecordPayout", mock.Anything, mock.Anything).Return(nil)

	record, err := p.Process(context.Background(), testClaim())
	require.NoError(t, err)

	require.NotEmpty(t, record.ID)
	require.EqualValues(t, 4_000, record.Amount)
	require.EqualValues(t, 1_000, record.BonusAmount)
	require.Equal(t, btcutil.Amount(5_000), record.Total())
	require.Equal(t, "txid-1", record.TxID)
	require.Equal(t, "tb1qrecipient", record.WalletAddress)
	require.True(t, record.OnTime)
	require.False(t, record.GraceClaim)
	require.Equal(t, now, record.PaidAt)
	require.Equal(t, []string{"log-1", "log-2"}, record.ChoreLogIDs)

	recorder.AssertCalled(t, "RecordPayout", mock.Anything, record)
}

// TestProcessGrace checks that a grace claim is paid without the bonus.
func TestProcessGrace(t *testing.T) {
	t.Parallel()

	p, sender, recorder := newTestProcessor(payoutDate.Add(30 * time.Hour))

	sender.On("WalletInfo", mock.Anything, wallet.OwnerUser, "user-1").
		Return(&wallet.Info{Address: "tb1qrecipient"}, nil)
	sender.On("SendPayout", mock.Anything, "org-1", "user-1", int64(4_000)).
		Return("txid-2", nil)
	recorder.On("RecordPayout", mock.Anything, mock.Anything).Return(nil)

	record, err := p.Process(context.Background(), testClaim())
	require.NoError(t, err)
	require.Zero(t, record.BonusAmount)
	require.True(t, record.GraceClaim)
	require.False(t, record.OnTime)
}

// TestProcessRejected checks that rejected claims neither pay nor record.
func TestProcessRejected(t *testing.T) {
	t.Parallel()

	sendErr := wallet.Error{Code: wallet.ErrInsufficientFunds}

	testCases := []struct {
		name   string
		now    time.Time
		mutate func(c *Claim)
		setup  func(s *mockSender)
		err    error
	}{
		{
			name:   "nothing earned",
			now:    payoutDate,
			mutate: func(c *Claim) { c.Earned = 0 },
			err:    ErrNothingToPay,
		},
		{
			name: "window closed",
			now:  payoutDate.AddDate(0, 0, 3),
			err:  ErrWindowClosed,
		},
		{
			name: "repeated chore log",
			now:  payoutDate,
			mutate: func(c *Claim) {
				c.ChoreLogIDs = []string{"c1", "c2", "c1"}
			},
			err: ErrDuplicateChoreLog,
		},
		{
			name: "empty chore log",
			now:  payoutDate,
			mutate: func(c *Claim) {
				c.ChoreLogIDs = []string{"c1", ""}
			},
			err: ErrDuplicateChoreLog,
		},
		{
			name: "payout failed",
			now:  payoutDate,
			setup: func(s *mockSender) {
				s.On("WalletInfo", mock.Anything, mock.Anything,
					mock.Anything).Return(&wallet.Info{}, nil)
				s.On("SendPayout", mock.Anything, mock.Anything,
					mock.Anything, mock.Anything).Return("", sendErr)
			},
			err: sendErr,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, sender, recorder := newTestProcessor(tc.now)
			if tc.setup != nil {
				tc.setup(sender)
			}
			claim := testClaim()
			if tc.mutate != nil {
				tc.mutate(claim)
			}

			record, err := p.Process(context.Background(), claim)
			require.Nil(t, record)
			require.ErrorIs(t, err, tc.err)

			recorder.AssertNotCalled(
				t, "RecordPayout", mock.Anything, mock.Anything,
			)
			if tc.setup == nil {
				sender.AssertNotCalled(t, "SendPayout", mock.Anything,
					mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

// TestProcessRecordFailure checks that a broadcast payout is still
// returned when it cannot be recorded.
func TestProcessRecordFailure(t *testing.T) {
	t.Parallel()

	p, sender, recorder := newTestProcessor(payoutDate)

	sender.On("WalletInfo", mock.Anything, wallet.OwnerUser, "user-1").
		Return(&wallet.Info{Address: "tb1qrecipient"}, nil)
	sender.On("SendPayout", mock.Anything, "org-1", "user-1", int64(5_000)).
		Return("txid-3", nil)
	recorder.On("RecordPayout", mock.Anything, mock.Anything).
		Return(errors.New("disk full"))

	record, err := p.Process(context.Background(), testClaim())
	require.ErrorIs(t, err, ErrRecord)
	require.NotNil(t, record)
	require.Equal(t, "txid-3", record.TxID)
}
