// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package payout turns the unpaid rewards of a user into an on-chain payout
// and the record of it.
//
// An organization pays out on a scheduled date.  A claim made on that date
// earns the organization's on-time bonus.  A claim made afterwards, but before
// the grace period ends, is paid without the bonus.  Later claims are
// refused.  The payout record is only written once the indexer has returned
// a transaction id.
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/wallet"
	"github.com/google/uuid"
)

// DefaultGraceDays is the grace period used when an organization has none
// configured.
const DefaultGraceDays = 2

var (
	// ErrNothingToPay is returned when a claim carries no earned rewards.
	ErrNothingToPay = errors.New("no unpaid rewards to pay out")

	// ErrWindowClosed is returned when a claim is made after the grace
	// period of the scheduled payout date.
	ErrWindowClosed = errors.New("payout window has closed")

	// ErrDuplicateChoreLog is returned when a claim lists a chore log
	// more than once, or lists an empty id.
	ErrDuplicateChoreLog = errors.New("chore log listed more than once")

	// ErrRecord is returned when the payout was broadcast but its record
	// could not be written.  The returned Record is still valid.
	ErrRecord = errors.New("unable to record payout")
)

// Settings are the payout terms of an organization.
type Settings struct {
	// NextPayoutDate is the scheduled payout day.  Only its calendar date
	// in Location matters.
	NextPayoutDate time.Time

	// GraceDays is the number of days after NextPayoutDate during which
	// a claim is still paid.  DefaultGraceDays is used if zero.
	GraceDays int

	// OnTimeBonus is added to claims made on NextPayoutDate.
	OnTimeBonus btcutil.Amount

	// Location is the time zone of the organization.  UTC is used if
	// nil.
	Location *time.Location
}

// Window describes where a claim falls relative to the payout date.
type Window struct {
	OnTime bool
	Grace  bool
}

// Classify returns the window now falls in, or ErrWindowClosed.
func (s *Settings) Classify(now time.Time) (Window, error) {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	graceDays := s.GraceDays
	if graceDays <= 0 {
		graceDays = DefaultGraceDays
	}

	payoutDate := s.NextPayoutDate.In(loc)
	localNow := now.In(loc)

	py, pm, pd := payoutDate.Date()
	ny, nm, nd := localNow.Date()
	if py == ny && pm == nm && pd == nd {
		return Window{OnTime: true}, nil
	}

	graceEnd := payoutDate.AddDate(0, 0, graceDays)
	if graceEnd.After(now) {
		return Window{Grace: true}, nil
	}

	return Window{}, fmt.Errorf("%w: grace period ended %v",
		ErrWindowClosed, graceEnd)
}

// Claim is a request to pay a user the rewards they earned.
type Claim struct {
	OrgID  string
	UserID string

	// Earned is the sum of the unpaid rewards being claimed.
	Earned btcutil.Amount

	// ChoreLogIDs identify the rewards being claimed so the caller can
	// mark them paid.
	ChoreLogIDs []string

	Settings Settings
}

// Record is the persisted result of a successful payout.
type Record struct {
	ID     string
	OrgID  string
	UserID string

	// Amount is the earned reward paid, BonusAmount the on-time bonus
	// paid on top of it.
	Amount      btcutil.Amount
	BonusAmount btcutil.Amount

	TxID          string
	WalletAddress string
	OnTime        bool
	GraceClaim    bool
	ChoreLogIDs   []string
	PaidAt        time.Time
}

// Total returns the value sent on chain.
func (r *Record) Total() btcutil.Amount {
	return r.Amount + r.BonusAmount
}

// Sender is the part of the wallet service a Processor uses.
type Sender interface {
	WalletInfo(ctx context.Context, kind wallet.OwnerKind,
		ownerID string) (*wallet.Info, error)
	SendPayout(ctx context.Context, senderOrgID, recipientUserID string,
		amount int64) (string, error)
}

// Recorder persists payout records.
type Recorder interface {
	RecordPayout(ctx context.Context, r *Record) error
	PayoutsByUser(ctx context.Context, userID string) ([]*Record, error)
}

// Processor pays claims.
type Processor struct {
	sender   Sender
	recorder Recorder
	now      func() time.Time
}

// NewProcessor returns a Processor paying through sender and recording to
// recorder.
func NewProcessor(sender Sender, recorder Recorder) *Processor {
	return &Processor{
		sender:   sender,
		recorder: recorder,
		now:      time.Now,
	}
}

// Process pays a claim and records it.  Nothing is recorded unless the
// payout was broadcast.  If recording fails after the broadcast the record
// is returned together with an error matching ErrRecord, so that the caller
// can retry only the recording.
func (p *Processor) Process(ctx context.Context, claim *Claim) (*Record,
	error) {

	if claim.Earned <= 0 {
		return nil, ErrNothingToPay
	}
	if err := checkChoreLogs(claim.ChoreLogIDs); err != nil {
		return nil, err
	}

	now := p.now()
	window, err := claim.Settings.Classify(now)
	if err != nil {
		return nil, err
	}

	var bonus btcutil.Amount
	if window.OnTime {
		bonus = claim.Settings.OnTimeBonus
	}
	total := claim.Earned + bonus

	recipient, err := p.sender.WalletInfo(
		ctx, wallet.OwnerUser, claim.UserID,
	)
	if err != nil {
		return nil, err
	}

	txid, err := p.sender.SendPayout(
		ctx, claim.OrgID, claim.UserID, int64(total),
	)
	if err != nil {
		return nil, err
	}

	record := &Record{
		ID:            uuid.NewString(),
		OrgID:         claim.OrgID,
		UserID:        claim.UserID,
		Amount:        claim.Earned,
		BonusAmount:   bonus,
		TxID:          txid,
		WalletAddress: recipient.Address,
		OnTime:        window.OnTime,
		GraceClaim:    window.Grace,
		ChoreLogIDs:   claim.ChoreLogIDs,
		PaidAt:        now.UTC(),
	}

	if err := p.recorder.RecordPayout(ctx, record); err != nil {
		log.Criticalf("Payout %s to user %s was broadcast but not "+
			"recorded: %v", txid, claim.UserID, err)

		return record, fmt.Errorf("%w: %v", ErrRecord, err)
	}

	log.Infof("Paid %v (bonus %v) to user %s in %s", record.Amount,
		record.BonusAmount, record.UserID, record.TxID)

	return record, nil
}

// checkChoreLogs refuses claims whose chore logs could not all be recorded
// against a single payout.
func checkChoreLogs(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty id", ErrDuplicateChoreLog)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateChoreLog, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// History returns the recorded payouts of a user.
func (p *Processor) History(ctx context.Context,
	userID string) ([]*Record, error) {

	return p.recorder.PayoutsByUser(ctx, userID)
}
