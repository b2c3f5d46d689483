// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletrpc

import (
	"time"

	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/wallet"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// TxID is set when a payout was broadcast but could not be recorded.
	TxID string `json:"txid,omitempty"`
}

// SendTransactionRequest is the body of POST /v1/transactions.
type SendTransactionRequest struct {
	SenderOrgID     string `json:"senderOrgId"`
	RecipientUserID string `json:"recipientUserId"`
	AmountSatoshis  int64  `json:"amountSatoshis"`
}

// SendTransactionResponse carries the txid reported by the indexer.
type SendTransactionResponse struct {
	TxID string `json:"txid"`
}

// BalanceResponse is the confirmed balance of an address in satoshis.
type BalanceResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// Transaction is a history entry.
type Transaction struct {
	TxID        string `json:"txid"`
	Direction   string `json:"direction"`
	Net         int64  `json:"net"`
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int32  `json:"blockHeight,omitempty"`
	BlockTime   int64  `json:"blockTime,omitempty"`
}

// HistoryResponse lists the recent transactions of an address.
type HistoryResponse struct {
	Address      string        `json:"address"`
	Transactions []Transaction `json:"transactions"`
}

// SnapshotResponse is the balance and recent history of a wallet.
type SnapshotResponse struct {
	Address      string        `json:"address"`
	Balance      int64         `json:"balance"`
	Transactions []Transaction `json:"transactions"`
}

// PayoutRequest is the body of POST /v1/payouts.
type PayoutRequest struct {
	OrgID          string   `json:"orgId"`
	UserID         string   `json:"userId"`
	EarnedSatoshis int64    `json:"earnedSatoshis"`
	ChoreLogIDs    []string `json:"choreLogIds"`

	// NextPayoutDate is the scheduled payout day as YYYY-MM-DD.
	NextPayoutDate string `json:"nextPayoutDate"`
	GraceDays      int    `json:"graceDays"`

	// OnTimeBonusSatoshis overrides the server's default bonus.
	OnTimeBonusSatoshis *int64 `json:"onTimeBonusSatoshis,omitempty"`

	// TimeZone is an IANA zone name.  UTC is used if empty.
	TimeZone string `json:"timeZone"`
}

// Payout is a recorded payout.
type Payout struct {
	ID            string   `json:"id"`
	TxID          string   `json:"txid"`
	OrgID         string   `json:"orgId"`
	UserID        string   `json:"userId"`
	Amount        int64    `json:"amount"`
	BonusAmount   int64    `json:"bonusAmount"`
	Total         int64    `json:"total"`
	WalletAddress string   `json:"walletAddress"`
	OnTime        bool     `json:"onTime"`
	GraceClaim    bool     `json:"graceClaim"`
	ChoreLogIDs   []string `json:"choreLogIds"`
	PaidAt        string   `json:"paidAt"`
}

// PayoutHistoryResponse lists the recorded payouts of a user.
type PayoutHistoryResponse struct {
	UserID  string   `json:"userId"`
	Payouts []Payout `json:"payouts"`
}

func marshalTransactions(history []chain.TxSummary) []Transaction {
	txs := make([]Transaction, 0, len(history))
	for _, h := range history {
		tx := Transaction{
			TxID:      h.TxID,
			Direction: h.Direction.String(),
			Net:       int64(h.Net),
			Confirmed: h.Confirmed,
		}
		if h.Confirmed {
			tx.BlockHeight = h.BlockHeight
			tx.BlockTime = h.BlockTime.Unix()
		}
		txs = append(txs, tx)
	}
	return txs
}

func marshalSnapshot(s *wallet.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		Address:      s.Address,
		Balance:      int64(s.Balance),
		Transactions: marshalTransactions(s.History),
	}
}

func marshalPayout(r *payout.Record) Payout {
	choreLogs := r.ChoreLogIDs
	if choreLogs == nil {
		choreLogs = []string{}
	}
	return Payout{
		ID:            r.ID,
		TxID:          r.TxID,
		OrgID:         r.OrgID,
		UserID:        r.UserID,
		Amount:        int64(r.Amount),
		BonusAmount:   int64(r.BonusAmount),
		Total:         int64(r.Total()),
		WalletAddress: r.WalletAddress,
		OnTime:        r.OnTime,
		GraceClaim:    r.GraceClaim,
		ChoreLogIDs:   choreLogs,
		PaidAt:        r.PaidAt.UTC().Format(time.RFC3339),
	}
}
