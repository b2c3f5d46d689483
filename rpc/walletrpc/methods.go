// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletrpc

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/wallet"
	"github.com/labstack/echo/v4"
)

// payoutDateLayout is the format of PayoutRequest.NextPayoutDate.
const payoutDateLayout = time.DateOnly

func (s *Server) createWallet(kind wallet.OwnerKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		info, err := s.wallets.CreateWallet(
			c.Request().Context(), kind, c.Param("id"),
		)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, info)
	}
}

func (s *Server) ownerSnapshot(kind wallet.OwnerKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var (
			snapshot *wallet.Snapshot
			err      error
		)
		ctx, id := c.Request().Context(), c.Param("id")
		if kind == wallet.OwnerUser {
			snapshot, err = s.wallets.UserWalletSnapshot(ctx, id)
		} else {
			snapshot, err = s.wallets.OrgWalletSnapshot(ctx, id)
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, marshalSnapshot(snapshot))
	}
}

func (s *Server) sendTransaction(c echo.Context) error {
	var req SendTransactionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("amountSatoshis must be an integer")
	}

	txid, err := s.wallets.SendPayout(
		c.Request().Context(), req.SenderOrgID, req.RecipientUserID,
		req.AmountSatoshis,
	)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, SendTransactionResponse{TxID: txid})
}

func (s *Server) addressSnapshot(c echo.Context) error {
	snapshot, err := s.wallets.WalletSnapshot(
		c.Request().Context(), c.Param("address"),
	)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, marshalSnapshot(snapshot))
}

func (s *Server) balance(c echo.Context) error {
	address := c.Param("address")
	balance, err := s.wallets.Balance(c.Request().Context(), address)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, BalanceResponse{
		Address: address,
		Balance: int64(balance),
	})
}

func (s *Server) history(c echo.Context) error {
	var limit int
	if v := c.QueryParam("limit"); v != "" {
		var err error
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return badRequest("limit must be a positive integer")
		}
	}

	address := c.Param("address")
	history, err := s.wallets.History(
		c.Request().Context(), address, limit,
	)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, HistoryResponse{
		Address:      address,
		Transactions: marshalTransactions(history),
	})
}

// parseClaim validates a payout request.
func (s *Server) parseClaim(req *PayoutRequest) (*payout.Claim, error) {
	if strings.TrimSpace(req.OrgID) == "" ||
		strings.TrimSpace(req.UserID) == "" {

		return nil, badRequest("orgId and userId are required")
	}
	if req.GraceDays < 0 {
		return nil, badRequest("graceDays must not be negative")
	}

	loc := time.UTC
	if req.TimeZone != "" {
		var err error
		loc, err = time.LoadLocation(req.TimeZone)
		if err != nil {
			return nil, badRequest("unknown timeZone")
		}
	}

	date, err := time.ParseInLocation(
		payoutDateLayout, req.NextPayoutDate, loc,
	)
	if err != nil {
		return nil, badRequest("nextPayoutDate must be YYYY-MM-DD")
	}

	bonus := s.opts.DefaultOnTimeBonus
	if req.OnTimeBonusSatoshis != nil {
		if *req.OnTimeBonusSatoshis < 0 {
			return nil, badRequest(
				"onTimeBonusSatoshis must not be negative",
			)
		}
		bonus = btcutil.Amount(*req.OnTimeBonusSatoshis)
	}

	return &payout.Claim{
		OrgID:       req.OrgID,
		UserID:      req.UserID,
		Earned:      btcutil.Amount(req.EarnedSatoshis),
		ChoreLogIDs: req.ChoreLogIDs,
		Settings: payout.Settings{
			NextPayoutDate: date,
			GraceDays:      req.GraceDays,
			OnTimeBonus:    bonus,
			Location:       loc,
		},
	}, nil
}

func (s *Server) processPayout(c echo.Context) error {
	var req PayoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("malformed payout request")
	}

	claim, err := s.parseClaim(&req)
	if err != nil {
		return err
	}

	record, err := s.payouts.Process(c.Request().Context(), claim)
	switch {
	case errors.Is(err, payout.ErrRecord) && record != nil:
		// The payout is on chain; the caller must not pay again.
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "payout broadcast but not recorded",
			TxID:  record.TxID,
		})

	case err != nil:
		return err
	}

	return c.JSON(http.StatusOK, marshalPayout(record))
}

func (s *Server) payoutHistory(c echo.Context) error {
	userID := c.Param("id")
	records, err := s.payouts.History(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	payouts := make([]Payout, 0, len(records))
	for _, r := range records {
		payouts = append(payouts, marshalPayout(r))
	}

	return c.JSON(http.StatusOK, PayoutHistoryResponse{
		UserID:  userID,
		Payouts: payouts,
	})
}
