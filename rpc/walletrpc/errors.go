// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletrpc

import (
	"errors"
	"net/http"

	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/wallet"
	"github.com/labstack/echo/v4"
)

// internalErrorMessage replaces the text of faults the caller cannot act on.
const internalErrorMessage = "internal error"

// errorStatus returns the HTTP status for a wallet error code.
func errorStatus(code wallet.ErrorCode) int {
	switch code {
	case wallet.ErrInvalidAmount, wallet.ErrInvalidOwner,
		wallet.ErrInvalidAddress, wallet.ErrDustAmount:

		return http.StatusBadRequest

	case wallet.ErrWalletNotFound:
		return http.StatusNotFound

	case wallet.ErrWalletExists, wallet.ErrConflict:
		return http.StatusConflict

	case wallet.ErrNoSpendableFunds, wallet.ErrInsufficientFunds,
		wallet.ErrInsufficientFundsForFee, wallet.ErrFeeRate:

		return http.StatusUnprocessableEntity

	case wallet.ErrAddressLookup, wallet.ErrBroadcast:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// errorResponse returns the status and body describing err.  Only errors
// the caller can act on have their text exposed.
func errorResponse(err error) (int, ErrorResponse) {
	var (
		walletErr wallet.Error
		httpErr   *echo.HTTPError
	)
	switch {
	case errors.As(err, &walletErr):
		status := errorStatus(walletErr.Code)
		resp := ErrorResponse{
			Error:     walletErr.Description,
			Code:      walletErr.Code.String(),
			Retryable: walletErr.Code.Retryable(),
		}
		if status == http.StatusInternalServerError {
			resp.Error = internalErrorMessage
		}
		return status, resp

	case errors.Is(err, payout.ErrNothingToPay),
		errors.Is(err, payout.ErrDuplicateChoreLog):

		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}

	case errors.Is(err, payout.ErrWindowClosed):
		return http.StatusUnprocessableEntity,
			ErrorResponse{Error: err.Error()}

	case errors.As(err, &httpErr):
		msg := http.StatusText(httpErr.Code)
		if s, ok := httpErr.Message.(string); ok {
			msg = s
		}
		return httpErr.Code, ErrorResponse{Error: msg}

	default:
		return http.StatusInternalServerError,
			ErrorResponse{Error: internalErrorMessage}
	}
}

// badRequest returns an error rendered as a 400 with msg as its text.
func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// handleError is the echo error handler of the server.  Every error leaves as
// an ErrorResponse.
func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, resp := errorResponse(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	} else {
		log.Debugf("%s %s: %v", c.Request().Method, c.Path(), err)
	}

	if err := c.JSON(status, resp); err != nil {
		log.Warnf("Unable to write error response: %v", err)
	}
}
