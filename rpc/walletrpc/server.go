// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walletrpc implements the JSON HTTP API of the payout daemon.
//
// Every failure is answered with an ErrorResponse.  Wallet error codes map
// onto HTTP statuses: invalid input is a 400, an unknown owner a 404, an
// existing wallet or a conflicting spend a 409, missing funds a 422, and an
// unreachable indexer a 502.  Internal faults are reported without detail.
package walletrpc

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/wallet"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultMaxClients is the number of requests served concurrently
	// before further requests are refused with a 429.
	DefaultMaxClients = 100

	// DefaultRequestTimeout bounds the work done for one request.
	DefaultRequestTimeout = 60 * time.Second

	// maxBodyBytes limits request bodies.
	maxBodyBytes = "64K"
)

// Options contains the options for running the API server.
type Options struct {
	// Username and Password enable HTTP basic authentication when both
	// are set.
	Username string
	Password string

	// MaxClients limits concurrently served requests.
	// DefaultMaxClients is used if zero.
	MaxClients int64

	// RequestTimeout bounds every request.  DefaultRequestTimeout is
	// used if zero.
	RequestTimeout time.Duration

	// DefaultOnTimeBonus is paid to on-time claims that do not carry
	// their own bonus.
	DefaultOnTimeBonus btcutil.Amount
}

// WalletService is the wallet surface served by the API.  It is implemented
// by *wallet.Service.
type WalletService interface {
	CreateWallet(ctx context.Context, kind wallet.OwnerKind,
		ownerID string) (*wallet.Info, error)
	SendPayout(ctx context.Context, senderOrgID, recipientUserID string,
		amount int64) (string, error)
	Balance(ctx context.Context, address string) (btcutil.Amount, error)
	History(ctx context.Context, address string,
		limit int) ([]chain.TxSummary, error)
	WalletSnapshot(ctx context.Context,
		address string) (*wallet.Snapshot, error)
	UserWalletSnapshot(ctx context.Context,
		userID string) (*wallet.Snapshot, error)
	OrgWalletSnapshot(ctx context.Context,
		orgID string) (*wallet.Snapshot, error)
}

// PayoutProcessor pays and lists reward claims.  It is implemented by
// *payout.Processor.
type PayoutProcessor interface {
	Process(ctx context.Context, claim *payout.Claim) (*payout.Record, error)
	History(ctx context.Context, userID string) ([]*payout.Record, error)
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer http.Server
	wallets    WalletService
	payouts    PayoutProcessor
	opts       Options
	wg         sync.WaitGroup
}

// NewServer creates a server serving wallets and, if payouts is not nil,
// the payout routes.  If gatherer is not nil its metrics are served on
// /metrics.
func NewServer(opts *Options, wallets WalletService, payouts PayoutProcessor,
	gatherer prometheus.Gatherer) *Server {

	s := &Server{
		echo:    echo.New(),
		wallets: wallets,
		payouts: payouts,
		opts:    *opts,
	}
	if s.opts.MaxClients <= 0 {
		s.opts.MaxClients = DefaultMaxClients
	}
	if s.opts.RequestTimeout <= 0 {
		s.opts.RequestTimeout = DefaultRequestTimeout
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handleError

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodyBytes))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context,
			v middleware.RequestLoggerValues) error {

			log.Debugf("%s %s -> %d (%v)", v.Method, v.URIPath,
				v.Status, v.Latency)
			return nil
		},
	}))
	e.Use(throttled(s.opts.MaxClients))
	if s.opts.Username != "" && s.opts.Password != "" {
		e.Use(middleware.BasicAuth(basicAuthValidator(
			s.opts.Username, s.opts.Password,
		)))
	}
	e.Use(timeout(s.opts.RequestTimeout))

	s.registerRoutes(gatherer)

	s.httpServer = http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	v1 := s.echo.Group("/v1")

	v1.POST("/users/:id/wallet", s.createWallet(wallet.OwnerUser))
	v1.POST("/orgs/:id/wallet", s.createWallet(wallet.OwnerOrganization))
	v1.GET("/users/:id/wallet", s.ownerSnapshot(wallet.OwnerUser))
	v1.GET("/orgs/:id/wallet", s.ownerSnapshot(wallet.OwnerOrganization))

	v1.POST("/transactions", s.sendTransaction)

	v1.GET("/addresses/:address", s.addressSnapshot)
	v1.GET("/addresses/:address/balance", s.balance)
	v1.GET("/addresses/:address/history", s.history)

	if s.payouts != nil {
		v1.POST("/payouts", s.processPayout)
		v1.GET("/users/:id/payouts", s.payoutHistory)
	}

	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		))
	}
}

// ServeHTTP serves a single request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Serve serves the API on lis.  This function does not block on
// lis.Accept.
func (s *Server) Serve(lis net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Infof("Listening on %s", lis.Addr())
		err := s.httpServer.Serve(lis)
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Unable to serve API: %v", err)
			return
		}
		log.Tracef("Finished serving API: %v", err)
	}()
}

// Stop gracefully shuts down the server, waiting for active requests until
// ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	log.Warn("Stopping API server...")

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()

	log.Info("API server shutdown")
	return err
}

// basicAuthValidator compares credentials in constant time.
func basicAuthValidator(username, password string) middleware.BasicAuthValidator {
	want := sha256.Sum256([]byte(username + ":" + password))

	return func(user, pass string, _ echo.Context) (bool, error) {
		got := sha256.Sum256([]byte(user + ":" + pass))
		return subtle.ConstantTimeCompare(got[:], want[:]) == 1, nil
	}
}

// throttled limits the number of concurrently served requests by responding
// with an HTTP 429 when the threshold is crossed.
func throttled(threshold int64) echo.MiddlewareFunc {
	var active atomic.Int64

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			current := active.Add(1)
			defer active.Add(-1)

			if current-1 >= threshold {
				log.Warnf("Reached threshold of %d concurrent "+
					"active clients", threshold)
				return echo.NewHTTPError(
					http.StatusTooManyRequests,
				)
			}

			return next(c)
		}
	}
}

// timeout bounds the context of every request.
func timeout(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(
				c.Request().Context(), d,
			)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
