// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/keystore"
	"github.com/chorebit/satpayout/metrics"
	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/rpc/walletrpc"
	"github.com/chorebit/satpayout/wallet"
	"github.com/chorebit/satpayout/walletstore/kvstore"
	"github.com/chorebit/satpayout/walletstore/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout bounds how long in-flight requests may run after an
// interrupt.
const shutdownTimeout = 30 * time.Second

// store is the storage surface shared by every backend.
type store interface {
	wallet.Store
	wallet.EnvelopeStore
	payout.Recorder
	Close() error
}

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := payoutMain(); err != nil {
		os.Exit(1)
	}
}

// payoutMain is a work-around main function that is required since deferred
// functions (such as log rotator closing) are not called with calls to
// os.Exit.  Instead, main runs this function and checks for a non-nil error,
// at which point any defers have already run, and if the error is non-nil,
// the program can be exited with an error exit status.
func payoutMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s", version())
	log.Infof("Paying out on %s using %s", cfg.params.Name,
		cfg.IndexerURL.Value)

	keys, err := keystore.FromEnv()
	if err != nil {
		log.Errorf("Unable to load wallet encryption key: %v", err)
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Errorf("Unable to open %s store: %v", cfg.Store, err)
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorf("Unable to close store: %v", err)
		}
	}()

	if cfg.RotateKeys {
		return rotateKeys(context.Background(), st, keys)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		log.Errorf("Unable to register metrics: %v", err)
		return err
	}

	feeTier, err := chain.ParseFeeTier(cfg.FeeTier)
	if err != nil {
		return err
	}
	indexer, err := chain.NewEsploraClient(&chain.EsploraConfig{
		URL:             cfg.IndexerURL.Value,
		Timeout:         cfg.IndexerTimeout,
		FeeTier:         feeTier,
		FallbackFeeRate: &cfg.FallbackFeeRate.SatPerVByte,
		Observer:        m,
	})
	if err != nil {
		log.Errorf("Unable to create indexer client: %v", err)
		return err
	}

	svc, err := wallet.New(wallet.Config{
		Store:          st,
		Indexer:        indexer,
		Sealer:         keys,
		Params:         cfg.params.Params,
		MaxFeeRate:     &cfg.MaxFeeRate.SatPerVByte,
		ReservationTTL: cfg.ReservationTTL,
		HistoryLimit:   cfg.HistoryLimit,
		Observer:       m,
	})
	if err != nil {
		log.Errorf("Unable to create wallet service: %v", err)
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("Unable to close wallet service: %v", err)
		}
	}()

	processor := payout.NewProcessor(svc, st)

	var gatherer prometheus.Gatherer
	if !cfg.NoMetrics {
		gatherer = registry
	}
	server := walletrpc.NewServer(&walletrpc.Options{
		Username:           cfg.APIUsername,
		Password:           cfg.APIPassword,
		MaxClients:         cfg.APIMaxClients,
		RequestTimeout:     cfg.RequestTimeout,
		DefaultOnTimeBonus: cfg.OnTimeBonus.Amount,
	}, svc, processor, gatherer)

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Errorf("Unable to listen on %s: %v", cfg.Listen, err)
		return err
	}
	server.Serve(lis)

	// Shutdown the server if an interrupt signal is received.
	addInterruptHandler(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			log.Errorf("Unable to stop API server cleanly: %v", err)
		}
	})

	<-interruptHandlersDone
	log.Info("Shutdown complete")
	return nil
}

// openStore opens the storage backend selected in the configuration.
func openStore(cfg *config) (store, error) {
	switch cfg.Store {
	case storeKV:
		return kvstore.Open(cfg.DataDir, cfg.DBTimeout)

	case storeSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, err
		}
		dsn := sqlstore.SQLiteDSN(filepath.Join(cfg.DataDir, sqliteDBName))
		return openSQLStore(sqlstore.DriverSQLite, dsn, cfg.DBTimeout)

	case storePostgres:
		return openSQLStore(sqlstore.DriverPostgres, cfg.PostgresDSN,
			cfg.DBTimeout)

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func openSQLStore(driver, dsn string, timeout time.Duration) (store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return sqlstore.Open(ctx, driver, dsn)
}
