// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/chorebit/satpayout/addrmgr"
	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/keystore"
	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/rpc/walletrpc"
	"github.com/chorebit/satpayout/wallet"
	"github.com/chorebit/satpayout/wallet/txbuilder"
	"github.com/chorebit/satpayout/wallet/txsigner"
	"github.com/chorebit/satpayout/walletstore/sqlstore"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all subsystem
// loggers created from it will write to the backend.  When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.  The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences will
	// occur.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log          = backendLog.Logger("PAYD")
	walletLog    = backendLog.Logger("WLLT")
	chainLog     = backendLog.Logger("CHIO")
	keystoreLog  = backendLog.Logger("KSTR")
	addrmgrLog   = backendLog.Logger("AMGR")
	txbuilderLog = backendLog.Logger("TXBD")
	txsignerLog  = backendLog.Logger("TXSG")
	payoutLog    = backendLog.Logger("PAYT")
	sqlstoreLog  = backendLog.Logger("SQLS")
	httpLog      = backendLog.Logger("HTTP")
)

// Initialize package-global logger variables.
func init() {
	wallet.UseLogger(walletLog)
	chain.UseLogger(chainLog)
	keystore.UseLogger(keystoreLog)
	addrmgr.UseLogger(addrmgrLog)
	txbuilder.UseLogger(txbuilderLog)
	txsigner.UseLogger(txsignerLog)
	payout.UseLogger(payoutLog)
	sqlstore.UseLogger(sqlstoreLog)
	walletrpc.UseLogger(httpLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"PAYD": log,
	"WLLT": walletLog,
	"CHIO": chainLog,
	"KSTR": keystoreLog,
	"AMGR": addrmgrLog,
	"TXBD": txbuilderLog,
	"TXSG": txsignerLog,
	"PAYT": payoutLog,
	"SQLS": sqlstoreLog,
	"HTTP": httpLog,
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	logRotator = r
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
