// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/internal/cfgutil"
	"github.com/chorebit/satpayout/netparams"
	"github.com/chorebit/satpayout/pkg/unit"
	"github.com/chorebit/satpayout/rpc/walletrpc"
	"github.com/chorebit/satpayout/wallet"
	"github.com/chorebit/satpayout/walletstore/kvstore"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	defaultConfigFilename = "payoutd.conf"
	defaultEnvFilename    = ".env"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "payoutd.log"
	defaultNetwork        = "testnet3"
	defaultListenPort     = "8335"
	defaultListen         = "localhost:" + defaultListenPort
	defaultFeeTier        = string(chain.HalfHourFee)
	defaultMaxFeeRate     = 500
	defaultOnTimeBonus    = 0
	defaultHistoryLimit   = chain.DefaultHistoryLimit

	// Store kinds selectable with --store.
	storeKV       = "kv"
	storePostgres = "postgres"
	storeSQLite   = "sqlite"

	sqliteDBName = "payout.sqlite"

	// databaseURLEnvVar is read when --postgresdsn is not given.
	databaseURLEnvVar = "DATABASE_URL"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("payoutd", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultDataDir    = defaultAppDataDir
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	EnvFile     *cfgutil.ExplicitString `long:"envfile" description:"Path to a .env file loaded before CRYPTO_SECRET is read"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string                  `short:"b" long:"datadir" description:"Directory to store wallets and payout records"`
	LogDir      string                  `long:"logdir" description:"Directory to log output"`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Network     string                  `long:"network" description:"Network payouts are made on {mainnet, testnet3, testnet4, signet, regtest}"`
	RotateKeys  bool                    `long:"rotatekeys" description:"Reseal every stored wallet key under CRYPTO_SECRET, opening old ones with CRYPTO_SECRET_RETIRED, and exit"`

	// Indexer options
	IndexerURL      *cfgutil.ExplicitString `long:"indexerurl" description:"Base URL of the Esplora REST API (default depends on --network)"`
	IndexerTimeout  time.Duration           `long:"indexertimeout" description:"Timeout of every indexer request"`
	FeeTier         string                  `long:"feetier" description:"Fee estimate to pay {fastestFee, halfHourFee, hourFee, economyFee, minimumFee}"`
	FallbackFeeRate *cfgutil.FeeRateFlag    `long:"fallbackfeerate" description:"Fee rate in sat/vB used when no estimate is available"`
	MaxFeeRate      *cfgutil.FeeRateFlag    `long:"maxfeerate" description:"Highest fee rate in sat/vB a payout may pay"`
	ReservationTTL  time.Duration           `long:"reservationttl" description:"How long outputs spent by a broadcast payout are kept out of coin selection"`
	HistoryLimit    int                     `long:"historylimit" description:"Number of transactions returned by wallet snapshots"`

	// Storage options
	Store       string        `long:"store" description:"Storage backend {kv, sqlite, postgres}"`
	DBTimeout   time.Duration `long:"dbtimeout" description:"Timeout when opening the kv database"`
	PostgresDSN string        `long:"postgresdsn" default-mask:"-" description:"Postgres connection string (default $DATABASE_URL)"`

	// API server options
	Listen         string              `long:"listen" description:"Interface/port the API listens on (default port: 8335)"`
	APIUsername    string              `long:"apiuser" description:"Username for API basic authentication"`
	APIPassword    string              `long:"apipass" default-mask:"-" description:"Password for API basic authentication"`
	APIMaxClients  int64               `long:"apimaxclients" description:"Max number of concurrently served API requests"`
	RequestTimeout time.Duration       `long:"requesttimeout" description:"Timeout of every API request"`
	OnTimeBonus    *cfgutil.AmountFlag `long:"ontimebonus" description:"Bonus paid to on-time payout claims that carry none (satoshis, or N BTC)"`
	NoMetrics      bool                `long:"nometrics" description:"Do not serve prometheus metrics on /metrics"`

	params *netparams.Params
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		subsysID, logLevel, ok := strings.Cut(logLevelPair, "=")
		if !ok {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// defaultConfig returns the configuration used before any file or command
// line option is applied.
func defaultConfig() config {
	return config{
		ConfigFile:      cfgutil.NewExplicitString(defaultConfigFile),
		EnvFile:         cfgutil.NewExplicitString(defaultEnvFilename),
		DataDir:         defaultDataDir,
		LogDir:          defaultLogDir,
		DebugLevel:      defaultLogLevel,
		Network:         defaultNetwork,
		IndexerURL:      cfgutil.NewExplicitString(""),
		IndexerTimeout:  chain.DefaultTimeout,
		FeeTier:         defaultFeeTier,
		FallbackFeeRate: cfgutil.NewFeeRateFlag(chain.DefaultFallbackFeeRate),
		MaxFeeRate:      cfgutil.NewFeeRateFlag(defaultMaxFeeRate),
		ReservationTTL:  wallet.DefaultReservationTTL,
		HistoryLimit:    defaultHistoryLimit,
		Store:           storeKV,
		DBTimeout:       kvstore.DefaultDBTimeout,
		Listen:          defaultListen,
		APIMaxClients:   walletrpc.DefaultMaxClients,
		RequestTimeout:  walletrpc.DefaultRequestTimeout,
		OnTimeBonus:     cfgutil.NewAmountFlag(defaultOnTimeBonus),
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//  5. Load the .env file so CRYPTO_SECRET and DATABASE_URL may come from it
//
// The above results in payoutd functioning properly without any config
// settings while still allowing the user to override settings with config files
// and command line options.  Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := defaultConfig()
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cfgutil.CleanAndExpandPath(preCfg.ConfigFile.Value)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) || preCfg.ConfigFile.ExplicitlySet() {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	cfg.params, err = netparams.ForName(cfg.Network)
	if err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	cfg.IndexerURL.SetDefault(cfg.params.IndexerURL)

	// Namespace the data and log directories per network.
	cfg.DataDir = filepath.Join(
		cfgutil.CleanAndExpandPath(cfg.DataDir), cfg.params.Name,
	)
	cfg.LogDir = filepath.Join(
		cfgutil.CleanAndExpandPath(cfg.LogDir), cfg.params.Name,
	)

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	// Environment files never override variables that are already set.
	envFile := cfgutil.CleanAndExpandPath(cfg.EnvFile.Value)
	if err := godotenv.Load(envFile); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) || cfg.EnvFile.ExplicitlySet() {
			err := fmt.Errorf("%s: unable to load %s: %v", funcName,
				envFile, err)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	} else {
		log.Infof("Loaded environment from %s", envFile)
	}

	if err := validateConfig(&cfg); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}

// validateConfig checks option values and fills in the ones derived from
// others.
func validateConfig(cfg *config) error {
	if cfg.IndexerURL.Value == "" {
		return errors.New("--indexerurl must not be empty")
	}
	if _, err := chain.ParseFeeTier(cfg.FeeTier); err != nil {
		return err
	}
	if cfg.FallbackFeeRate.LessThan(unit.MinRelayFeeRate) {
		return fmt.Errorf("--fallbackfeerate %v is below the minimum "+
			"relay fee rate %v", cfg.FallbackFeeRate,
			unit.MinRelayFeeRate)
	}
	if cfg.FallbackFeeRate.GreaterThan(cfg.MaxFeeRate.SatPerVByte) {
		return fmt.Errorf("--fallbackfeerate %v exceeds --maxfeerate %v",
			cfg.FallbackFeeRate, cfg.MaxFeeRate)
	}
	if cfg.HistoryLimit <= 0 {
		return errors.New("--historylimit must be positive")
	}
	if (cfg.APIUsername == "") != (cfg.APIPassword == "") {
		return errors.New("--apiuser and --apipass must be set together")
	}

	listen, err := cfgutil.NormalizeAddress(cfg.Listen, defaultListenPort)
	if err != nil {
		return fmt.Errorf("invalid --listen %q: %v", cfg.Listen, err)
	}
	cfg.Listen = listen

	switch cfg.Store {
	case storeKV, storeSQLite:
	case storePostgres:
		if cfg.PostgresDSN == "" {
			cfg.PostgresDSN = os.Getenv(databaseURLEnvVar)
		}
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("--store=%s requires --postgresdsn or $%s",
				storePostgres, databaseURLEnvVar)
		}
	default:
		return fmt.Errorf("unknown --store %q", cfg.Store)
	}

	return nil
}
