// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package netparams maps a network name onto its chain parameters and the
// Esplora compatible indexer used by default on that network.
package netparams

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// IndexerURL is the base URL of the default Esplora REST API for the
	// network.
	IndexerURL string
}

// MainNetParams contains parameters specific to the main network
// (wire.MainNet).
var MainNetParams = Params{
	Params:     &chaincfg.MainNetParams,
	IndexerURL: "https://mempool.space/api",
}

// TestNet3Params contains parameters specific to the test network (version
// 3) (wire.TestNet3).  This is the network payouts are made on by default.
var TestNet3Params = Params{
	Params:     &chaincfg.TestNet3Params,
	IndexerURL: "https://mempool.space/testnet/api",
}

// TestNet4Params contains parameters specific to the test network (version
// 4).
var TestNet4Params = Params{
	Params:     &chaincfg.TestNet4Params,
	IndexerURL: "https://mempool.space/testnet4/api",
}

// SigNetParams contains parameters specific to the default signet.
var SigNetParams = Params{
	Params:     &chaincfg.SigNetParams,
	IndexerURL: "https://mempool.space/signet/api",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).  There is no public indexer, so the default points
// at a local electrs instance.
var RegressionNetParams = Params{
	Params:     &chaincfg.RegressionNetParams,
	IndexerURL: "http://127.0.0.1:3002",
}

// ForName returns the parameters for the named network.  Both the chaincfg
// names and the short "testnet" alias are accepted.
func ForName(name string) (*Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case MainNetParams.Name:
		return &MainNetParams, nil
	case "testnet", TestNet3Params.Name:
		return &TestNet3Params, nil
	case TestNet4Params.Name:
		return &TestNet4Params, nil
	case SigNetParams.Name:
		return &SigNetParams, nil
	case RegressionNetParams.Name:
		return &RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}
