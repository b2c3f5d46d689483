// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/chorebit/satpayout/wallet"
)

// rotateKeys reseals every stored wallet key under the primary key of keys.
// It runs instead of the API server when --rotatekeys is given, so no payout
// can read an envelope while it is rewritten.
func rotateKeys(ctx context.Context, st wallet.EnvelopeStore,
	keys wallet.Rekeyer) error {

	n, err := wallet.RotateEnvelopes(ctx, st, keys)
	if err != nil {
		log.Errorf("Key rotation stopped after %d wallets: %v", n, err)
		return err
	}

	log.Infof("Resealed %d wallet keys under the primary key", n)
	return nil
}
