// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
)

// ErrStaleEnvelope is returned by an EnvelopeStore when the stored envelope
// no longer matches the one the caller read.
var ErrStaleEnvelope = errors.New("key envelope changed")

// Rekeyer seals an existing envelope under the current key.  It is
// implemented by *keystore.KeyStore.
type Rekeyer interface {
	Reencrypt(envelope string) (string, error)
}

// EnvelopeStore is implemented by stores whose key envelopes can be
// replaced.  The key, the address and every other field stay unchanged.
type EnvelopeStore interface {
	// Wallets returns every stored wallet.
	Wallets(ctx context.Context) ([]*Wallet, error)

	// ReplaceEnvelope swaps the envelope of wallet id from oldEnvelope to
	// newEnvelope.  It returns ErrNoWallet for an unknown id and
	// ErrStaleEnvelope if the stored envelope is not oldEnvelope.
	ReplaceEnvelope(ctx context.Context, id, oldEnvelope,
		newEnvelope string) error
}

// RotateEnvelopes reseals the key of every stored wallet under the primary
// key of keys and returns how many envelopes were replaced.  It stops at the
// first envelope that cannot be opened; the ones replaced before it stay
// replaced.
func RotateEnvelopes(ctx context.Context, store EnvelopeStore,
	keys Rekeyer) (int, error) {

	wallets, err := store.Wallets(ctx)
	if err != nil {
		return 0, walletError(ErrInternal, "unable to list wallets", err)
	}

	var rotated int
	for _, w := range wallets {
		if err := ctx.Err(); err != nil {
			return rotated, err
		}

		envelope, err := keys.Reencrypt(w.EncryptedPrivateKey)
		if err != nil {
			return rotated, walletError(ErrDecryption,
				"unable to reseal key of wallet "+w.ID, err)
		}

		err = store.ReplaceEnvelope(ctx, w.ID, w.EncryptedPrivateKey,
			envelope)
		if err != nil {
			return rotated, walletError(ErrInternal,
				"unable to store key of wallet "+w.ID, err)
		}
		rotated++

		log.Debugf("Resealed key of wallet %s", w.ID)
	}

	log.Infof("Resealed %d wallet keys", rotated)

	return rotated, nil
}
