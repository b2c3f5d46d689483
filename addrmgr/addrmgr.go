// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addrmgr generates the single key of a payout wallet and converts it
// between its in-memory, address and WIF forms.
//
// Every wallet owns exactly one secp256k1 key and receives on the native
// segwit (P2WPKH) address of its compressed public key.  None of the
// functions in this package touch storage or the network.
package addrmgr

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrKeyGeneration is returned when the randomness source could not
	// produce a private key.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrAddressDerivation is returned when a public key cannot be turned
	// into a P2WPKH address.
	ErrAddressDerivation = errors.New("address derivation failed")

	// ErrInvalidWIF is returned when a private key string is not a
	// compressed WIF.
	ErrInvalidWIF = errors.New("invalid WIF private key")

	// ErrWrongNetwork is returned when a WIF was encoded for a different
	// network than the one requested.
	ErrWrongNetwork = errors.New("private key is for a different network")
)

// newPrivateKey is the key source.  It is replaced by tests to simulate an
// exhausted randomness source.
var newPrivateKey = btcec.NewPrivateKey

// KeyPair is a freshly generated wallet key.
type KeyPair struct {
	PrivKey *btcec.PrivateKey
	PubKey  *btcec.PublicKey
}

// SerializedPubKey returns the 33 byte compressed public key.
func (k *KeyPair) SerializedPubKey() []byte {
	return k.PubKey.SerializeCompressed()
}

// Zero clears the private scalar.  The pair must not be used afterwards.
func (k *KeyPair) Zero() {
	if k.PrivKey != nil {
		k.PrivKey.Zero()
	}
}

// GenerateKeyPair returns a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := newPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	return &KeyPair{
		PrivKey: priv,
		PubKey:  priv.PubKey(),
	}, nil
}

// DeriveAddress returns the P2WPKH address paying to the given serialized
// public key on params.  Only compressed keys are accepted since
// uncompressed keys are non-standard in witness programs.
func DeriveAddress(pubKey []byte,
	params *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {

	if len(pubKey) != btcec.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("%w: public key is %d bytes, want %d",
			ErrAddressDerivation, len(pubKey),
			btcec.PubKeyBytesLenCompressed)
	}
	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressDerivation, err)
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey), params,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressDerivation, err)
	}

	return addr, nil
}

// ExportPrivateKey encodes priv as a compressed WIF string for params.
func ExportPrivateKey(priv *btcec.PrivateKey,
	params *chaincfg.Params) (string, error) {

	wif, err := btcutil.NewWIF(priv, params, true)
	if err != nil {
		return "", err
	}

	return wif.String(), nil
}

// ImportPrivateKey decodes a compressed WIF string and checks that it was
// encoded for params.
func ImportPrivateKey(wifStr string,
	params *chaincfg.Params) (*btcec.PrivateKey, error) {

	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWIF, err)
	}
	if !wif.CompressPubKey {
		return nil, fmt.Errorf("%w: uncompressed keys are not supported",
			ErrInvalidWIF)
	}
	if !wif.IsForNet(params) {
		log.Debugf("Refusing WIF for a network other than %s",
			params.Name)

		return nil, ErrWrongNetwork
	}

	return wif.PrivKey, nil
}
