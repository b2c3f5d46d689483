// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txsigner signs, checks and finalizes payout transactions.
//
// An authored transaction is wrapped in a PSBT carrying the witness UTXO and
// SIGHASH_ALL for every input.  Each input is signed over its BIP143 sighash,
// every signature is then re-verified with an independent secp256k1
// implementation, and only then is the packet finalized and extracted.  A
// failed check at any stage means the transaction must not be broadcast.
package txsigner

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/chorebit/satpayout/wallet/txbuilder"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// sigHashType is the only sighash type used for payouts.
const sigHashType = txscript.SigHashAll

// Signer implements the four signing stages.  It holds no state; the zero
// value is ready to use.
type Signer struct{}

// NewPacket wraps a copy of the authored transaction in a PSBT with the
// witness UTXO and sighash type of every input set.
func (Signer) NewPacket(tx *txbuilder.AuthoredTx) (*psbt.Packet, error) {
	if len(tx.PrevScripts) != len(tx.Tx.TxIn) ||
		len(tx.PrevInputValues) != len(tx.Tx.TxIn) {

		return nil, fmt.Errorf("authored tx has %d inputs but %d "+
			"scripts and %d values", len(tx.Tx.TxIn),
			len(tx.PrevScripts), len(tx.PrevInputValues))
	}

	packet, err := psbt.NewFromUnsignedTx(tx.Tx.Copy())
	if err != nil {
		return nil, err
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}
	for i := range tx.Tx.TxIn {
		utxo := wire.NewTxOut(
			int64(tx.PrevInputValues[i]), tx.PrevScripts[i],
		)
		if err := updater.AddInWitnessUtxo(utxo, i); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if err := updater.AddInSighashType(sigHashType, i); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	return packet, nil
}

// Sign adds a partial signature by key to every input of the packet, in
// input order.
func (Signer) Sign(packet *psbt.Packet, key *btcec.PrivateKey) error {
	if err := psbt.InputsReadyToSign(packet); err != nil {
		return err
	}

	pubKey := key.PubKey().SerializeCompressed()
	pubKeyHash := btcutil.Hash160(pubKey)

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return err
	}

	tx := packet.UnsignedTx
	fetcher := prevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i := range tx.TxIn {
		utxo := packet.Inputs[i].WitnessUtxo
		if utxo == nil || !txscript.IsPayToWitnessPubKeyHash(utxo.PkScript) {
			return fmt.Errorf("input %d: %w", i, ErrUnsupportedInput)
		}
		if !bytes.Equal(witnessProgram(utxo.PkScript), pubKeyHash) {
			return fmt.Errorf("input %d: %w", i, ErrKeyMismatch)
		}

		hash, err := txscript.CalcWitnessSigHash(
			utxo.PkScript, sigHashes, sigHashType, tx, i,
			utxo.Value,
		)
		if err != nil {
			return fmt.Errorf("input %d: sighash: %w", i, err)
		}

		sig := btcecdsa.Sign(key, hash)
		sigBytes := append(sig.Serialize(), byte(sigHashType))

		outcome, err := updater.Sign(i, sigBytes, pubKey, nil, nil)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if outcome != psbt.SignSuccesful {
			return fmt.Errorf("input %d: unexpected sign outcome %d",
				i, outcome)
		}

		log.Tracef("Signed input %d (%v)", i, tx.TxIn[i].PreviousOutPoint)
	}

	return nil
}

// Verify re-checks every partial signature of the packet against a freshly
// computed sighash and the public key committed to by the spent output.
func (Signer) Verify(packet *psbt.Packet) error {
	tx := packet.UnsignedTx
	if len(packet.Inputs) != len(tx.TxIn) {
		return &SignatureVerificationError{
			Index:  0,
			Reason: "input count mismatch",
		}
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOutputFetcher(packet))
	for i := range tx.TxIn {
		if err := verifyInput(packet, sigHashes, i); err != nil {
			log.Errorf("Signature check failed: %v", err)
			return err
		}
	}

	return nil
}

// verifyInput checks the single partial signature of input i.
func verifyInput(packet *psbt.Packet, sigHashes *txscript.TxSigHashes,
	i int) error {

	fail := func(format string, args ...interface{}) error {
		return &SignatureVerificationError{
			Index:  i,
			Reason: fmt.Sprintf(format, args...),
		}
	}

	in := packet.Inputs[i]
	if in.WitnessUtxo == nil ||
		!txscript.IsPayToWitnessPubKeyHash(in.WitnessUtxo.PkScript) {

		return fail("missing or unsupported witness utxo")
	}
	if len(in.PartialSigs) != 1 {
		return fail("expected 1 partial signature, found %d",
			len(in.PartialSigs))
	}
	partial := in.PartialSigs[0]

	pubKey, err := secp256k1.ParsePubKey(partial.PubKey)
	if err != nil {
		return fail("invalid public key: %v", err)
	}
	if !bytes.Equal(btcutil.Hash160(partial.PubKey),
		witnessProgram(in.WitnessUtxo.PkScript)) {

		return fail("public key does not match witness program")
	}

	sigBytes := partial.Signature
	if len(sigBytes) < 2 {
		return fail("signature too short")
	}
	if txscript.SigHashType(sigBytes[len(sigBytes)-1]) != sigHashType {
		return fail("unexpected sighash type %#x",
			sigBytes[len(sigBytes)-1])
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes[:len(sigBytes)-1])
	if err != nil {
		return fail("invalid signature encoding: %v", err)
	}

	hash, err := txscript.CalcWitnessSigHash(
		in.WitnessUtxo.PkScript, sigHashes, sigHashType,
		packet.UnsignedTx, i, in.WitnessUtxo.Value,
	)
	if err != nil {
		return fail("sighash: %v", err)
	}

	if !sig.Verify(hash, pubKey) {
		return fail("signature does not verify")
	}

	return nil
}

// Finalize assembles the witnesses of a verified packet, extracts the
// network transaction and runs every input through the script engine.
func (Signer) Finalize(packet *psbt.Packet) (*wire.MsgTx, error) {
	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFinalization, err)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFinalization, err)
	}

	fetcher := prevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("%w: input %d has no witness utxo",
				ErrFinalization, i)
		}

		vm, err := txscript.NewEngine(
			in.WitnessUtxo.PkScript, tx, i,
			txscript.StandardVerifyFlags, nil, sigHashes,
			in.WitnessUtxo.Value, fetcher,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %v",
				ErrFinalization, i, err)
		}
		if err := vm.Execute(); err != nil {
			return nil, fmt.Errorf("%w: input %d: %v",
				ErrFinalization, i, err)
		}
	}

	log.Debugf("Finalized transaction %v (%d inputs, %d outputs)",
		tx.TxHash(), len(tx.TxIn), len(tx.TxOut))

	return tx, nil
}

// SignPayout runs all stages in order and returns the network transaction.
func (s Signer) SignPayout(tx *txbuilder.AuthoredTx,
	key *btcec.PrivateKey) (*wire.MsgTx, error) {

	packet, err := s.NewPacket(tx)
	if err != nil {
		return nil, err
	}
	if err := s.Sign(packet, key); err != nil {
		return nil, err
	}
	if err := s.Verify(packet); err != nil {
		return nil, err
	}

	return s.Finalize(packet)
}

// prevOutputFetcher returns a txscript.PrevOutFetcher built from the witness
// UTXOs of a packet.
func prevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		if idx >= len(packet.Inputs) {
			break
		}
		if utxo := packet.Inputs[idx].WitnessUtxo; utxo != nil {
			fetcher.AddPrevOut(txIn.PreviousOutPoint, utxo)
		}
	}

	return fetcher
}

// witnessProgram returns the 20 byte key hash of a P2WPKH script.
func witnessProgram(pkScript []byte) []byte {
	return pkScript[2:]
}
