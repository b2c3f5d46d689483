// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txsigner

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/chorebit/satpayout/wallet/txbuilder"
	"github.com/stretchr/testify/require"
)

// newKey returns a fresh key together with its P2WPKH output script.
func newKey(t *testing.T) (*btcec.PrivateKey, []byte) {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()),
		&chaincfg.TestNet3Params,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return key, script
}

// newAuthoredTx returns an unsigned payout spending two outputs of
// senderScript.
func newAuthoredTx(t *testing.T, senderScript []byte) *txbuilder.AuthoredTx {
	t.Helper()

	_, recipientScript := newKey(t)

	tx := wire.NewMsgTx(txbuilder.TxVersion)
	values := []btcutil.Amount{6_000, 5_000}
	for i := range values {
		var hash chainhash.Hash
		hash[0] = byte(i + 1)
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&hash, uint32(i)), nil,
			nil))
	}
	tx.AddTxOut(wire.NewTxOut(5_000, recipientScript))
	tx.AddTxOut(wire.NewTxOut(5_582, senderScript))

	return &txbuilder.AuthoredTx{
		Tx:              tx,
		PrevScripts:     [][]byte{senderScript, senderScript},
		PrevInputValues: values,
		TotalInput:      11_000,
		Fee:             418,
		ChangeIndex:     1,
	}
}

// TestSignPayout checks the full pipeline and that the resulting
// transaction passes the script engine.
func TestSignPayout(t *testing.T) {
	t.Parallel()

	key, script := newKey(t)
	authored := newAuthoredTx(t, script)

	tx, err := Signer{}.SignPayout(authored, key)
	require.NoError(t, err)

	require.Len(t, tx.TxIn, 2)
	for i, in := range tx.TxIn {
		require.Len(t, in.Witness, 2, "input %d", i)
		require.Equal(t, key.PubKey().SerializeCompressed(), in.Witness[1])
		require.Equal(t, byte(txscript.SigHashAll),
			in.Witness[0][len(in.Witness[0])-1])
		require.Empty(t, in.SignatureScript)
	}
	require.Equal(t, authored.Tx.TxHash(), tx.TxHash())

	// The authored transaction is left untouched.
	for _, in := range authored.Tx.TxIn {
		require.Empty(t, in.Witness)
	}

	fetcher, err := authored.PrevOutFetcher()
	require.NoError(t, err)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i := range tx.TxIn {
		vm, err := txscript.NewEngine(
			script, tx, i, txscript.StandardVerifyFlags, nil,
			sigHashes, int64(authored.PrevInputValues[i]), fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute())
	}
}

// TestVerifyRejectsTampering checks that every kind of modification made
// between signing and verification is caught.
func TestVerifyRejectsTampering(t *testing.T) {
	t.Parallel()

	otherKey, _ := newKey(t)

	testCases := []struct {
		name   string
		index  int
		tamper func(p *psbt.Packet)
	}{
		{
			name:  "flipped signature bit",
			index: 1,
			tamper: func(p *psbt.Packet) {
				sig := p.Inputs[1].PartialSigs[0].Signature
				sig[len(sig)-2] ^= 0x01
			},
		},
		{
			name:  "modified output",
			index: 0,
			tamper: func(p *psbt.Packet) {
				p.UnsignedTx.TxOut[0].Value++
			},
		},
		{
			name:  "foreign public key",
			index: 0,
			tamper: func(p *psbt.Packet) {
				p.Inputs[0].PartialSigs[0].PubKey =
					otherKey.PubKey().SerializeCompressed()
			},
		},
		{
			name:  "wrong sighash type",
			index: 1,
			tamper: func(p *psbt.Packet) {
				sig := p.Inputs[1].PartialSigs[0].Signature
				sig[len(sig)-1] = byte(txscript.SigHashNone)
			},
		},
		{
			name:  "missing signature",
			index: 0,
			tamper: func(p *psbt.Packet) {
				p.Inputs[0].PartialSigs = nil
			},
		},
		{
			name:  "garbage signature",
			index: 0,
			tamper: func(p *psbt.Packet) {
				p.Inputs[0].PartialSigs[0].Signature = []byte{
					0x30, 0x01, byte(txscript.SigHashAll),
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			key, script := newKey(t)
			signer := Signer{}

			packet, err := signer.NewPacket(newAuthoredTx(t, script))
			require.NoError(t, err)
			require.NoError(t, signer.Sign(packet, key))
			require.NoError(t, signer.Verify(packet))

			tc.tamper(packet)

			err = signer.Verify(packet)
			require.ErrorIs(t, err, ErrSignatureVerification)

			var sigErr *SignatureVerificationError
			require.True(t, errors.As(err, &sigErr))
			require.Equal(t, tc.index, sigErr.Index)
		})
	}
}

// TestSignKeyMismatch checks that a key not controlling the inputs is
// refused before anything is signed.
func TestSignKeyMismatch(t *testing.T) {
	t.Parallel()

	_, script := newKey(t)
	otherKey, _ := newKey(t)
	signer := Signer{}

	packet, err := signer.NewPacket(newAuthoredTx(t, script))
	require.NoError(t, err)

	err = signer.Sign(packet, otherKey)
	require.ErrorIs(t, err, ErrKeyMismatch)
	require.Empty(t, packet.Inputs[0].PartialSigs)
}

// TestSignUnsupportedInput checks that only P2WPKH outputs are signed.
func TestSignUnsupportedInput(t *testing.T) {
	t.Parallel()

	key, script := newKey(t)
	authored := newAuthoredTx(t, script)
	authored.PrevScripts[1] = []byte{txscript.OP_TRUE}

	signer := Signer{}
	packet, err := signer.NewPacket(authored)
	require.NoError(t, err)

	err = signer.Sign(packet, key)
	require.ErrorIs(t, err, ErrUnsupportedInput)
}

// TestFinalizeUnsigned checks that an unsigned packet cannot be finalized.
func TestFinalizeUnsigned(t *testing.T) {
	t.Parallel()

	_, script := newKey(t)
	signer := Signer{}

	packet, err := signer.NewPacket(newAuthoredTx(t, script))
	require.NoError(t, err)

	_, err = signer.Finalize(packet)
	require.ErrorIs(t, err, ErrFinalization)
}

// TestNewPacketMetadataMismatch checks the authored tx consistency check.
func TestNewPacketMetadataMismatch(t *testing.T) {
	t.Parallel()

	_, script := newKey(t)
	authored := newAuthoredTx(t, script)
	authored.PrevInputValues = authored.PrevInputValues[:1]

	_, err := Signer{}.NewPacket(authored)
	require.Error(t, err)
}
