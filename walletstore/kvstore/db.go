// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kvstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/wallet"
)

// Key names for the top-level and nested buckets.
var (
	walletBucketName = []byte("wallets")
	payoutBucketName = []byte("payouts")

	// Nested buckets of walletBucketName.
	walletByIDBucketName      = []byte("id")
	walletByOwnerBucketName   = []byte("owner")
	walletByAddressBucketName = []byte("address")

	// Nested buckets of payoutBucketName.
	payoutByIDBucketName   = []byte("id")
	payoutByUserBucketName = []byte("user")
)

const (
	// walletRowVersion and payoutRowVersion prefix every serialized row.
	walletRowVersion = 1
	payoutRowVersion = 1
)

// errDeserialize is wrapped by every row decoding failure.
var errDeserialize = errors.New("malformed row")

// ownerKey returns the key of the owner index: the owner kind followed by
// the owner id.
func ownerKey(kind wallet.OwnerKind, ownerID string) []byte {
	key := make([]byte, 1+len(ownerID))
	key[0] = byte(kind)
	copy(key[1:], ownerID)
	return key
}

// userPayoutKey returns the key of the per-user payout index: the user id, a
// zero separator, the big endian payment time and the record id, so that a
// cursor over a user prefix yields records in payment order.
func userPayoutKey(userID string, paidAt time.Time, id string) []byte {
	key := make([]byte, 0, len(userID)+1+8+len(id))
	key = append(key, userID...)
	key = append(key, 0)
	key = binary.BigEndian.AppendUint64(key, uint64(paidAt.UnixNano()))
	key = append(key, id...)
	return key
}

// rowWriter appends length prefixed fields to a row.
type rowWriter struct {
	buf []byte
}

func (w *rowWriter) uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *rowWriter) uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *rowWriter) string(s string) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *rowWriter) bool(b bool) {
	if b {
		w.uint8(1)
		return
	}
	w.uint8(0)
}

// rowReader consumes the fields written by rowWriter.  The first failure is
// kept in err and every later read returns a zero value.
type rowReader struct {
	buf []byte
	err error
}

func (r *rowReader) fail(field string, need int) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s needs %d bytes, %d left",
			errDeserialize, field, need, len(r.buf))
	}
}

func (r *rowReader) uint8(field string) uint8 {
	if r.err != nil || len(r.buf) < 1 {
		r.fail(field, 1)
		return 0
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v
}

func (r *rowReader) uint64(field string) uint64 {
	if r.err != nil || len(r.buf) < 8 {
		r.fail(field, 8)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v
}

func (r *rowReader) string(field string) string {
	if r.err != nil || len(r.buf) < 4 {
		r.fail(field, 4)
		return ""
	}
	n := int(binary.LittleEndian.Uint32(r.buf))
	r.buf = r.buf[4:]
	if len(r.buf) < n {
		r.fail(field, n)
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *rowReader) bool(field string) bool {
	return r.uint8(field) != 0
}

// serializeWallet returns the row of a wallet record.  The format is:
//
//	<version><kind><created_at><id><owner_id><address><envelope><network>
//
// where created_at is the little endian unix nanosecond time and every
// string is a 4 byte little endian length followed by its bytes.
func serializeWallet(w *wallet.Wallet) []byte {
	var rw rowWriter
	rw.uint8(walletRowVersion)
	rw.uint8(uint8(w.OwnerKind))
	rw.uint64(uint64(w.CreatedAt.UnixNano()))
	rw.string(w.ID)
	rw.string(w.OwnerID)
	rw.string(w.Address)
	rw.string(w.EncryptedPrivateKey)
	rw.string(w.Network)
	return rw.buf
}

func deserializeWallet(row []byte) (*wallet.Wallet, error) {
	r := rowReader{buf: row}
	if v := r.uint8("version"); r.err == nil && v != walletRowVersion {
		return nil, fmt.Errorf("%w: unknown wallet row version %d",
			errDeserialize, v)
	}

	w := &wallet.Wallet{
		OwnerKind: wallet.OwnerKind(r.uint8("owner kind")),
		CreatedAt: time.Unix(0, int64(r.uint64("created at"))).UTC(),
	}
	w.ID = r.string("id")
	w.OwnerID = r.string("owner id")
	w.Address = r.string("address")
	w.EncryptedPrivateKey = r.string("encrypted key")
	w.Network = r.string("network")
	if r.err != nil {
		return nil, r.err
	}

	return w, nil
}

// serializePayout returns the row of a payout record.  The format is:
//
//	<version><flags><amount><bonus><paid_at><id><org_id><user_id><txid>
//	<address><num_logs><log_id>...
//
// with flags bit 0 set for on-time and bit 1 for grace claims.
func serializePayout(p *payout.Record) []byte {
	var rw rowWriter
	rw.uint8(payoutRowVersion)

	var flags uint8
	if p.OnTime {
		flags |= 1 << 0
	}
	if p.GraceClaim {
		flags |= 1 << 1
	}
	rw.uint8(flags)
	rw.uint64(uint64(p.Amount))
	rw.uint64(uint64(p.BonusAmount))
	rw.uint64(uint64(p.PaidAt.UnixNano()))
	rw.string(p.ID)
	rw.string(p.OrgID)
	rw.string(p.UserID)
	rw.string(p.TxID)
	rw.string(p.WalletAddress)
	rw.uint64(uint64(len(p.ChoreLogIDs)))
	for _, id := range p.ChoreLogIDs {
		rw.string(id)
	}
	return rw.buf
}

func deserializePayout(row []byte) (*payout.Record, error) {
	r := rowReader{buf: row}
	if v := r.uint8("version"); r.err == nil && v != payoutRowVersion {
		return nil, fmt.Errorf("%w: unknown payout row version %d",
			errDeserialize, v)
	}

	flags := r.uint8("flags")
	p := &payout.Record{
		OnTime:      flags&(1<<0) != 0,
		GraceClaim:  flags&(1<<1) != 0,
		Amount:      btcutil.Amount(r.uint64("amount")),
		BonusAmount: btcutil.Amount(r.uint64("bonus")),
		PaidAt:      time.Unix(0, int64(r.uint64("paid at"))).UTC(),
	}
	p.ID = r.string("id")
	p.OrgID = r.string("org id")
	p.UserID = r.string("user id")
	p.TxID = r.string("txid")
	p.WalletAddress = r.string("address")

	numLogs := r.uint64("chore log count")
	if r.err == nil && numLogs > uint64(len(r.buf)) {
		return nil, fmt.Errorf("%w: %d chore logs in %d bytes",
			errDeserialize, numLogs, len(r.buf))
	}
	for i := uint64(0); i < numLogs; i++ {
		p.ChoreLogIDs = append(p.ChoreLogIDs, r.string("chore log id"))
	}
	if r.err != nil {
		return nil, r.err
	}

	return p, nil
}
