// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/btcsuite/btcd/wire"
)

// DefaultReservationTTL is how long an outpoint spent by a broadcast payout
// stays excluded from selection.  It only needs to outlast the delay before
// the indexer drops the output from its UTXO listing.
const DefaultReservationTTL = 10 * time.Minute

// reservations remembers outpoints that were spent by a payout the indexer
// may not know about yet, so that a following payout from the same sender
// does not select them again.  Entries only ever hide indexer UTXOs.
type reservations struct {
	cache *ttlcache.Cache
}

func newReservations(ttl time.Duration) (*reservations, error) {
	cache := ttlcache.NewCache()
	if err := cache.SetTTL(ttl); err != nil {
		return nil, err
	}
	cache.SkipTTLExtensionOnHit(true)

	return &reservations{cache: cache}, nil
}

func reservationKey(address string, op wire.OutPoint) string {
	return fmt.Sprintf("%s:%v:%d", address, op.Hash, op.Index)
}

// reserve marks the outpoints as spent by address.
func (r *reservations) reserve(address string, ops []wire.OutPoint) {
	for _, op := range ops {
		if err := r.cache.Set(reservationKey(address, op), struct{}{}); err != nil {
			log.Warnf("Unable to reserve %v: %v", op, err)
		}
	}
}

// release drops the reservation of the outpoints.
func (r *reservations) release(address string, ops []wire.OutPoint) {
	for _, op := range ops {
		// Missing entries have simply expired.
		_ = r.cache.Remove(reservationKey(address, op))
	}
}

// reserved returns a predicate reporting the reserved outpoints of address.
func (r *reservations) reserved(address string) func(wire.OutPoint) bool {
	return func(op wire.OutPoint) bool {
		_, err := r.cache.Get(reservationKey(address, op))
		return err == nil
	}
}

func (r *reservations) close() error {
	return r.cache.Close()
}

// keyedMutex hands out one mutex per key.  Mutexes are dropped once nobody
// holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// lock acquires the mutex of key and returns the function releasing it.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
