/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"math/rand"
	"sync"
)

// QpType enumerates the transport types a QP can be created with; only RC
// is implemented (spec.md Non-goals exclude unreliable datagram).
type QpType uint8

const (
	QPTypeRC QpType = iota
)

// QpState tracks the INIT -> RTR -> RTS lifecycle of spec.md §3.
type QpState uint8

const (
	QpStateInit QpState = iota
	QpStateRTR
	QpStateRTS
	QpStateError
)

// AccessFlags mirrors the ibv_access_flags bits this core understands.
type AccessFlags uint8

const (
	AccessLocalWrite AccessFlags = 1 << iota
	AccessRemoteWrite
	AccessRemoteRead
)

// QpAttr is the shared, per-entry-locked QP attribute record of spec.md §5
// ("QP attribute table: per-entry mutex; writers are admin-plane calls,
// readers are every datapath worker").
type QpAttr struct {
	QpType  QpType
	QPN     uint32
	DQPN    uint32
	IP      uint32
	DQPIP   uint32
	MacAddr uint64
	PMTU    PMTU
	Access  AccessFlags
	SendCQ  *uint32
	RecvCQ  *uint32
	State   QpState
}

func (a QpAttr) Params() QPParams {
	return QPParams{SQPN: a.QPN, DQPN: a.DQPN, PMTU: a.PMTU, DQPIP: a.DQPIP, MacAddr: a.MacAddr}
}

// qpIndex extracts the table index (high bits) of a QPN; the low
// QPNKeyWidth bits are a random reincarnation key, per
// rust-driver/src/qp.rs::QpManager.
func qpIndex(qpn uint32) int { return int(qpn >> QPNKeyWidth) }

// QpManager allocates and frees QPN table slots.
type QpManager struct {
	mu     sync.Mutex
	bitmap []bool
	rng    *rand.Rand
}

func NewQpManager() *QpManager {
	return &QpManager{bitmap: make([]bool, MaxQPCount), rng: rand.New(rand.NewSource(1))}
}

// CreateQP allocates a fresh QPN: a free table index with a random low-bit
// key, so a reincarnated QP at the same index never collides with stale
// peer state addressed to the old incarnation.
func (m *QpManager) CreateQP() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, used := range m.bitmap {
		if !used {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, ErrResourceExhausted
	}
	m.bitmap[idx] = true
	key := uint32(m.rng.Intn(1 << QPNKeyWidth))
	return uint32(idx)<<QPNKeyWidth | key, nil
}

func (m *QpManager) DestroyQP(qpn uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := qpIndex(qpn)
	if idx >= 0 && idx < len(m.bitmap) {
		m.bitmap[idx] = false
	}
}

// QpTableShared is the process-lived table of per-QP shared attributes:
// every entry independently mutex-guarded, workers hold only the QPN
// handle, never a pointer into another worker's state (spec.md §9).
type QpTableShared struct {
	entries []qpEntry
}

type qpEntry struct {
	mu   sync.Mutex
	attr QpAttr
	used bool
}

func NewQpTableShared() *QpTableShared {
	return &QpTableShared{entries: make([]qpEntry, MaxQPCount)}
}

func (t *QpTableShared) Create(qpn uint32, attr QpAttr) {
	idx := qpIndex(qpn)
	if idx < 0 || idx >= len(t.entries) {
		return
	}
	e := &t.entries[idx]
	e.mu.Lock()
	e.attr = attr
	e.used = true
	e.mu.Unlock()
}

func (t *QpTableShared) Destroy(qpn uint32) {
	idx := qpIndex(qpn)
	if idx < 0 || idx >= len(t.entries) {
		return
	}
	e := &t.entries[idx]
	e.mu.Lock()
	e.used = false
	e.attr = QpAttr{}
	e.mu.Unlock()
}

// Get returns a copy of the QP's attributes, safe to read concurrently from
// any worker.
func (t *QpTableShared) Get(qpn uint32) (QpAttr, bool) {
	idx := qpIndex(qpn)
	if idx < 0 || idx >= len(t.entries) {
		return QpAttr{}, false
	}
	e := &t.entries[idx]
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.used {
		return QpAttr{}, false
	}
	return e.attr, true
}

// Update applies f to the QP's attributes under its entry lock; used by
// admin-plane update_qp calls (spec.md §6).
func (t *QpTableShared) Update(qpn uint32, f func(*QpAttr)) bool {
	idx := qpIndex(qpn)
	if idx < 0 || idx >= len(t.entries) {
		return false
	}
	e := &t.entries[idx]
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.used {
		return false
	}
	f(&e.attr)
	return true
}

// QPTable is the unshared, single-worker-owned variant: one slot per QPN,
// no locking, because exactly one worker ever touches it (spec.md §9 "which
// worker owns what").
type QPTable[T any] struct {
	entries []T
	used    []bool
}

func NewQPTable[T any]() *QPTable[T] {
	return &QPTable[T]{entries: make([]T, MaxQPCount), used: make([]bool, MaxQPCount)}
}

func (t *QPTable[T]) Ensure(qpn uint32) *T {
	idx := qpIndex(qpn)
	t.used[idx] = true
	return &t.entries[idx]
}

func (t *QPTable[T]) Get(qpn uint32) (*T, bool) {
	idx := qpIndex(qpn)
	if idx < 0 || idx >= len(t.entries) || !t.used[idx] {
		return nil, false
	}
	return &t.entries[idx], true
}

func (t *QPTable[T]) Remove(qpn uint32) {
	idx := qpIndex(qpn)
	if idx >= 0 && idx < len(t.entries) {
		var zero T
		t.entries[idx] = zero
		t.used[idx] = false
	}
}
