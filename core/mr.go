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

// Memory region table sizing, mirroring rust-driver/src/mtt/alloc.rs's
// MAX_MR_CNT/LR_KEY_IDX_PART_WIDTH/PGT_LEN.
const (
	MaxMRCount    = 1 << 13
	MrKeyKeyWidth = 32 - 13 // low bits of an MR key are a random salt
	PageSize      = 4096
	PgtLen        = 0x20000
)

// MemoryRegion is the registered range a work request's local/remote
// address and key are checked against (spec.md §4.1 "MR/PGT").
type MemoryRegion struct {
	Addr      uint64
	Length    uint32
	Access    AccessFlags
	MrKey     uint32
	PgtOffset int
}

func mrKeyIndex(key uint32) int { return int(key >> MrKeyKeyWidth) }

// mrTableAlloc is the first-stage table allocator: a free list of index
// slots, salted with a random key on every allocation so a stale wire
// reference to a freed MR key can never alias a freshly reused slot.
type mrTableAlloc struct {
	free []int
}

func newMrTableAlloc() *mrTableAlloc {
	free := make([]int, MaxMRCount)
	for i := range free {
		free[i] = MaxMRCount - 1 - i
	}
	return &mrTableAlloc{free: free}
}

func (a *mrTableAlloc) alloc() (int, bool) {
	if len(a.free) == 0 {
		return 0, false
	}
	idx := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return idx, true
}

func (a *mrTableAlloc) dealloc(idx int) { a.free = append(a.free, idx) }

// pgtAlloc is the second-stage table allocator: a first-fit contiguous-run
// bitmap over PgtLen page-table entries.
type pgtAlloc struct {
	used []bool
}

func newPgtAlloc() *pgtAlloc { return &pgtAlloc{used: make([]bool, PgtLen)} }

func (a *pgtAlloc) alloc(length int) (int, bool) {
	count, start := 0, 0
	for i := 0; i < len(a.used); i++ {
		if a.used[i] {
			count = 0
			continue
		}
		if count == 0 {
			start = i
		}
		count++
		if count == length {
			for j := start; j < start+length; j++ {
				a.used[j] = true
			}
			return start, true
		}
	}
	return 0, false
}

func (a *pgtAlloc) dealloc(index, length int) bool {
	if index < 0 || index+length > len(a.used) {
		return false
	}
	for i := index; i < index+length; i++ {
		a.used[i] = false
	}
	return true
}

// MrManager registers and deregisters memory regions, owning both the MR
// key table and the page-gather table behind it.
type MrManager struct {
	mu      sync.Mutex
	mrTable *mrTableAlloc
	pgt     *pgtAlloc
	rng     *rand.Rand
	byKey   map[uint32]MemoryRegion
}

func NewMrManager() *MrManager {
	return &MrManager{
		mrTable: newMrTableAlloc(),
		pgt:     newPgtAlloc(),
		rng:     rand.New(rand.NewSource(1)),
		byKey:   make(map[uint32]MemoryRegion),
	}
}

func numPages(length uint32) int {
	n := int(length) / PageSize
	if int(length)%PageSize != 0 {
		n++
	}
	return n
}

// RegMr registers [addr, addr+length) with the given access flags,
// allocating an MR key and a contiguous PGT run sized to its page count.
func (m *MrManager) RegMr(addr uint64, length uint32, access AccessFlags) (MemoryRegion, error) {
	if length == 0 {
		return MemoryRegion{}, ErrInvalidInput
	}
	pages := numPages(length)

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.mrTable.alloc()
	if !ok {
		return MemoryRegion{}, ErrResourceExhausted
	}
	pgtOffset, ok := m.pgt.alloc(pages)
	if !ok {
		m.mrTable.dealloc(idx)
		return MemoryRegion{}, ErrResourceExhausted
	}
	key := uint32(m.rng.Int63n(1<<MrKeyKeyWidth)) | uint32(idx)<<MrKeyKeyWidth
	mr := MemoryRegion{Addr: addr, Length: length, Access: access, MrKey: key, PgtOffset: pgtOffset}
	m.byKey[key] = mr
	return mr, nil
}

// DeregMr releases an MR's key slot and its PGT run.
func (m *MrManager) DeregMr(mrKey uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.byKey[mrKey]
	if !ok {
		return ErrNotFound
	}
	delete(m.byKey, mrKey)
	m.mrTable.dealloc(mrKeyIndex(mrKey))
	m.pgt.dealloc(mr.PgtOffset, numPages(mr.Length))
	return nil
}

// Lookup resolves a work request's (addr, length, key) against the
// registered region, checking bounds and access (spec.md §4.1, §7).
func (m *MrManager) Lookup(mrKey uint32, addr uint64, length uint32, need AccessFlags) (MemoryRegion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.byKey[mrKey]
	if !ok {
		return MemoryRegion{}, ErrMemoryError
	}
	if addr < mr.Addr || addr+uint64(length) > mr.Addr+uint64(mr.Length) {
		return MemoryRegion{}, ErrMemoryError
	}
	if mr.Access&need != need {
		return MemoryRegion{}, ErrMemoryError
	}
	return mr, nil
}
