/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import "github.com/blue-rdma/rdma-driver/psn"

// SendQueueContext is the per-QP (msn, psn, base_psn_acked, base_msn_acked)
// state of spec.md §4.2, owned exclusively by the RDMA-write worker.
type SendQueueContext struct {
	msn      psn.MSN
	psn      psn.PSN
	psnAcked psn.PSN
	msnAcked psn.MSN
}

// NextWr reserves the (msn, psn) pair for a new work request consuming
// numPsn PSNs, enforcing both the PSN and MSN windows. It returns
// ErrWouldBlock, the transient form of ResourceExhausted, when either
// window is saturated (spec.md §7).
func (c *SendQueueContext) NextWr(numPsn uint32) (psn.MSN, psn.PSN, error) {
	outstandingPsn := psn.Sub(c.psnAcked, c.psn)
	outstandingMsn := uint16(c.msn) - uint16(c.msnAcked)
	if uint32(outstandingPsn)+numPsn > MaxPSNWindow || uint32(outstandingMsn) >= MaxSendWR {
		return 0, 0, ErrWouldBlock
	}
	curMsn, curPsn := c.msn, c.psn
	c.msn = c.msn.Add(1)
	c.psn = c.psn.Add(numPsn)
	return curMsn, curPsn, nil
}

// UpdatePsnAcked and UpdateMsnAcked are the monotonic setters the ACK
// dispatcher calls after a send-side PSN tracker advance.
func (c *SendQueueContext) UpdatePsnAcked(p psn.PSN) { c.psnAcked = p }
func (c *SendQueueContext) UpdateMsnAcked(m psn.MSN) { c.msnAcked = m }

// nextPmtuAligned rounds addr up to the next multiple of pmtu (addr itself,
// if already aligned).
func nextPmtuAligned(addr, pmtu uint64) uint64 {
	r := addr % pmtu
	if r == 0 {
		return addr
	}
	return addr + (pmtu - r)
}

// NumPsn computes how many PSNs (and therefore wire packets) a work
// request of the given length starting at addr will consume under pmtu:
// num_psn = ceil((length-gap)/pmtu) where gap = next_pmtu_aligned(addr)-addr,
// falling back to length itself (not 0) when length < gap, matching
// rust-driver/src/qp.rs::num_psn.
func NumPsn(p PMTU, addr uint64, length uint32) (uint32, bool) {
	if length == 0 {
		return 0, true
	}
	pmtu, ok := p.Bytes()
	if !ok {
		return 0, false
	}
	gap := nextPmtuAligned(addr, uint64(pmtu)) - addr
	rem := uint64(length)
	if rem > gap {
		rem -= gap
	}
	n := (rem + uint64(pmtu) - 1) / uint64(pmtu)
	return uint32(n), true
}
