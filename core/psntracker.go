/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import "github.com/blue-rdma/rdma-driver/psn"

// Bitmap128 is the 128-bit ACK/NAK bitmap carried in a BTH+AETH extension,
// bit i meaning "PSN base+i is acknowledged". Hand-rolled as two uint64s
// rather than pulling in a general-purpose bitset library (see DESIGN.md).
type Bitmap128 struct {
	Lo uint64
	Hi uint64
}

// FullBitmap128 is the all-ones bitmap an Ack response carries.
var FullBitmap128 = Bitmap128{Lo: ^uint64(0), Hi: ^uint64(0)}

func (b Bitmap128) Bit(i uint) bool {
	switch {
	case i < 64:
		return (b.Lo>>i)&1 == 1
	case i < 128:
		return (b.Hi>>(i-64))&1 == 1
	default:
		return false
	}
}

// PsnTracker is a sliding-window bitmap of acknowledged PSNs anchored at
// base_psn: once the window's leading bits are all set, base_psn advances
// past them. Ported from rust-driver/src/rdma_utils/psn_tracker.rs.
type PsnTracker struct {
	basePsn psn.PSN
	inner   []bool
}

func (t *PsnTracker) BasePsn() psn.PSN { return t.basePsn }

// rstart is the signed distance from base_psn to p, negative when p is
// already behind the window.
func (t *PsnTracker) rstart(p psn.PSN) int32 { return psn.Sub(t.basePsn, p) }

func (t *PsnTracker) resize(n int) {
	if n <= len(t.inner) {
		return
	}
	grown := make([]bool, n)
	copy(grown, t.inner)
	t.inner = grown
}

// shiftLeft drops the first n bits of the window, shifting the remainder
// down to index 0 and zero-filling the vacated tail; length is preserved.
func (t *PsnTracker) shiftLeft(n int) {
	if n <= 0 {
		return
	}
	ln := len(t.inner)
	if n >= ln {
		for i := range t.inner {
			t.inner[i] = false
		}
		return
	}
	copy(t.inner, t.inner[n:])
	for i := ln - n; i < ln; i++ {
		t.inner[i] = false
	}
}

func (t *PsnTracker) firstZero() int {
	for i, b := range t.inner {
		if !b {
			return i
		}
	}
	return len(t.inner)
}

// AckBitmap marks every PSN in [nowPsn, nowPsn+128) whose bit in bitmap is
// set, then tries to advance the base PSN.
func (t *PsnTracker) AckBitmap(nowPsn psn.PSN, bitmap Bitmap128) (psn.PSN, bool) {
	rstart := t.rstart(nowPsn)
	rend := rstart + 128
	if rend > 0 && int(rend) > len(t.inner) {
		t.resize(int(rend))
	}
	start := rstart
	if start < 0 {
		start = 0
	}
	for i := start; i < rend; i++ {
		if int(i) >= len(t.inner) {
			break
		}
		if bitmap.Bit(uint(i - rstart)) {
			t.inner[i] = true
		}
	}
	return t.TryAdvance()
}

// AckRange marks every PSN in [psnLow, psnHigh) as acknowledged without a
// bitmap (used to close the gap a tracked psn_pre leaves behind). If
// psnLow is already behind the window it degrades to AckBefore(psnHigh).
func (t *PsnTracker) AckRange(psnLow, psnHigh psn.PSN) (psn.PSN, bool) {
	if psn.LessEq(psnLow, t.basePsn) {
		return t.AckBefore(psnHigh)
	}
	rstart := t.rstart(psnLow)
	rend := t.rstart(psnHigh)
	if rstart < 0 || rend < 0 {
		return 0, false
	}
	if int(rend) >= len(t.inner) {
		t.resize(int(rend) + 1)
	}
	for i := rstart; i < rend; i++ {
		t.inner[i] = true
	}
	return 0, false
}

// AckOne marks a single PSN as acknowledged and tries to advance.
func (t *PsnTracker) AckOne(p psn.PSN) (psn.PSN, bool) {
	rstart := t.rstart(p)
	if rstart < 0 {
		return 0, false
	}
	if int(rstart) >= len(t.inner) {
		t.resize(int(rstart) + 1)
	}
	t.inner[rstart] = true
	return t.TryAdvance()
}

// AckBefore unconditionally advances the base PSN to p, discarding any
// acknowledgment state for PSNs before it.
func (t *PsnTracker) AckBefore(p psn.PSN) (psn.PSN, bool) {
	rstart := t.rstart(p)
	if rstart < 0 {
		return 0, false
	}
	t.basePsn = p
	t.shiftLeft(int(rstart))
	return p, true
}

// TryAdvance moves base_psn past a contiguous run of acknowledged PSNs at
// the front of the window.
func (t *PsnTracker) TryAdvance() (psn.PSN, bool) {
	pos := t.firstZero()
	if pos == 0 {
		return 0, false
	}
	t.shiftLeft(pos)
	t.basePsn = t.basePsn.Add(uint32(pos))
	return t.basePsn, true
}

// LocalAckTracker is the receive-side PSN tracker: it also remembers
// psn_pre, the high-water mark of the last ACK/NAK's "now" PSN, so the
// next ack_bitmap/nak_bitmap call can close any gap left behind with
// AckRange before applying the new bitmap.
type LocalAckTracker struct {
	tracker PsnTracker
	psnPre  psn.PSN
}

func (t *LocalAckTracker) AckOne(p psn.PSN) (psn.PSN, bool) { return t.tracker.AckOne(p) }

func (t *LocalAckTracker) AckBitmap(basePsn psn.PSN, bitmap Bitmap128) (psn.PSN, bool) {
	x, xok := t.tracker.AckRange(t.psnPre, basePsn)
	y, yok := t.tracker.AckBitmap(basePsn, bitmap)
	if psn.Less(t.psnPre, basePsn) {
		t.psnPre = basePsn
	}
	if yok {
		return y, true
	}
	return x, xok
}

func (t *LocalAckTracker) NakBitmap(psnPre psn.PSN, preBitmap Bitmap128, psnNow psn.PSN, nowBitmap Bitmap128) (psn.PSN, bool) {
	x, xok := t.tracker.AckRange(t.psnPre, psnPre)
	y, yok := t.tracker.AckBitmap(psnPre, preBitmap)
	z, zok := t.tracker.AckBitmap(psnNow, nowBitmap)
	if psn.Less(t.psnPre, psnNow) {
		t.psnPre = psnNow
	}
	if zok {
		return z, true
	}
	if yok {
		return y, true
	}
	return x, xok
}

func (t *LocalAckTracker) BasePsn() psn.PSN { return t.tracker.BasePsn() }

// RemoteAckTracker is the send-side PSN tracker: it remembers both psn_pre
// and the MSN that produced it, so a gap is only closed with AckRange when
// the incoming NAK's MSN is exactly the next expected one — an
// out-of-order or stale NAK must not advance past unacknowledged work this
// tracker hasn't seen confirmed yet.
type RemoteAckTracker struct {
	tracker PsnTracker
	msnPre  psn.MSN
	psnPre  psn.PSN
}

func (t *RemoteAckTracker) AckBefore(p psn.PSN) (psn.PSN, bool) { return t.tracker.AckBefore(p) }

func (t *RemoteAckTracker) NakBitmap(msn psn.MSN, psnPre psn.PSN, preBitmap Bitmap128, psnNow psn.PSN, nowBitmap Bitmap128) (psn.PSN, bool) {
	var x psn.PSN
	var xok bool
	if msn == t.msnPre.Add(1) {
		x, xok = t.tracker.AckRange(t.psnPre, psnPre)
	}
	y, yok := t.tracker.AckBitmap(psnPre, preBitmap)
	z, zok := t.tracker.AckBitmap(psnNow, nowBitmap)
	if psn.Less(t.psnPre, psnNow) {
		t.psnPre = psnNow
		t.msnPre = msn
	}
	if zok {
		return z, true
	}
	if yok {
		return y, true
	}
	return x, xok
}

func (t *RemoteAckTracker) BasePsn() psn.PSN { return t.tracker.BasePsn() }
