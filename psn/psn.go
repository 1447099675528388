/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package psn implements the 24-bit packet sequence number and 16-bit
// message sequence number arithmetic used throughout the transport engine:
// wraparound addition and signed-modular comparison, grounded on
// rust-driver/src/rdma_utils/types.rs's Psn/Msn newtypes.
package psn

import "fmt"

// Mask is the 24-bit PSN modulus minus one.
const Mask uint32 = 0x00FF_FFFF

// MaxWindow is the largest legal number of outstanding PSNs (2^23),
// enforced tighter still by MAX_PSN_WINDOW in the send context.
const MaxWindow uint32 = 1 << 23

// PSN is a 24-bit, modulo-wrapping packet sequence number.
type PSN uint32

// New masks v down to 24 bits.
func New(v uint32) PSN { return PSN(v & Mask) }

func (p PSN) Uint32() uint32 { return uint32(p) & Mask }

func (p PSN) String() string { return fmt.Sprintf("psn(%d)", p.Uint32()) }

// Add returns p+delta, wrapping modulo 2^24.
func (p PSN) Add(delta uint32) PSN { return New(p.Uint32() + delta) }

// Sub returns the signed-modular distance b-a: negative when a is "ahead"
// of b in wraparound order. This is the sign-extension trick from
// rust-driver's PsnTracker::rstart — distance is computed as a 24-bit
// wraparound subtraction then sign-extended to a native int32.
func Sub(a, b PSN) int32 {
	d := (b.Uint32() - a.Uint32()) & Mask
	if d&0x0080_0000 != 0 {
		return int32(d | 0xFF00_0000)
	}
	return int32(d)
}

// Less reports whether a precedes b in signed-modular order: (b-a) mod 2^24
// lies in [1, 2^23).
func Less(a, b PSN) bool {
	d := Sub(a, b)
	return d > 0 && d < int32(MaxWindow)
}

// LessEq reports a == b || Less(a, b).
func LessEq(a, b PSN) bool { return a == b || Less(a, b) }

// MSN is a 16-bit, modulo-wrapping message sequence number.
type MSN uint16

func (m MSN) Add(delta uint16) MSN { return MSN(uint16(m) + delta) }

// Less reports signed-modular ordering identical in spirit to PSN.Less but
// over the 16-bit domain.
func (m MSN) Less(o MSN) bool {
	d := int16(uint16(o) - uint16(m))
	return d > 0
}

func (m MSN) String() string { return fmt.Sprintf("msn(%d)", uint16(m)) }
