/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"testing"

	"github.com/blue-rdma/rdma-driver/psn"
	"github.com/stretchr/testify/assert"
)

func bitmapOf(bits ...uint) Bitmap128 {
	var b Bitmap128
	for _, i := range bits {
		if i < 64 {
			b.Lo |= 1 << i
		} else {
			b.Hi |= 1 << (i - 64)
		}
	}
	return b
}

func TestPsnTrackerAckOneDoesNotAdvanceAlone(t *testing.T) {
	var tr PsnTracker
	_, advanced := tr.AckOne(psn.New(5))
	assert.False(t, advanced)
	assert.True(t, tr.inner[5])
	for i := 0; i < 5; i++ {
		assert.False(t, tr.inner[i])
	}
}

func TestPsnTrackerAckBitmapAdvancesFromZero(t *testing.T) {
	var tr PsnTracker
	base, advanced := tr.AckBitmap(psn.New(0), bitmapOf(0, 1))
	assert.True(t, advanced)
	assert.Equal(t, psn.New(2), base)
}

func TestPsnTrackerAckBitmapAdvancesFromNonZeroBase(t *testing.T) {
	tr := PsnTracker{basePsn: psn.New(5)}
	base, advanced := tr.AckBitmap(psn.New(5), bitmapOf(0, 1))
	assert.True(t, advanced)
	assert.Equal(t, psn.New(7), base)
}

func TestPsnTrackerAckBitmapAheadOfBaseDoesNotAdvance(t *testing.T) {
	tr := PsnTracker{basePsn: psn.New(10)}
	_, advanced := tr.AckBitmap(psn.New(5), bitmapOf(0, 1))
	assert.False(t, advanced)
	assert.Equal(t, psn.New(10), tr.BasePsn())

	_, advanced = tr.AckBitmap(psn.New(20), bitmapOf(0, 1))
	assert.False(t, advanced)
	assert.True(t, tr.inner[10])
	assert.True(t, tr.inner[11])
}

func TestPsnTrackerWrappingAck(t *testing.T) {
	tr := PsnTracker{basePsn: psn.New(psn.Mask - 1)}
	assert.NotPanics(t, func() {
		tr.AckBitmap(psn.New(0), bitmapOf(0, 1))
	})
}

func TestPsnTrackerAckBeforeClearsWindow(t *testing.T) {
	var tr PsnTracker
	tr.AckOne(psn.New(0))
	tr.AckOne(psn.New(1))
	tr.AckOne(psn.New(5))
	base, advanced := tr.AckBefore(psn.New(3))
	assert.True(t, advanced)
	assert.Equal(t, psn.New(3), base)
	// PSN 5 (now at relative index 2) must still read back as acked.
	assert.True(t, tr.inner[2])
}

func TestLocalAckTrackerNakBitmapClosesGapBeforePreBitmap(t *testing.T) {
	var tr LocalAckTracker
	// psn_pre starts at 0; a NAK reporting pre=[5,6] now=[10,11] should
	// close the [0,5) gap with AckRange, then apply both bitmaps.
	base, advanced := tr.NakBitmap(psn.New(5), bitmapOf(0, 1), psn.New(10), bitmapOf(0, 1))
	assert.True(t, advanced)
	assert.Equal(t, psn.New(7), base)
}

func TestRemoteAckTrackerNakBitmapRequiresNextMsn(t *testing.T) {
	var tr RemoteAckTracker
	// msn_pre starts at 0; a NAK for msn 1 is the expected next one so the
	// gap preceding pre_bitmap's base is closed.
	_, advanced := tr.NakBitmap(psn.MSN(1), psn.New(3), bitmapOf(0, 1), psn.New(10), bitmapOf(0, 1))
	assert.True(t, advanced)

	// A stale/out-of-order NAK (not msn_pre+1) must not close the gap via
	// AckRange, even though the bitmaps themselves still apply.
	var tr2 RemoteAckTracker
	tr2.msnPre = psn.MSN(5)
	_, advanced2 := tr2.NakBitmap(psn.MSN(9), psn.New(3), bitmapOf(0, 1), psn.New(100), bitmapOf(0, 1))
	assert.False(t, advanced2)
}

func TestBitmap128FullBit(t *testing.T) {
	assert.True(t, FullBitmap128.Bit(0))
	assert.True(t, FullBitmap128.Bit(127))
	assert.False(t, Bitmap128{}.Bit(63))
}
