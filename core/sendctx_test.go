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
	"github.com/stretchr/testify/require"
)

func TestNumPsnAligned(t *testing.T) {
	n, ok := NumPsn(PMTU256, 0x100, 1000)
	require.True(t, ok)
	assert.Equal(t, uint32(4), n)
}

func TestNumPsnUnaligned(t *testing.T) {
	// raddr=0xF0=240, length=1000, pmtu=256: gap to the first boundary is
	// 16, so ceil((1000-16)/256) = 4.
	n, ok := NumPsn(PMTU256, 0xF0, 1000)
	require.True(t, ok)
	assert.Equal(t, uint32(4), n)
}

func TestNumPsnZeroLength(t *testing.T) {
	n, ok := NumPsn(PMTU256, 0xF0, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(0), n)
}

func TestNumPsnShortWithinFirstBlock(t *testing.T) {
	n, ok := NumPsn(PMTU1024, 0x10, 8)
	require.True(t, ok)
	assert.Equal(t, uint32(1), n)
}

func TestNumPsnInvalidPmtu(t *testing.T) {
	_, ok := NumPsn(PMTU(0), 0, 10)
	assert.False(t, ok)
}

func TestNextWrReservesAndAdvances(t *testing.T) {
	var c SendQueueContext
	m, p, err := c.NextWr(5)
	require.NoError(t, err)
	assert.Equal(t, psn.MSN(0), m)
	assert.Equal(t, psn.PSN(0), p)

	m2, p2, err := c.NextWr(3)
	require.NoError(t, err)
	assert.Equal(t, psn.MSN(1), m2)
	assert.Equal(t, psn.PSN(5), p2)
}

func TestNextWrBlocksOnPsnWindow(t *testing.T) {
	var c SendQueueContext
	_, _, err := c.NextWr(MaxPSNWindow + 1)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestNextWrBlocksOnMsnWindow(t *testing.T) {
	var c SendQueueContext
	for i := 0; i < MaxSendWR; i++ {
		_, _, err := c.NextWr(1)
		require.NoError(t, err)
	}
	_, _, err := c.NextWr(1)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestUpdateAckedUnblocksWindow(t *testing.T) {
	var c SendQueueContext
	for i := 0; i < MaxSendWR; i++ {
		_, _, err := c.NextWr(1)
		require.NoError(t, err)
	}
	c.UpdateMsnAcked(psn.MSN(1))
	_, _, err := c.NextWr(1)
	assert.NoError(t, err)
}
