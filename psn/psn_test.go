/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package psn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddWraps(t *testing.T) {
	p := New(Mask)
	require.Equal(t, PSN(0), p.Add(1))
}

func TestLessBasic(t *testing.T) {
	require.True(t, Less(New(5), New(6)))
	require.False(t, Less(New(6), New(5)))
	require.False(t, Less(New(5), New(5)))
}

func TestLessWraparound(t *testing.T) {
	// Near the top of the 24-bit space, wrapping forward is still "less".
	a := New(Mask - 1)
	b := New(1)
	require.True(t, Less(a, b))
	require.False(t, Less(b, a))
}

func TestMsnLess(t *testing.T) {
	require.True(t, MSN(10).Less(MSN(11)))
	require.True(t, MSN(0xFFFF).Less(MSN(0)))
	require.False(t, MSN(11).Less(MSN(10)))
}
