/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	lgr := New(&buf)
	require.NoError(t, lgr.SetLevel(WARN))

	require.NoError(t, lgr.Info("should not appear"))
	require.Empty(t, buf.String())

	require.NoError(t, lgr.Error("boom: %d", 7))
	require.True(t, strings.Contains(buf.String(), "boom: 7"))
	require.True(t, strings.Contains(buf.String(), "[ERROR]"))
}

func TestAddDeleteWriter(t *testing.T) {
	var a, b bytes.Buffer
	lgr := New(&a)
	require.NoError(t, lgr.AddWriter(&b))

	require.NoError(t, lgr.Info("hello"))
	require.Contains(t, a.String(), "hello")
	require.Contains(t, b.String(), "hello")

	require.NoError(t, lgr.DeleteWriter(&b))
	b.Reset()
	require.NoError(t, lgr.Info("world"))
	require.Empty(t, b.String())
	require.Contains(t, a.String(), "world")
}

func TestSetLevelString(t *testing.T) {
	lgr := NewDiscard()
	require.NoError(t, lgr.SetLevelString("warn"))
	require.Equal(t, WARN, lgr.GetLevel())
	require.Error(t, lgr.SetLevelString("nonsense"))
}

func TestClosedLoggerErrors(t *testing.T) {
	var buf bytes.Buffer
	lgr := New(&buf)
	require.NoError(t, lgr.Close())
	require.ErrorIs(t, lgr.Info("after close"), ErrNotOpen)
}
