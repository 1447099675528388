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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportTimerDisabled(t *testing.T) {
	timer := NewTransportTimer(0, 3)
	assert.False(t, timer.IsRunning())
	timer.Restart()
	assert.True(t, timer.IsRunning())
	assert.Equal(t, TimerOk, timer.CheckTimeout())
}

func TestTransportTimerNotStarted(t *testing.T) {
	timer := NewTransportTimer(1, 3)
	assert.False(t, timer.IsRunning())
	assert.Equal(t, TimerOk, timer.CheckTimeout())
}

func TestTransportTimerRetryLogic(t *testing.T) {
	timer := NewTransportTimer(1, 2)
	fakeNow := time.Now()
	timer.now = func() time.Time { return fakeNow }
	timer.Restart()

	fakeNow = fakeNow.Add(100 * time.Millisecond)
	assert.Equal(t, TimerTimeout, timer.CheckTimeout())
	fakeNow = fakeNow.Add(100 * time.Millisecond)
	assert.Equal(t, TimerTimeout, timer.CheckTimeout())
	fakeNow = fakeNow.Add(100 * time.Millisecond)
	assert.Equal(t, TimerRetryLimitExceeded, timer.CheckTimeout())
}

func TestTransportTimerRestartResetsRetryCounter(t *testing.T) {
	timer := NewTransportTimer(1, 3)
	fakeNow := time.Now()
	timer.now = func() time.Time { return fakeNow }
	timer.Restart()

	fakeNow = fakeNow.Add(100 * time.Millisecond)
	timer.CheckTimeout()
	timer.Restart()

	for i := 0; i < 3; i++ {
		fakeNow = fakeNow.Add(100 * time.Millisecond)
		assert.Equal(t, TimerTimeout, timer.CheckTimeout())
	}
	fakeNow = fakeNow.Add(100 * time.Millisecond)
	assert.Equal(t, TimerRetryLimitExceeded, timer.CheckTimeout())
}

func TestQpAckTimeoutWorkerAckLifecycle(t *testing.T) {
	w := NewQpAckTimeoutWorker(nil, DefaultAckTimeoutConfig(), nil)
	qpn := uint32(42) << QPNKeyWidth

	w.Process(AckTimeoutTask{Kind: AckTimeoutNewAckReq, QPN: qpn})
	w.Process(AckTimeoutTask{Kind: AckTimeoutNewAckReq, QPN: qpn})
	cnt, ok := w.outstandingAckReq.Get(qpn)
	require.True(t, ok)
	assert.Equal(t, 2, *cnt)

	w.Process(AckTimeoutTask{Kind: AckTimeoutAck, QPN: qpn})
	timer, ok := w.timers.Get(qpn)
	require.True(t, ok)
	assert.True(t, (*timer).IsRunning())

	w.Process(AckTimeoutTask{Kind: AckTimeoutAck, QPN: qpn})
	assert.False(t, (*timer).IsRunning())
}

func TestQpAckTimeoutWorkerMaintainFiresRetransmitAll(t *testing.T) {
	ch := make(chan PacketRetransmitTask, 1)
	w := NewQpAckTimeoutWorker(ch, AckTimeoutConfig{LocalAckTimeoutExp: 1, InitRetryCount: 1}, nil)
	qpn := uint32(3) << QPNKeyWidth
	fakeNow := time.Now()
	w.Process(AckTimeoutTask{Kind: AckTimeoutNewAckReq, QPN: qpn})
	timer, _ := w.timers.Get(qpn)
	(*timer).now = func() time.Time { return fakeNow }
	fakeNow = fakeNow.Add(time.Second)

	w.Maintain()
	select {
	case task := <-ch:
		assert.Equal(t, RetransmitAll, task.Kind)
		assert.Equal(t, qpn, task.QPN)
	default:
		t.Fatal("expected a retransmit task")
	}
}
