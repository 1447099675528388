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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blue-rdma/rdma-driver/psn"
)

type recordingChunkSink struct{ got []WrChunk }

func (s *recordingChunkSink) Send(c WrChunk) { s.got = append(s.got, c) }

func setupRdmaWriteWorker(t *testing.T) (*RdmaWriteWorker, *recordingChunkSink, chan AckTimeoutTask, chan PacketRetransmitTask, chan CompletionTask, uint32) {
	t.Helper()
	qpTable := NewQpTableShared()
	qpn := uint32(1) << QPNKeyWidth
	qpTable.Create(qpn, QpAttr{QPN: qpn, DQPN: 2, PMTU: PMTU1024})

	sink := &recordingChunkSink{}
	timeoutCh := make(chan AckTimeoutTask, 8)
	retransmitCh := make(chan PacketRetransmitTask, 8)
	completionCh := make(chan CompletionTask, 8)
	w := NewRdmaWriteWorker(qpTable, sink, timeoutCh, retransmitCh, completionCh)
	return w, sink, timeoutCh, retransmitCh, completionCh, qpn
}

func TestRdmaWriteWorkerUnsignaledWriteOnlyRetransmitsAndSends(t *testing.T) {
	w, sink, timeoutCh, retransmitCh, completionCh, qpn := setupRdmaWriteWorker(t)

	wr := WorkRequest{WrID: 123, LAddr: 0x1000, Length: 1024, LKey: 0x456, RAddr: 0x2000, RKey: 0x789, Opcode: OpRdmaWrite}
	w.Process(NewWriteTask(qpn, wr))

	require.NotEmpty(t, sink.got)
	select {
	case <-retransmitCh:
	default:
		t.Fatal("expected a retransmit NewWr task")
	}
	select {
	case <-timeoutCh:
		t.Fatal("unsignaled write must not start the ack timer")
	default:
	}
	select {
	case <-completionCh:
		t.Fatal("unsignaled write must not register a completion")
	default:
	}
}

func TestRdmaWriteWorkerSignaledWriteRegistersCompletionAndTimer(t *testing.T) {
	w, _, timeoutCh, _, completionCh, qpn := setupRdmaWriteWorker(t)

	wr := WorkRequest{WrID: 123, LAddr: 0x1000, Length: 1024, LKey: 0x456, RAddr: 0x2000, RKey: 0x789, Opcode: OpRdmaWrite, Flags: FlagSignaled}
	w.Process(NewWriteTask(qpn, wr))

	select {
	case task := <-completionCh:
		require.Equal(t, CompletionTaskRegister, task.Kind)
		assert.Equal(t, SendOpWriteSignaled, task.Event.Send.Op)
		assert.Equal(t, uint64(123), task.Event.Send.WrID)
	default:
		t.Fatal("expected a completion register task")
	}
	select {
	case task := <-timeoutCh:
		assert.Equal(t, AckTimeoutNewAckReq, task.Kind)
	default:
		t.Fatal("expected an ack-timeout NewAckReq task")
	}
}

func TestRdmaWriteWorkerSignaledReadUsesReadSignaledOp(t *testing.T) {
	w, sink, _, _, completionCh, qpn := setupRdmaWriteWorker(t)

	wr := WorkRequest{WrID: 55, LAddr: 0x3000, Length: 64, RAddr: 0x4000, RKey: 0x1, Opcode: OpRdmaRead, Flags: FlagSignaled}
	w.Process(NewWriteTask(qpn, wr))

	require.Len(t, sink.got, 1)
	assert.Equal(t, OpRdmaRead, sink.got[0].Opcode)

	select {
	case task := <-completionCh:
		assert.Equal(t, SendOpReadSignaled, task.Event.Send.Op)
	default:
		t.Fatal("expected a completion register task for the signaled read")
	}
}

func TestRdmaWriteWorkerAckAndCompleteUpdateContext(t *testing.T) {
	w, _, _, _, _, qpn := setupRdmaWriteWorker(t)

	w.Process(NewAckRdmaWriteTask(qpn, psn.New(100)))
	ctx, ok := w.sqCtxTable.Get(qpn)
	require.True(t, ok)
	assert.Equal(t, psn.New(100), ctx.psnAcked)

	w.Process(NewCompleteRdmaWriteTask(qpn, psn.MSN(7)))
	ctx, ok = w.sqCtxTable.Get(qpn)
	require.True(t, ok)
	assert.Equal(t, psn.MSN(7), ctx.msnAcked)
}
