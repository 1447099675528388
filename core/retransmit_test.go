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

func mkElem(p uint32) SendQueueElem {
	return SendQueueElem{Psn: psn.New(p), Wr: WorkRequest{WrID: uint64(p)}, QPParams: QPParams{PMTU: PMTU256}}
}

func TestIbvSendQueuePopUntilKeepsLastBefore(t *testing.T) {
	var q IbvSendQueue
	q.Push(mkElem(100))
	q.Push(mkElem(200))
	q.Push(mkElem(300))

	q.PopUntil(psn.New(250))
	assert.Equal(t, psn.New(250), q.BasePsn())
	assert.NotEmpty(t, q.All())
	assert.Equal(t, psn.New(200), q.All()[0].Psn)
}

func TestIbvSendQueueRange(t *testing.T) {
	var q IbvSendQueue
	for _, p := range []uint32{100, 200, 300, 400, 500} {
		q.Push(mkElem(p))
	}
	r := q.Range(psn.New(150), psn.New(350))
	require.Len(t, r, 2)
	assert.Equal(t, psn.New(200), r[0].Psn)
	assert.Equal(t, psn.New(300), r[1].Psn)
}

func TestIbvSendQueueRangeNoOverlap(t *testing.T) {
	var q IbvSendQueue
	q.Push(mkElem(100))
	q.Push(mkElem(200))

	assert.Empty(t, q.Range(psn.New(300), psn.New(400)))
	assert.Empty(t, q.Range(psn.New(0), psn.New(50)))
}

type recordingSink struct{ got []WrChunk }

func (s *recordingSink) Send(c WrChunk) { s.got = append(s.got, c) }

func TestPacketRetransmitWorkerAckPopsBuffer(t *testing.T) {
	sink := &recordingSink{}
	w := NewPacketRetransmitWorker(sink)
	w.Process(PacketRetransmitTask{Kind: RetransmitNewWr, QPN: 7, Wr: mkElem(0)})
	w.Process(PacketRetransmitTask{Kind: RetransmitAck, QPN: 7, Psn: psn.New(1)})

	sq, ok := w.table.Get(7)
	require.True(t, ok)
	assert.Equal(t, psn.New(1), sq.BasePsn())
}

func TestPacketRetransmitWorkerRetransmitAllMarksRetry(t *testing.T) {
	sink := &recordingSink{}
	w := NewPacketRetransmitWorker(sink)
	wr := WorkRequest{Opcode: OpRdmaWrite, RAddr: 0, Length: 10, LAddr: 0x3000}
	w.Process(PacketRetransmitTask{Kind: RetransmitNewWr, QPN: 3, Wr: SendQueueElem{Psn: 0, Wr: wr, QPParams: QPParams{PMTU: PMTU256}}})
	w.Process(PacketRetransmitTask{Kind: RetransmitAll, QPN: 3})

	require.Len(t, sink.got, 1)
	assert.True(t, sink.got[0].IsRetry)
}
