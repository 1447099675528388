/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"github.com/blue-rdma/rdma-driver/psn"
)

// RdmaWriteTaskKind discriminates RdmaWriteTask.
type RdmaWriteTaskKind uint8

const (
	RdmaWriteTaskWrite RdmaWriteTaskKind = iota
	RdmaWriteTaskAck
	RdmaWriteTaskNewComplete
)

// RdmaWriteTask is what posted work requests and ACK dispatch decisions
// turn into on the send path, grounded on rust-driver/src/workers/rdma.rs.
type RdmaWriteTask struct {
	Kind    RdmaWriteTaskKind
	QPN     uint32
	Wr      WorkRequest
	BasePsn psn.PSN
	Msn     psn.MSN
}

func NewWriteTask(qpn uint32, wr WorkRequest) RdmaWriteTask {
	return RdmaWriteTask{Kind: RdmaWriteTaskWrite, QPN: qpn, Wr: wr}
}

func NewAckRdmaWriteTask(qpn uint32, basePsn psn.PSN) RdmaWriteTask {
	return RdmaWriteTask{Kind: RdmaWriteTaskAck, QPN: qpn, BasePsn: basePsn}
}

func NewCompleteRdmaWriteTask(qpn uint32, msn psn.MSN) RdmaWriteTask {
	return RdmaWriteTask{Kind: RdmaWriteTaskNewComplete, QPN: qpn, Msn: msn}
}

// RdmaWriteWorker is the single writer of a QP's send-sequence context: it
// turns posted work requests into chunks of at most 4 KiB handed to the
// send worker pool, registers completion tracking for signaled requests,
// and sends a NewAckReq to the ack-timeout worker for every signaled
// request, which restarts the QP's retransmission timer (spec.md §4.10).
type RdmaWriteWorker struct {
	NoMaintenance

	sqCtxTable   QPTable[SendQueueContext]
	qpAttrTable  *QpTableShared
	sink         ChunkSink
	timeoutTx    chan<- AckTimeoutTask
	retransmitTx chan<- PacketRetransmitTask
	completionTx chan<- CompletionTask
}

func NewRdmaWriteWorker(
	qpAttrTable *QpTableShared,
	sink ChunkSink,
	timeoutTx chan<- AckTimeoutTask,
	retransmitTx chan<- PacketRetransmitTask,
	completionTx chan<- CompletionTask,
) *RdmaWriteWorker {
	return &RdmaWriteWorker{
		sqCtxTable:   *NewQPTable[SendQueueContext](),
		qpAttrTable:  qpAttrTable,
		sink:         sink,
		timeoutTx:    timeoutTx,
		retransmitTx: retransmitTx,
		completionTx: completionTx,
	}
}

func (w *RdmaWriteWorker) Process(task RdmaWriteTask) {
	switch task.Kind {
	case RdmaWriteTaskWrite:
		w.write(task.QPN, task.Wr)
	case RdmaWriteTaskAck:
		ctx := w.sqCtxTable.Ensure(task.QPN)
		ctx.UpdatePsnAcked(task.BasePsn)
	case RdmaWriteTaskNewComplete:
		ctx := w.sqCtxTable.Ensure(task.QPN)
		ctx.UpdateMsnAcked(task.Msn)
	}
}

func (w *RdmaWriteWorker) write(qpn uint32, wr WorkRequest) {
	if wr.Opcode == OpRdmaRead {
		w.rdmaRead(qpn, wr)
		return
	}

	qp, ok := w.qpAttrTable.Get(qpn)
	if !ok {
		return
	}
	numPsn, ok := NumPsn(qp.PMTU, wr.RAddr, wr.Length)
	if !ok {
		return
	}
	ctx := w.sqCtxTable.Ensure(qpn)
	msn, basePsn, err := ctx.NextWr(numPsn)
	if err != nil {
		return
	}
	endPsn := basePsn.Add(numPsn)
	qpParams := qp.Params()
	qpParams.SQPN = qpn

	ackReq := false
	if wr.Signaled() {
		ackReq = true
		var op SendEventOp
		switch wr.Opcode {
		case OpRdmaWrite, OpRdmaWriteWithImm:
			op = SendOpWriteSignaled
		case OpSend, OpSendWithImm:
			op = SendOpSendSignaled
		default:
			ackReq = false
		}
		if ackReq {
			event := Event{Kind: EventSend, Send: SendEvent{
				QPN: qpn, Op: op, Info: MessageMeta{Msn: msn, EndPsn: endPsn}, WrID: wr.WrID,
			}}
			if w.completionTx != nil {
				w.completionTx <- CompletionTask{Kind: CompletionTaskRegister, QPN: qpn, Event: event}
			}
		}
	}

	if ackReq && w.timeoutTx != nil {
		w.timeoutTx <- AckTimeoutTask{Kind: AckTimeoutNewAckReq, QPN: qpn}
	}

	if w.retransmitTx != nil {
		w.retransmitTx <- PacketRetransmitTask{Kind: RetransmitNewWr, QPN: qpn, Wr: SendQueueElem{Psn: basePsn, Wr: wr, QPParams: qpParams}}
	}

	cf := NewWrChunkFragmenter(wr, qpParams, basePsn)
	chunks, ok := cf.Chunks()
	if !ok {
		return
	}
	for _, c := range chunks {
		w.sink.Send(c)
	}
}

func (w *RdmaWriteWorker) rdmaRead(qpn uint32, wr WorkRequest) {
	qp, ok := w.qpAttrTable.Get(qpn)
	if !ok {
		return
	}
	const numPsn = 1
	ctx := w.sqCtxTable.Ensure(qpn)
	msn, basePsn, err := ctx.NextWr(numPsn)
	if err != nil {
		return
	}
	endPsn := basePsn.Add(numPsn)
	qpParams := qp.Params()
	qpParams.SQPN = qpn

	if wr.Signaled() {
		event := Event{Kind: EventSend, Send: SendEvent{
			QPN: qpn, Op: SendOpReadSignaled, Info: MessageMeta{Msn: msn, EndPsn: endPsn}, WrID: wr.WrID,
		}}
		if w.completionTx != nil {
			w.completionTx <- CompletionTask{Kind: CompletionTaskRegister, QPN: qpn, Event: event}
		}
		if w.timeoutTx != nil {
			w.timeoutTx <- AckTimeoutTask{Kind: AckTimeoutNewAckReq, QPN: qpn}
		}
	}

	if w.retransmitTx != nil {
		w.retransmitTx <- PacketRetransmitTask{Kind: RetransmitNewWr, QPN: qpn, Wr: SendQueueElem{Psn: basePsn, Wr: wr, QPParams: qpParams}}
	}

	w.sink.Send(WrChunk{
		Psn: basePsn, LAddr: wr.LAddr, RAddr: wr.RAddr, Len: wr.Length, Pos: PosOnly,
		Opcode: OpRdmaRead, SendFlag: wr.Flags, RKey: wr.RKey, LKey: wr.LKey, Imm: wr.Imm, QPParams: qpParams,
	})
}
