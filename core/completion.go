/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"sort"

	"github.com/blue-rdma/rdma-driver/psn"
)

// MessageMeta is the (msn, end_psn) pair every tracked send/recv event
// carries, grounded on rust-driver/src/completion.rs's final revision
// (explicitly not completion_v2.rs/completion_v3.rs).
type MessageMeta struct {
	Msn    psn.MSN
	EndPsn psn.PSN
}

type eventMeta interface {
	Meta() MessageMeta
}

// SendEventOp classifies a tracked outbound work request.
type SendEventOp uint8

const (
	SendOpWriteSignaled SendEventOp = iota
	SendOpSendSignaled
	SendOpReadSignaled
)

// SendEvent is a signaled send-side work request awaiting its PSN range
// to be acknowledged.
type SendEvent struct {
	QPN  uint32
	Op   SendEventOp
	Info MessageMeta
	WrID uint64
}

// Meta satisfies eventMeta.
func (e SendEvent) Meta() MessageMeta { return e.Info }

// RecvEventOpKind classifies a tracked inbound message.
type RecvEventOpKind uint8

const (
	RecvOpWrite RecvEventOpKind = iota
	RecvOpWriteWithImm
	RecvOpRecv
	RecvOpRecvWithImm
	RecvOpReadResp
	RecvOpRecvRead
)

type RecvEventOp struct {
	Kind RecvEventOpKind
	Imm  uint32
}

// RecvEvent is a tracked inbound message, completed once its end PSN is
// inside the acknowledged window.
type RecvEvent struct {
	QPN    uint32
	Op     RecvEventOp
	Info   MessageMeta
	AckReq bool
}

// Meta satisfies eventMeta.
func (e RecvEvent) Meta() MessageMeta { return e.Info }

// PostRecvEvent is a posted receive work request waiting to be matched to
// an inbound Recv/RecvWithImm message.
type PostRecvEvent struct {
	QPN  uint32
	WrID uint64
}

// EventKind discriminates the Event tagged union fed into Register tasks.
type EventKind uint8

const (
	EventSend EventKind = iota
	EventRecv
	EventPostRecv
)

type Event struct {
	Kind     EventKind
	Send     SendEvent
	Recv     RecvEvent
	PostRecv PostRecvEvent
}

// MessageTracker keeps events sorted by MSN, deduplicating on append and
// draining from the front while the event's end PSN is inside the
// acknowledged window (rust-driver/src/completion.rs::MessageTracker).
type MessageTracker[E eventMeta] struct {
	inner   []E
	basePsn psn.PSN
}

// Append inserts event in MSN order, dropping it if an event with the
// same MSN is already tracked.
func (t *MessageTracker[E]) Append(event E) {
	msn := event.Meta().Msn
	i := sort.Search(len(t.inner), func(i int) bool { return !t.inner[i].Meta().Msn.Less(msn) })
	if i < len(t.inner) && t.inner[i].Meta().Msn == msn {
		return
	}
	var zero E
	t.inner = append(t.inner, zero)
	copy(t.inner[i+1:], t.inner[i:])
	t.inner[i] = event
}

func (t *MessageTracker[E]) Ack(basePsn psn.PSN) { t.basePsn = basePsn }

// Peek returns the front event if it's fully acknowledged, without
// removing it.
func (t *MessageTracker[E]) Peek() (E, bool) {
	var zero E
	if len(t.inner) == 0 {
		return zero, false
	}
	front := t.inner[0]
	if psn.LessEq(front.Meta().EndPsn, t.basePsn) {
		return front, true
	}
	return zero, false
}

// Pop removes and returns the front event if it's fully acknowledged.
func (t *MessageTracker[E]) Pop() (E, bool) {
	front, ok := t.Peek()
	if !ok {
		return front, false
	}
	t.inner = t.inner[1:]
	return front, true
}

// QueuePairMessageTracker is the per-QP completion state: independent
// send/recv MessageTrackers, a pending-read-response queue that lets a
// signaled RDMA read complete once its response message is tracked, and a
// FIFO of posted receive work requests waiting to be matched.
type QueuePairMessageTracker struct {
	send          MessageTracker[SendEvent]
	recv          MessageTracker[RecvEvent]
	readRespQueue []RecvEvent
	postRecvQueue []PostRecvEvent
}

func (t *QueuePairMessageTracker) Append(event Event) {
	switch event.Kind {
	case EventSend:
		t.send.Append(event.Send)
	case EventRecv:
		t.recv.Append(event.Recv)
	case EventPostRecv:
		t.postRecvQueue = append(t.postRecvQueue, event.PostRecv)
	}
}

// AckSend advances the send tracker (when psn is non-nil) and drains
// completed signaled sends/writes/reads into sendCQ. Called with a nil
// psn from AckRecv's ReadResp branch to re-trigger a drain with no PSN
// advance, letting a pending ReadSignaled complete in the same tick its
// response message arrives.
func (t *QueuePairMessageTracker) AckSend(p *psn.PSN, sendCQ *CompletionQueue, ackTimeoutTx chan<- AckTimeoutTask) {
	if p != nil {
		t.send.Ack(*p)
	}
	for {
		event, ok := t.send.Peek()
		if !ok {
			return
		}
		switch event.Op {
		case SendOpWriteSignaled, SendOpSendSignaled:
			x, _ := t.send.Pop()
			opcode := CompletionSend
			if x.Op == SendOpWriteSignaled {
				opcode = CompletionRdmaWrite
			}
			if ackTimeoutTx != nil {
				ackTimeoutTx <- AckTimeoutTask{Kind: AckTimeoutAck, QPN: x.QPN}
			}
			sendCQ.Push(Completion{Opcode: opcode, WrID: x.WrID, QPN: x.QPN})
		case SendOpReadSignaled:
			if len(t.readRespQueue) == 0 {
				return
			}
			t.readRespQueue = t.readRespQueue[1:]
			x, _ := t.send.Pop()
			sendCQ.Push(Completion{Opcode: CompletionRdmaRead, WrID: x.WrID, QPN: x.QPN})
		}
	}
}

// AckRecv advances the recv tracker and drains completed inbound messages
// into recvCQ, matching Recv/RecvWithImm against the posted-receive FIFO,
// queuing ReadResp messages for the send tracker, and notifying the ACK
// responder for every message that carried AckReq.
func (t *QueuePairMessageTracker) AckRecv(
	p psn.PSN,
	recvCQ *CompletionQueue,
	sendCQ *CompletionQueue,
	qpn uint32,
	ackRespTx chan<- AckResponseTask,
	ackTimeoutTx chan<- AckTimeoutTask,
) {
	t.recv.Ack(p)
	for {
		event, ok := t.recv.Pop()
		if !ok {
			break
		}
		switch event.Op.Kind {
		case RecvOpWriteWithImm:
			imm := event.Op.Imm
			recvCQ.Push(Completion{Opcode: CompletionRecvRdmaWithImm, Imm: &imm, QPN: qpn})
		case RecvOpRecv:
			if len(t.postRecvQueue) > 0 {
				x := t.postRecvQueue[0]
				t.postRecvQueue = t.postRecvQueue[1:]
				recvCQ.Push(Completion{Opcode: CompletionRecv, WrID: x.WrID, QPN: qpn})
			}
		case RecvOpRecvWithImm:
			if len(t.postRecvQueue) > 0 {
				x := t.postRecvQueue[0]
				t.postRecvQueue = t.postRecvQueue[1:]
				imm := event.Op.Imm
				recvCQ.Push(Completion{Opcode: CompletionRecv, WrID: x.WrID, Imm: &imm, QPN: qpn})
			}
		case RecvOpReadResp:
			t.readRespQueue = append(t.readRespQueue, event)
			if sendCQ != nil {
				t.AckSend(nil, sendCQ, ackTimeoutTx)
			}
		case RecvOpRecvRead, RecvOpWrite:
		}
		if event.AckReq && ackRespTx != nil {
			ackRespTx <- AckResponseTask{Kind: AckResponseAck, QPN: qpn, Msn: event.Info.Msn, LastPsn: event.Info.EndPsn}
		}
	}
}

// CompletionTaskKind discriminates CompletionTask.
type CompletionTaskKind uint8

const (
	CompletionTaskRegister CompletionTaskKind = iota
	CompletionTaskAckSend
	CompletionTaskAckRecv
)

type CompletionTask struct {
	Kind    CompletionTaskKind
	QPN     uint32
	Event   Event
	BasePsn psn.PSN
}

// CompletionWorker owns every QP's QueuePairMessageTracker and is the
// single writer into every CQ in the table (spec.md §4.11).
type CompletionWorker struct {
	NoMaintenance

	trackerTable QPTable[QueuePairMessageTracker]
	cqTable      *CqManager
	qpTable      *QpTableShared
	ackRespTx    chan<- AckResponseTask
	ackTimeoutTx chan<- AckTimeoutTask
}

func NewCompletionWorker(cqTable *CqManager, qpTable *QpTableShared, ackRespTx chan<- AckResponseTask, ackTimeoutTx chan<- AckTimeoutTask) *CompletionWorker {
	return &CompletionWorker{
		trackerTable: *NewQPTable[QueuePairMessageTracker](),
		cqTable:      cqTable,
		qpTable:      qpTable,
		ackRespTx:    ackRespTx,
		ackTimeoutTx: ackTimeoutTx,
	}
}

func (w *CompletionWorker) Process(task CompletionTask) {
	tracker := w.trackerTable.Ensure(task.QPN)
	qpAttr, ok := w.qpTable.Get(task.QPN)
	if !ok {
		return
	}
	switch task.Kind {
	case CompletionTaskRegister:
		tracker.Append(task.Event)
	case CompletionTaskAckSend:
		if qpAttr.SendCQ == nil {
			return
		}
		cq, ok := w.cqTable.Get(*qpAttr.SendCQ)
		if !ok {
			return
		}
		p := task.BasePsn
		tracker.AckSend(&p, cq, w.ackTimeoutTx)
	case CompletionTaskAckRecv:
		var sendCQ *CompletionQueue
		if qpAttr.SendCQ != nil {
			sendCQ, _ = w.cqTable.Get(*qpAttr.SendCQ)
		}
		if qpAttr.RecvCQ == nil {
			return
		}
		recvCQ, ok := w.cqTable.Get(*qpAttr.RecvCQ)
		if !ok {
			return
		}
		tracker.AckRecv(task.BasePsn, recvCQ, sendCQ, task.QPN, w.ackRespTx, w.ackTimeoutTx)
	}
}

// PushFatal resolves the TimeoutFatal open question: once a QP's retry
// budget is exhausted it cannot cleanly ack anything further, so both of
// its CQs (if configured) receive a QP-scoped error completion instead
// (spec.md §9).
func (w *CompletionWorker) PushFatal(qpn uint32, cause error) {
	qpAttr, ok := w.qpTable.Get(qpn)
	if !ok {
		return
	}
	comp := Completion{Opcode: CompletionError, QPN: qpn, Err: cause}
	if qpAttr.SendCQ != nil {
		if cq, ok := w.cqTable.Get(*qpAttr.SendCQ); ok {
			cq.Push(comp)
		}
	}
	if qpAttr.RecvCQ != nil {
		if cq, ok := w.cqTable.Get(*qpAttr.RecvCQ); ok {
			cq.Push(comp)
		}
	}
}
