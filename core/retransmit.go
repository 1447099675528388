/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"fmt"
	"sort"

	"github.com/blue-rdma/rdma-driver/psn"
)

// SendQueueElem is one posted-and-not-yet-fully-acked work request kept
// around for possible retransmission, tagged with the QP snapshot and the
// first PSN it was assigned.
type SendQueueElem struct {
	Psn      psn.PSN
	Wr       WorkRequest
	QPParams QPParams
}

// IbvSendQueue is the per-QP ordered retransmit buffer: elements are
// pushed in PSN order and located via binary partition point, grounded on
// rust-driver/src/workers/retransmit.rs::IbvSendQueue.
type IbvSendQueue struct {
	inner   []SendQueueElem
	basePsn psn.PSN
}

func (q *IbvSendQueue) Push(e SendQueueElem) { q.inner = append(q.inner, e) }

// partitionPoint returns the index of the first element whose PSN is not
// Less(elem.Psn, p) i.e. the first element with elem.Psn >= p in
// signed-modular order (mirrors Rust's partition_point(|x| x.psn < psn)).
func (q *IbvSendQueue) partitionPoint(p psn.PSN) int {
	return sort.Search(len(q.inner), func(i int) bool {
		return !psn.Less(q.inner[i].Psn, p)
	})
}

// PopUntil drops every buffered element whose PSN precedes psn, keeping
// the last one before it (it may still be in flight for a read response)
// and sets the new base PSN.
func (q *IbvSendQueue) PopUntil(p psn.PSN) {
	a := q.partitionPoint(p)
	drop := a - 1
	if drop < 0 {
		drop = 0
	}
	q.inner = q.inner[drop:]
	q.basePsn = p
}

// Range returns the buffered elements whose PSN lies in [psnLow, psnHigh).
func (q *IbvSendQueue) Range(psnLow, psnHigh psn.PSN) []SendQueueElem {
	a := q.partitionPoint(psnLow)
	b := q.partitionPoint(psnHigh)
	if a >= b {
		return nil
	}
	out := make([]SendQueueElem, b-a)
	copy(out, q.inner[a:b])
	return out
}

func (q *IbvSendQueue) All() []SendQueueElem { return q.inner }

func (q *IbvSendQueue) Len() int { return len(q.inner) }

func (q *IbvSendQueue) BasePsn() psn.PSN { return q.basePsn }

// PacketRetransmitTaskKind discriminates PacketRetransmitTask.
type PacketRetransmitTaskKind uint8

const (
	RetransmitNewWr PacketRetransmitTaskKind = iota
	RetransmitRange
	RetransmitAll
	RetransmitAck
)

// PacketRetransmitTask is the message type the packet-retransmit worker
// consumes (spec.md §4.9).
type PacketRetransmitTask struct {
	Kind    PacketRetransmitTaskKind
	QPN     uint32
	Wr      SendQueueElem
	PsnLow  psn.PSN // inclusive
	PsnHigh psn.PSN // exclusive
	Psn     psn.PSN
}

// ChunkSink is anything the retransmit worker can hand freshly built
// packets to; satisfied by the send worker pool's submit channel.
type ChunkSink interface {
	Send(WrChunk)
}

// PacketRetransmitWorker replays buffered work requests on request from
// the ACK dispatcher, and trims the buffer as PSNs are acknowledged
// (spec.md §4.9, rust-driver/src/workers/retransmit.rs).
type PacketRetransmitWorker struct {
	NoMaintenance

	sink    ChunkSink
	table   QPTable[IbvSendQueue]
	metrics *Metrics
}

func NewPacketRetransmitWorker(sink ChunkSink) *PacketRetransmitWorker {
	return &PacketRetransmitWorker{sink: sink, table: *NewQPTable[IbvSendQueue]()}
}

// SetMetrics wires m into the worker; nil disables instrumentation.
func (w *PacketRetransmitWorker) SetMetrics(m *Metrics) { w.metrics = m }

func (w *PacketRetransmitWorker) Process(task PacketRetransmitTask) {
	sq := w.table.Ensure(task.QPN)
	switch task.Kind {
	case RetransmitNewWr:
		sq.Push(task.Wr)
	case RetransmitRange:
		for _, sqe := range sq.Range(task.PsnLow, task.PsnHigh) {
			w.replay(sqe, task.PsnLow, task.PsnHigh)
		}
	case RetransmitAll:
		w.replayAllFrom(sq.All(), sq.BasePsn())
	case RetransmitAck:
		sq.PopUntil(task.Psn)
	}
	if w.metrics != nil {
		w.metrics.SendQueueDepth.WithLabelValues(fmt.Sprintf("%d", task.QPN)).Set(float64(sq.Len()))
	}
}

func (w *PacketRetransmitWorker) replay(sqe SendQueueElem, psnLow, psnHigh psn.PSN) {
	cf, ok := NewWrPacketFragmenter(sqe.Wr, sqe.QPParams, sqe.Psn, true)
	if !ok {
		return
	}
	chunks, ok := cf.Chunks()
	if !ok {
		return
	}
	for _, c := range chunks {
		if psn.Less(c.Psn, psnLow) || !psn.Less(c.Psn, psnHigh) {
			continue
		}
		w.sink.Send(c)
		if w.metrics != nil {
			w.metrics.PacketsRetransmitted.WithLabelValues(fmt.Sprintf("%d", sqe.QPParams.SQPN)).Inc()
		}
	}
}

// replayAllFrom flattens every buffered SQE to its constituent packets, in
// order, and skips only the individual packets whose PSN precedes base —
// not whole SQEs whose *starting* PSN precedes it — matching
// rust-driver/src/workers/retransmit.rs's RetransmitAll arm
// (flat_map(fragmenter).skip_while(|x| x.psn < base_psn)). A multi-packet
// SQE that started before base but has later packets at or past it must
// still have those later packets replayed.
func (w *PacketRetransmitWorker) replayAllFrom(sqes []SendQueueElem, base psn.PSN) {
	skipping := true
	for _, sqe := range sqes {
		cf, ok := NewWrPacketFragmenter(sqe.Wr, sqe.QPParams, sqe.Psn, true)
		if !ok {
			continue
		}
		chunks, ok := cf.Chunks()
		if !ok {
			continue
		}
		for _, c := range chunks {
			if skipping {
				if psn.Less(c.Psn, base) {
					continue
				}
				skipping = false
			}
			w.sink.Send(c)
			if w.metrics != nil {
				w.metrics.PacketsRetransmitted.WithLabelValues(fmt.Sprintf("%d", sqe.QPParams.SQPN)).Inc()
			}
		}
	}
}
