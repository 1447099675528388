/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"github.com/blue-rdma/rdma-driver/log"
	"github.com/blue-rdma/rdma-driver/psn"
)

// MetaDispatcher fans decoded meta-report entries out to the ACK tracker
// per QP and on to the completion/retransmit/timeout/RDMA-write workers,
// grounded on rust-driver/src/workers/meta_report/worker.rs::MetaHandler.
type MetaDispatcher struct {
	NoMaintenance

	sendTable QPTable[RemoteAckTracker]
	recvTable QPTable[LocalAckTracker]

	ackTx              chan<- AckResponseTask
	ackTimeoutTx       chan<- AckTimeoutTask
	packetRetransmitTx chan<- PacketRetransmitTask
	completionTx       chan<- CompletionTask
	rdmaWriteTx        chan<- RdmaWriteTask
	logger             *log.Logger
}

func NewMetaDispatcher(
	ackTx chan<- AckResponseTask,
	ackTimeoutTx chan<- AckTimeoutTask,
	packetRetransmitTx chan<- PacketRetransmitTask,
	completionTx chan<- CompletionTask,
	rdmaWriteTx chan<- RdmaWriteTask,
	logger *log.Logger,
) *MetaDispatcher {
	if logger == nil {
		logger = log.NewDiscard()
	}
	return &MetaDispatcher{
		sendTable:          *NewQPTable[RemoteAckTracker](),
		recvTable:          *NewQPTable[LocalAckTracker](),
		ackTx:              ackTx,
		ackTimeoutTx:       ackTimeoutTx,
		packetRetransmitTx: packetRetransmitTx,
		completionTx:       completionTx,
		rdmaWriteTx:        rdmaWriteTx,
		logger:             logger,
	}
}

// Process dispatches one decoded meta-report entry, restarting the QP's
// ack-timeout timer before routing it to the right handler. It satisfies
// TaskWorker[ReportMeta] so the dispatcher can be driven by Spawn like
// every other worker in this package.
func (h *MetaDispatcher) Process(meta ReportMeta) { h.HandleMeta(meta) }

// HandleMeta is the dispatch entry point Process delegates to; tests call
// it directly since it reads more naturally than Process at call sites
// that aren't going through a task channel.
func (h *MetaDispatcher) HandleMeta(meta ReportMeta) {
	if h.ackTimeoutTx != nil {
		h.ackTimeoutTx <- AckTimeoutTask{Kind: AckTimeoutRecvMeta, QPN: meta.QPN()}
	}
	switch meta.Kind {
	case ReportHeaderWrite:
		h.handleHeaderWrite(meta.HeaderWrite)
	case ReportHeaderRead:
		h.handleHeaderRead(meta.HeaderRead)
	case ReportAckLocalHw:
		h.handleAckLocalHw(meta.AckLocalHw)
	case ReportAckRemoteDriver:
		h.handleAckRemoteDriver(meta.AckRemoteDriver)
	case ReportNakLocalHw:
		h.handleNakLocalHw(meta.NakLocalHw)
	case ReportNakRemoteHw:
		h.handleNakRemoteHw(meta.NakRemoteHw)
	case ReportNakRemoteDriver:
		h.handleNakRemoteDriver(meta.NakRemoteDriver)
	case ReportCnp:
		h.logger.Warn("congestion notification on qpn %d (unimplemented)", meta.Cnp.QPN)
	}
}

func (h *MetaDispatcher) handleAckLocalHw(meta AckMetaLocalHw) {
	tracker, ok := h.recvTable.Get(meta.QPN)
	if !ok {
		return
	}
	if p, ok := tracker.AckBitmap(meta.PsnNow, meta.NowBitmap); ok {
		h.receiverUpdates(meta.QPN, p)
	}
}

func (h *MetaDispatcher) handleAckRemoteDriver(meta AckMetaRemoteDriver) {
	tracker, ok := h.sendTable.Get(meta.QPN)
	if !ok {
		return
	}
	if p, ok := tracker.AckBefore(meta.PsnNow); ok {
		h.senderUpdates(meta.QPN, p)
	}
}

func (h *MetaDispatcher) handleNakLocalHw(meta NakMetaLocalHw) {
	h.logger.Debug("nak local hw: qpn=%d psn_now=%s psn_pre=%s", meta.QPN, meta.PsnNow, meta.PsnPre)
	tracker, ok := h.recvTable.Get(meta.QPN)
	if !ok {
		return
	}
	if p, ok := tracker.NakBitmap(meta.PsnPre, meta.PreBitmap, meta.PsnNow, meta.NowBitmap); ok {
		h.receiverUpdates(meta.QPN, p)
	}
}

func (h *MetaDispatcher) handleNakRemoteHw(meta NakMetaRemoteHw) {
	h.logger.Debug("nak remote hw: qpn=%d psn_now=%s psn_pre=%s", meta.QPN, meta.PsnNow, meta.PsnPre)
	tracker, ok := h.sendTable.Get(meta.QPN)
	if ok {
		if p, ok := tracker.NakBitmap(meta.Msn, meta.PsnPre, meta.PreBitmap, meta.PsnNow, meta.NowBitmap); ok {
			h.senderUpdates(meta.QPN, p)
		}
	}
	if h.packetRetransmitTx != nil {
		h.packetRetransmitTx <- PacketRetransmitTask{
			Kind: RetransmitRange, QPN: meta.QPN, PsnLow: meta.PsnPre, PsnHigh: meta.PsnNow.Add(MaxPSNWindow),
		}
	}
}

func (h *MetaDispatcher) handleNakRemoteDriver(meta NakMetaRemoteDriver) {
	h.logger.Debug("nak remote driver: qpn=%d psn_now=%s psn_pre=%s", meta.QPN, meta.PsnNow, meta.PsnPre)
	tracker, ok := h.sendTable.Get(meta.QPN)
	if ok {
		if p, ok := tracker.AckBefore(meta.PsnPre); ok {
			h.senderUpdates(meta.QPN, p)
		}
	}
	if h.packetRetransmitTx != nil {
		h.packetRetransmitTx <- PacketRetransmitTask{
			Kind: RetransmitRange, QPN: meta.QPN, PsnLow: meta.PsnPre, PsnHigh: meta.PsnNow,
		}
	}
}

func (h *MetaDispatcher) senderUpdates(qpn uint32, basePsn psn.PSN) {
	if h.completionTx != nil {
		h.completionTx <- CompletionTask{Kind: CompletionTaskAckSend, QPN: qpn, BasePsn: basePsn}
	}
	if h.packetRetransmitTx != nil {
		h.packetRetransmitTx <- PacketRetransmitTask{Kind: RetransmitAck, QPN: qpn, Psn: basePsn}
	}
	if h.rdmaWriteTx != nil {
		h.rdmaWriteTx <- NewAckRdmaWriteTask(qpn, basePsn)
	}
}

func (h *MetaDispatcher) receiverUpdates(qpn uint32, basePsn psn.PSN) {
	if h.completionTx != nil {
		h.completionTx <- CompletionTask{Kind: CompletionTaskAckRecv, QPN: qpn, BasePsn: basePsn}
	}
	if h.packetRetransmitTx != nil {
		h.packetRetransmitTx <- PacketRetransmitTask{Kind: RetransmitAck, QPN: qpn, Psn: basePsn}
	}
}

func (h *MetaDispatcher) handleHeaderRead(meta HeaderReadMeta) {
	if meta.AckReq {
		endPsn := meta.Psn.Add(1)
		event := Event{Kind: EventRecv, Recv: RecvEvent{
			QPN: meta.DQPN, Op: RecvEventOp{Kind: RecvOpRecvRead}, Info: MessageMeta{Msn: meta.Msn, EndPsn: endPsn}, AckReq: true,
		}}
		if h.completionTx != nil {
			h.completionTx <- CompletionTask{Kind: CompletionTaskRegister, QPN: meta.DQPN, Event: event}
		}
		if tracker, ok := h.recvTable.Get(meta.DQPN); ok {
			if basePsn, ok := tracker.AckOne(meta.Psn); ok {
				h.completionTx <- CompletionTask{Kind: CompletionTaskAckRecv, QPN: meta.DQPN, BasePsn: basePsn}
			}
		}
	}

	flags := SendFlags(0)
	if meta.AckReq {
		flags = FlagSignaled
	}
	wr := WorkRequest{
		Flags: flags, RAddr: meta.RAddr, Length: meta.TotalLen, RKey: meta.RKey,
		Opcode: OpRdmaReadResp, LAddr: meta.LAddr, LKey: meta.LKey,
	}
	if h.rdmaWriteTx != nil {
		h.rdmaWriteTx <- NewWriteTask(meta.DQPN, wr)
	}
}

func (h *MetaDispatcher) handleHeaderWrite(meta HeaderWriteMeta) {
	tracker, ok := h.recvTable.Get(meta.DQPN)
	if !ok {
		return
	}

	if meta.Pos == PosLast || meta.Pos == PosOnly {
		endPsn := meta.Psn.Add(1)
		op := RecvEventOp{}
		switch meta.HeaderType {
		case OpRdmaWrite:
			op.Kind = RecvOpWrite
		case OpRdmaWriteWithImm:
			op.Kind = RecvOpWriteWithImm
			op.Imm = meta.Imm
		case OpSend:
			op.Kind = RecvOpRecv
		case OpSendWithImm:
			op.Kind = RecvOpRecvWithImm
			op.Imm = meta.Imm
		case OpRdmaReadResp:
			op.Kind = RecvOpReadResp
		}
		event := Event{Kind: EventRecv, Recv: RecvEvent{
			QPN: meta.DQPN, Op: op, Info: MessageMeta{Msn: meta.Msn, EndPsn: endPsn}, AckReq: meta.AckReq,
		}}
		if h.completionTx != nil {
			h.completionTx <- CompletionTask{Kind: CompletionTaskRegister, QPN: meta.DQPN, Event: event}
		}
	}

	if basePsn, ok := tracker.AckOne(meta.Psn); ok {
		if h.completionTx != nil {
			h.completionTx <- CompletionTask{Kind: CompletionTaskAckRecv, QPN: meta.DQPN, BasePsn: basePsn}
		}
	}

	// A retried last/only packet that still requests an ack means our
	// previous ack never reached the sender: nak it so it retransmits.
	if (meta.Pos == PosLast || meta.Pos == PosOnly) && meta.IsRetry && meta.AckReq && h.ackTx != nil {
		h.ackTx <- AckResponseTask{
			Kind: AckResponseNak, QPN: meta.DQPN, BasePsn: tracker.BasePsn(), AckReqPacketPsn: psn.New(meta.Psn.Uint32() - 1),
		}
	}
}
