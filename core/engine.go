/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blue-rdma/rdma-driver/config"
	"github.com/blue-rdma/rdma-driver/log"
)

// queueDepth sizes every inter-worker task channel; spec.md leaves this
// unconstrained, so it is chosen generously enough that a slow worker
// backing up never silently drops a task (a full channel blocks the
// sender instead, which is the signal that something downstream is
// stuck).
const queueDepth = 1024

// Engine owns every shared table and worker goroutine the transport
// pipeline needs: it is the composition root rust-driver's `device` crate
// plays, minus the actual hardware CSR/DMA glue, which belongs to a
// separate verbs facade built on top of this package.
type Engine struct {
	Config *config.CfgType
	Logger *log.Logger

	QpManager *QpManager
	QpTable   *QpTableShared
	MrManager *MrManager
	CqTable   *CqManager
	Metrics   *Metrics
	Scheduler *SendQueueScheduler

	completionTx       chan CompletionTask
	ackRespTx          chan AckResponseTask
	ackTimeoutTx       chan AckTimeoutTask
	packetRetransmitTx chan PacketRetransmitTask
	rdmaWriteTx        chan RdmaWriteTask
	metaTx             chan ReportMeta

	completionWorker *CompletionWorker
	ackResponder     *AckResponder
	ackTimeoutWorker *QpAckTimeoutWorker
	retransmitWorker *PacketRetransmitWorker
	rdmaWriteWorker  *RdmaWriteWorker
	metaDispatcher   *MetaDispatcher

	cancel context.CancelFunc
}

// NewEngine wires every worker table and channel together from cfg but
// does not start any goroutine; call Run to start the pipeline.
func NewEngine(cfg *config.CfgType, logger *log.Logger, reg prometheus.Registerer) (*Engine, error) {
	if logger == nil {
		logger = log.NewDiscard()
	}
	mac, err := net.ParseMAC(cfg.Global.Card_Mac_Address)
	if err != nil {
		return nil, fmt.Errorf("engine: card mac: %w", err)
	}

	if cfg.Global.Post_Recv_Base_Port != 0 {
		SetPostRecvBasePort(cfg.Global.Post_Recv_Base_Port)
	}

	e := &Engine{
		Config:    cfg,
		Logger:    logger,
		QpManager: NewQpManager(),
		QpTable:   NewQpTableShared(),
		MrManager: NewMrManager(),
		CqTable:   NewCqManager(),
		Scheduler: NewSendQueueScheduler(queueDepth),

		completionTx:       make(chan CompletionTask, queueDepth),
		ackRespTx:          make(chan AckResponseTask, queueDepth),
		ackTimeoutTx:       make(chan AckTimeoutTask, queueDepth),
		packetRetransmitTx: make(chan PacketRetransmitTask, queueDepth),
		rdmaWriteTx:        make(chan RdmaWriteTask, queueDepth),
		metaTx:             make(chan ReportMeta, queueDepth),
	}

	if reg != nil {
		e.Metrics = NewMetrics(reg)
		e.CqTable.SetMetrics(e.Metrics)
	}

	timeoutConfig := AckTimeoutConfig{
		CheckDurationExp:   cfg.Global.Check_Duration_Exp,
		LocalAckTimeoutExp: cfg.Global.Local_Ack_Timeout_Exp,
		InitRetryCount:     int(cfg.Global.Init_Retry_Count),
	}

	e.completionWorker = NewCompletionWorker(e.CqTable, e.QpTable, e.ackRespTx, e.ackTimeoutTx)
	e.retransmitWorker = NewPacketRetransmitWorker(e.Scheduler)
	e.ackTimeoutWorker = NewQpAckTimeoutWorker(e.packetRetransmitTx, timeoutConfig, e.onFatal)
	e.rdmaWriteWorker = NewRdmaWriteWorker(e.QpTable, e.Scheduler, e.ackTimeoutTx, e.packetRetransmitTx, e.completionTx)
	e.metaDispatcher = NewMetaDispatcher(e.ackRespTx, e.ackTimeoutTx, e.packetRetransmitTx, e.completionTx, e.rdmaWriteTx, logger)

	simpleNic := &simpleNicFrameSink{mac: mac}
	e.ackResponder = NewAckResponder(e.QpTable, simpleNic, mac, logger)

	if e.Metrics != nil {
		e.ackResponder.SetMetrics(e.Metrics)
		e.retransmitWorker.SetMetrics(e.Metrics)
		e.ackTimeoutWorker.SetMetrics(e.Metrics)
	}

	return e, nil
}

func (e *Engine) onFatal(qpn uint32) {
	e.Logger.Warn("qpn %d exceeded its retransmit retry budget, surfacing as a fatal completion", qpn)
	e.completionWorker.PushFatal(qpn, ErrTimeoutFatal)
}

// Run starts every worker goroutine, driven by Spawn, and returns
// immediately; call Stop to tear the pipeline down.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	tick := timeoutCheckInterval(e.Config.Global.Check_Duration_Exp)
	Spawn[CompletionTask](ctx, e.completionWorker, e.completionTx, 0)
	Spawn[AckResponseTask](ctx, e.ackResponder, e.ackRespTx, 0)
	Spawn[AckTimeoutTask](ctx, e.ackTimeoutWorker, e.ackTimeoutTx, tick)
	Spawn[PacketRetransmitTask](ctx, e.retransmitWorker, e.packetRetransmitTx, 0)
	Spawn[RdmaWriteTask](ctx, e.rdmaWriteWorker, e.rdmaWriteTx, 0)
	Spawn[ReportMeta](ctx, e.metaDispatcher, e.metaTx, 0)
}

// Stop cancels every worker goroutine started by Run; safe to call
// multiple times.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// PostMeta feeds one decoded meta-report entry into the dispatcher's task
// channel; the device-facing descriptor decoder calls this once per
// polled ring-buffer entry.
func (e *Engine) PostMeta(meta ReportMeta) { e.metaTx <- meta }

// PostWrite feeds one posted work request into the RDMA-write worker.
func (e *Engine) PostWrite(qpn uint32, wr WorkRequest) {
	e.rdmaWriteTx <- NewWriteTask(qpn, wr)
}

// StartPostRecvListener binds qpn's post-recv side channel and forwards every
// work request the peer posts into the completion path; the caller (the
// verbs facade, once a QP reaches RTR) should Close the returned PostRecvRx
// when the QP is destroyed.
func (e *Engine) StartPostRecvListener(qpn uint32, localIP net.IP) (*PostRecvRx, error) {
	rx, err := ListenPostRecv(localIP, qpn)
	if err != nil {
		return nil, err
	}
	go NewPostRecvWorker(qpn, rx, e.completionTx, e.Logger).Run()
	return rx, nil
}

// StartSendPool drains the engine's chunk scheduler across one goroutine
// per descriptor sink, one sink per hardware send queue. The pool runs in
// the background until ctx is cancelled and StartSendPool returns at once;
// the verbs facade calls this once its send queues are mapped.
func (e *Engine) StartSendPool(ctx context.Context, sinks []DescriptorSink) {
	pool := NewSendWorkerPool(e.Scheduler, sinks, e.Logger)
	go pool.Run(ctx)
}

// SetFrameSink replaces the ACK/NAK responder's transmitter, letting a
// caller swap in a real NIC once one is open. NewEngine wires a
// simpleNicFrameSink by default so the pipeline is fully constructed and
// testable before any real network device exists.
func (e *Engine) SetFrameSink(sink FrameSink) {
	e.ackResponder.SetSink(sink)
}

// simpleNicFrameSink transmits a built ACK/NAK frame over a raw AF_PACKET
// socket in production; the Non-goals of spec.md exclude an in-repo raw
// socket implementation, so this stub exists to give AckResponder a
// concrete FrameSink until device/ wires a real one in.
type simpleNicFrameSink struct {
	mac net.HardwareAddr
}

func (s *simpleNicFrameSink) Send(frame []byte) error {
	return fmt.Errorf("simple-nic raw socket transmission is not wired in this build")
}

// timeoutCheckInterval mirrors QpAckTimeoutWorker's own interval formula
// (4.096us * 2^exp) so the maintenance tick polls timers about as often as
// the timers themselves can expire.
func timeoutCheckInterval(checkDurationExp uint8) time.Duration {
	return time.Duration(4096<<checkDurationExp) * time.Nanosecond
}
