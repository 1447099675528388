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
	"time"
)

// AckTimeoutConfig mirrors the CA_ACK_DELAY-style exponent pair of
// rust-driver/src/workers/qp_timeout.rs: interval = 4.096us * 2^exp.
type AckTimeoutConfig struct {
	CheckDurationExp   uint8
	LocalAckTimeoutExp uint8
	InitRetryCount     int
}

func DefaultAckTimeoutConfig() AckTimeoutConfig {
	return AckTimeoutConfig{
		CheckDurationExp:   DefaultTimeoutCheckDurationExp,
		LocalAckTimeoutExp: DefaultLocalAckTimeoutExp,
		InitRetryCount:     DefaultInitRetryCount,
	}
}

// TimerResult is the outcome of a TransportTimer.CheckTimeout call.
type TimerResult uint8

const (
	TimerOk TimerResult = iota
	TimerTimeout
	TimerRetryLimitExceeded
)

// TransportTimer is a per-QP retransmission timer: LocalAckTimeoutExp == 0
// disables it entirely (spec.md §4.8).
type TransportTimer struct {
	interval     time.Duration
	enabled      bool
	lastStart    time.Time
	running      bool
	initRetry    int
	currentRetry int
	now          func() time.Time
}

func NewTransportTimer(localAckTimeoutExp uint8, initRetryCount int) *TransportTimer {
	t := &TransportTimer{initRetry: initRetryCount, currentRetry: initRetryCount, now: time.Now}
	if localAckTimeoutExp != 0 {
		t.enabled = true
		t.interval = time.Duration(4096<<localAckTimeoutExp) * time.Nanosecond
	}
	return t
}

func (t *TransportTimer) IsRunning() bool { return t.running }

func (t *TransportTimer) Stop() { t.running = false }

func (t *TransportTimer) Restart() {
	t.currentRetry = t.initRetry
	t.running = true
	t.lastStart = t.now()
}

func (t *TransportTimer) reset() {
	t.running = true
	t.lastStart = t.now()
}

// CheckTimeout reports whether the timer has fired since it was last
// reset, decrementing the retry budget and restarting on an ordinary
// timeout, or returning TimerRetryLimitExceeded once the budget is spent.
func (t *TransportTimer) CheckTimeout() TimerResult {
	if !t.enabled || !t.running {
		return TimerOk
	}
	if t.now().Sub(t.lastStart) < t.interval {
		return TimerOk
	}
	if t.currentRetry == 0 {
		return TimerRetryLimitExceeded
	}
	t.currentRetry--
	t.reset()
	return TimerTimeout
}

// AckTimeoutTaskKind discriminates AckTimeoutTask.
type AckTimeoutTaskKind uint8

const (
	AckTimeoutNewAckReq AckTimeoutTaskKind = iota
	AckTimeoutRecvMeta
	AckTimeoutAck
)

type AckTimeoutTask struct {
	Kind AckTimeoutTaskKind
	QPN  uint32
}

// QpAckTimeoutWorker runs the periodic maintenance pass that detects
// stalled QPs and asks the packet-retransmit worker to replay everything
// still buffered for them (spec.md §4.8).
type QpAckTimeoutWorker struct {
	retransmitTx      chan<- PacketRetransmitTask
	timers            QPTable[*TransportTimer]
	outstandingAckReq QPTable[int]
	config            AckTimeoutConfig
	fatal             func(qpn uint32)
	metrics           *Metrics
}

// SetMetrics wires m into the worker; nil disables instrumentation.
func (w *QpAckTimeoutWorker) SetMetrics(m *Metrics) { w.metrics = m }

func NewQpAckTimeoutWorker(retransmitTx chan<- PacketRetransmitTask, config AckTimeoutConfig, onFatal func(qpn uint32)) *QpAckTimeoutWorker {
	return &QpAckTimeoutWorker{
		retransmitTx:      retransmitTx,
		timers:            *NewQPTable[*TransportTimer](),
		outstandingAckReq: *NewQPTable[int](),
		config:            config,
		fatal:             onFatal,
	}
}

func (w *QpAckTimeoutWorker) timerFor(qpn uint32) *TransportTimer {
	p := w.timers.Ensure(qpn)
	if *p == nil {
		*p = NewTransportTimer(w.config.LocalAckTimeoutExp, w.config.InitRetryCount)
	}
	return *p
}

func (w *QpAckTimeoutWorker) Process(task AckTimeoutTask) {
	switch task.Kind {
	case AckTimeoutNewAckReq:
		cnt := w.outstandingAckReq.Ensure(task.QPN)
		*cnt++
		w.timerFor(task.QPN).Restart()
		w.reportOutstanding(task.QPN, *cnt)
	case AckTimeoutRecvMeta:
		w.timerFor(task.QPN).Restart()
	case AckTimeoutAck:
		cnt := w.outstandingAckReq.Ensure(task.QPN)
		if *cnt > 0 {
			*cnt--
		}
		if *cnt == 0 {
			w.timerFor(task.QPN).Stop()
		}
		w.reportOutstanding(task.QPN, *cnt)
	}
}

func (w *QpAckTimeoutWorker) reportOutstanding(qpn uint32, count int) {
	if w.metrics != nil {
		w.metrics.OutstandingAckReqs.WithLabelValues(fmt.Sprintf("%d", qpn)).Set(float64(count))
	}
}

// Maintain runs one periodic pass over every live QP's timer, firing a
// RetransmitAll on ordinary timeout and the fatal callback once a QP
// exhausts its retry budget (spec.md §9 "TimeoutFatal").
func (w *QpAckTimeoutWorker) Maintain() {
	for idx := 0; idx < MaxQPCount; idx++ {
		qpn := uint32(idx) << QPNKeyWidth
		timer, ok := w.timers.Get(qpn)
		if !ok || *timer == nil {
			continue
		}
		switch (*timer).CheckTimeout() {
		case TimerOk:
		case TimerTimeout:
			if w.retransmitTx != nil {
				w.retransmitTx <- PacketRetransmitTask{Kind: RetransmitAll, QPN: qpn}
			}
			if w.metrics != nil {
				w.metrics.AckTimeouts.WithLabelValues(fmt.Sprintf("%d", qpn)).Inc()
			}
		case TimerRetryLimitExceeded:
			if w.fatal != nil {
				w.fatal(qpn)
			}
		}
	}
}
