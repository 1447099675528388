/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package verbs is an ibverbs-shaped facade over core.Engine: one call per
// admin-plane verb (alloc_pd, create_qp, reg_mr, post_send, poll_cq, ...),
// grounded on the VerbsOps trait in
// rust-driver/src/verbs/{ctx,mock}.rs. Unlike the Rust mock device, this
// package does not reimplement a second transport underneath itself: every
// verb call here drives the real core.Engine tables and workers, so calling
// it over a loopback pair of Engines exercises the same datapath production
// traffic would.
package verbs

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/blue-rdma/rdma-driver/core"
	"github.com/blue-rdma/rdma-driver/log"
)

// maxPDCount bounds the protection-domain table; spec.md doesn't size this
// explicitly so it is kept generous relative to MaxQPCount.
const maxPDCount = 1 << 10

// pdAllocator is a first-fit bitmap allocator, the same shape as
// core's QpManager/MrManager bitmaps.
type pdAllocator struct {
	mu     sync.Mutex
	bitmap [maxPDCount]bool
}

func (a *pdAllocator) alloc() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, used := range a.bitmap {
		if !used {
			a.bitmap[i] = true
			return uint32(i), nil
		}
	}
	return 0, core.ErrResourceExhausted
}

func (a *pdAllocator) dealloc(handle uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(handle) >= len(a.bitmap) || !a.bitmap[handle] {
		return core.ErrNotFound
	}
	a.bitmap[handle] = false
	return nil
}

// QpInitAttr mirrors ibv_qp_init_attr: the fields needed at create_qp time,
// before the destination is known (spec.md §3 "INIT").
type QpInitAttr struct {
	PDHandle uint32
	SendCQ   uint32
	RecvCQ   uint32
	QPType   core.QpType
	MacAddr  uint64
	IP       uint32
	PMTU     core.PMTU
}

// QpAttr mirrors ibv_qp_attr: the fields an update_qp (INIT->RTR->RTS)
// transition supplies (spec.md §3 "RTR/RTS").
type QpAttr struct {
	DestQPN     uint32
	DestQPIP    uint32
	State       core.QpState
	AccessFlags core.AccessFlags
}

// Device is the verbs entry point, one per opened device instance; it owns
// a protection-domain table on top of whatever core.Engine it wraps. Every
// admin-plane call is a synchronous, blocking RPC against the engine's
// tables (§9 "Admin command plane as synchronous RPC" — no concurrency is
// exposed to the caller, matching the hardware command controller's
// push-then-spin-wait model, minus the actual ring since this build has no
// hardware command queue).
type Device struct {
	engine *core.Engine
	pd     pdAllocator
	logger *log.Logger
}

func Open(engine *core.Engine) *Device {
	return &Device{engine: engine, logger: log.NewDiscard()}
}

// SetLogger wires a logger that records a correlation id for every
// admin-plane call, the verbs-facade equivalent of request-id tagging;
// nil-safe, discards by default.
func (d *Device) SetLogger(logger *log.Logger) {
	if logger == nil {
		logger = log.NewDiscard()
	}
	d.logger = logger
}

// logCmd assigns and logs a correlation id for one admin-plane call.
func (d *Device) logCmd(op string) uuid.UUID {
	id := uuid.New()
	d.logger.Debug("verbs: cmd=%s op=%s", id, op)
	return id
}

// AllocPd mirrors ibv_alloc_pd.
func (d *Device) AllocPd() (uint32, error) { return d.pd.alloc() }

// DeallocPd mirrors ibv_dealloc_pd.
func (d *Device) DeallocPd(handle uint32) error { return d.pd.dealloc(handle) }

// CreateCQ mirrors ibv_create_cq; capacity 0 means unbounded.
func (d *Device) CreateCQ(capacity int) (uint32, error) {
	return d.engine.CqTable.CreateCQ(capacity)
}

// DestroyCQ mirrors ibv_destroy_cq.
func (d *Device) DestroyCQ(handle uint32) error { return d.engine.CqTable.DestroyCQ(handle) }

// PollCQ mirrors ibv_poll_cq, draining up to max completions.
func (d *Device) PollCQ(handle uint32, max int) ([]core.Completion, error) {
	cq, ok := d.engine.CqTable.Get(handle)
	if !ok {
		return nil, core.ErrNotFound
	}
	return cq.Poll(max), nil
}

// RegMr mirrors ibv_reg_mr.
func (d *Device) RegMr(addr uint64, length uint32, access core.AccessFlags) (uint32, error) {
	mr, err := d.engine.MrManager.RegMr(addr, length, access)
	if err != nil {
		return 0, err
	}
	return mr.MrKey, nil
}

// DeregMr mirrors ibv_dereg_mr.
func (d *Device) DeregMr(mrKey uint32) error { return d.engine.MrManager.DeregMr(mrKey) }

// CreateQP mirrors ibv_create_qp: allocates a QPN and an INIT-state
// attribute table entry, recording the init attributes' send/recv CQ
// handles for poll_cq routing.
func (d *Device) CreateQP(attr QpInitAttr) (uint32, error) {
	cmd := d.logCmd("create_qp")
	if _, ok := d.engine.CqTable.Get(attr.SendCQ); !ok {
		return 0, fmt.Errorf("verbs: create_qp: send cq %d: %w", attr.SendCQ, core.ErrNotFound)
	}
	if _, ok := d.engine.CqTable.Get(attr.RecvCQ); !ok {
		return 0, fmt.Errorf("verbs: create_qp: recv cq %d: %w", attr.RecvCQ, core.ErrNotFound)
	}
	qpn, err := d.engine.QpManager.CreateQP()
	if err != nil {
		return 0, err
	}
	sendCQ, recvCQ := attr.SendCQ, attr.RecvCQ
	d.engine.QpTable.Create(qpn, core.QpAttr{
		QpType:  attr.QPType,
		QPN:     qpn,
		IP:      attr.IP,
		MacAddr: attr.MacAddr,
		PMTU:    attr.PMTU,
		SendCQ:  &sendCQ,
		RecvCQ:  &recvCQ,
		State:   core.QpStateInit,
	})
	d.logger.Debug("verbs: cmd=%s create_qp done qpn=%d", cmd, qpn)
	return qpn, nil
}

// UpdateQP mirrors ibv_modify_qp for the INIT->RTR->RTS path this driver
// implements (spec.md §3; no RESET/SQD/SQE transitions).
func (d *Device) UpdateQP(qpn uint32, attr QpAttr) error {
	ok := d.engine.QpTable.Update(qpn, func(a *core.QpAttr) {
		a.DQPN = attr.DestQPN
		a.DQPIP = attr.DestQPIP
		a.Access = attr.AccessFlags
		if attr.State != 0 {
			a.State = attr.State
		}
	})
	if !ok {
		return fmt.Errorf("verbs: update_qp: qpn %d: %w", qpn, core.ErrNotFound)
	}
	return nil
}

// DestroyQP mirrors ibv_destroy_qp.
func (d *Device) DestroyQP(qpn uint32) error {
	d.engine.QpTable.Destroy(qpn)
	d.engine.QpManager.DestroyQP(qpn)
	return nil
}

// PostSend mirrors ibv_post_send for the single-SGE opcodes this driver
// supports; it feeds the work request straight into the engine's
// rdma-write worker, which fragments and schedules it.
func (d *Device) PostSend(qpn uint32, wr core.WorkRequest) error {
	cmd := d.logCmd("post_send")
	if _, ok := d.engine.QpTable.Get(qpn); !ok {
		return fmt.Errorf("verbs: post_send: qpn %d: %w", qpn, core.ErrNotFound)
	}
	d.engine.PostWrite(qpn, wr)
	d.logger.Debug("verbs: cmd=%s post_send done qpn=%d wr_id=%d", cmd, qpn, wr.WrID)
	return nil
}

// PostRecv mirrors ibv_post_recv: it announces one receive buffer to the
// peer over the post-recv side channel (spec.md §4.10 "post-recv
// propagation" — the peer's send-side work doesn't know the local
// receive-buffer address otherwise, since this driver has no RDMA Send
// payload-addressing scheme beyond the posted receive queue).
func (d *Device) PostRecv(tx *core.PostRecvTx, wr core.PostRecvWr) error {
	return tx.Send(wr)
}

// ListenPostRecv binds the responder side of qpn's post-recv side channel,
// so PostRecvWr values a peer's PostRecv sends arrive here and feed the
// completion path. Call once a QP reaches RTR and its local IP is known;
// close the returned PostRecvRx when the QP is destroyed.
func (d *Device) ListenPostRecv(qpn uint32, localIP net.IP) (*core.PostRecvRx, error) {
	return d.engine.StartPostRecvListener(qpn, localIP)
}
