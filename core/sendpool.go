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
	"sync"

	"github.com/blue-rdma/rdma-driver/log"
)

// SendQueueDesc is the flattened two-segment descriptor the hardware send
// queue consumes for one chunk, grounded on
// rust-driver/src/protocol_impl/send.rs's SendQueueReqDescSeg0/Seg1 pair.
// Go has no equivalent of an enum-of-struct-variants pushed onto a ring one
// segment at a time, so both segments are carried together and it is the
// DescriptorSink's job to serialize them in order.
type SendQueueDesc struct {
	Opcode   WorkReqOpCode
	Msn      uint16
	Psn      uint32
	QPType   QpType
	DQPN     uint32
	Flags    SendFlags
	DQPIP    uint32
	RAddr    uint64
	RKey     uint32
	TotalLen uint32

	PMTU    PMTU
	Pos     ChunkPos
	IsRetry bool
	SQPN    uint32
	Imm     uint32
	MacAddr uint64
	LKey    uint32
	Len     uint32
	LAddr   uint64
}

func descFromChunk(c WrChunk) SendQueueDesc {
	return SendQueueDesc{
		Opcode: c.Opcode, Psn: c.Psn.Uint32(), QPType: QPTypeRC, DQPN: c.QPParams.DQPN,
		Flags: c.SendFlag, DQPIP: c.QPParams.DQPIP, RAddr: c.RAddr, RKey: c.RKey, TotalLen: c.Len,
		PMTU: c.QPParams.PMTU, Pos: c.Pos, IsRetry: c.IsRetry, SQPN: c.QPParams.SQPN, Imm: c.Imm,
		MacAddr: c.QPParams.MacAddr, LKey: c.LKey, Len: c.Len, LAddr: c.LAddr,
	}
}

// DescriptorSink pushes one built descriptor onto a hardware send-queue
// ring and returns a non-nil error when the ring has no room; the caller is
// expected to retry. Satisfied in production by a CSR-backed ring buffer
// proxy and by a recording fake in tests.
type DescriptorSink interface {
	Submit(desc SendQueueDesc) error
}

// SendQueueScheduler is the ChunkSink every other worker posts WrChunks
// into; it fans them out across a SendWorkerPool's goroutines. Rust's
// crossbeam-deque Injector/Stealer pair exists to give each OS thread a
// private queue it can drain without contention and fall back to stealing
// from; a buffered Go channel read by multiple goroutines already gives
// every idle worker the next chunk with no separate work-stealing step, so
// one shared channel plays the injector's role here.
type SendQueueScheduler struct {
	chunks chan WrChunk
}

func NewSendQueueScheduler(queueDepth int) *SendQueueScheduler {
	return &SendQueueScheduler{chunks: make(chan WrChunk, queueDepth)}
}

// Send implements ChunkSink.
func (s *SendQueueScheduler) Send(c WrChunk) { s.chunks <- c }

// Chunks exposes the scheduler's channel read-only, for a verbs-facade-level
// test harness to observe what a posted work request produced without a
// real DescriptorSink attached.
func (s *SendQueueScheduler) Chunks() <-chan WrChunk { return s.chunks }

// SendWorkerPool drains a SendQueueScheduler across N goroutines, each
// pinned to its own DescriptorSink (one hardware send queue per worker, as
// in spawn_send_workers), and retries a chunk whose descriptor doesn't fit
// by resubmitting it to the shared channel.
type SendWorkerPool struct {
	scheduler *SendQueueScheduler
	sinks     []DescriptorSink
	logger    *log.Logger
	wg        sync.WaitGroup
}

func NewSendWorkerPool(scheduler *SendQueueScheduler, sinks []DescriptorSink, logger *log.Logger) *SendWorkerPool {
	if logger == nil {
		logger = log.NewDiscard()
	}
	return &SendWorkerPool{scheduler: scheduler, sinks: sinks, logger: logger}
}

// Run starts one goroutine per descriptor sink and blocks until ctx is
// cancelled, then waits for every worker to drain its in-flight chunk.
func (p *SendWorkerPool) Run(ctx context.Context) {
	for id, sink := range p.sinks {
		p.wg.Add(1)
		go p.runWorker(ctx, id, sink)
	}
	p.wg.Wait()
}

func (p *SendWorkerPool) runWorker(ctx context.Context, id int, sink DescriptorSink) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-p.scheduler.chunks:
			if !ok {
				return
			}
			if err := sink.Submit(descFromChunk(chunk)); err != nil {
				p.logger.Debug("send worker %d: queue full, requeueing chunk for qpn %d", id, chunk.QPParams.SQPN)
				p.scheduler.chunks <- chunk
				continue
			}
		}
	}
}
