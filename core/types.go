/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import "github.com/blue-rdma/rdma-driver/psn"

// WorkReqOpCode enumerates the single-SGE operations this driver supports
// (spec.md Non-goals exclude atomics and multi-SGE work requests).
type WorkReqOpCode uint8

const (
	OpRdmaWrite WorkReqOpCode = iota
	OpRdmaWriteWithImm
	OpSend
	OpSendWithImm
	OpRdmaRead
	OpRdmaReadResp
)

// SendFlags mirrors the ibv_send_flags bits this core understands.
type SendFlags uint8

const (
	FlagSignaled SendFlags = 1 << iota
)

// WorkRequest is the input work request of spec.md §3: single-SGE, with an
// optional remote address/key pair for RDMA operations.
type WorkRequest struct {
	WrID   uint64
	Flags  SendFlags
	LAddr  uint64
	Length uint32
	LKey   uint32
	Imm    uint32
	Opcode WorkReqOpCode
	RAddr  uint64
	RKey   uint32
}

func (wr WorkRequest) Signaled() bool { return wr.Flags&FlagSignaled != 0 }

// ChunkPos marks a fragment's position within its parent work request.
type ChunkPos uint8

const (
	PosOnly ChunkPos = iota
	PosFirst
	PosMiddle
	PosLast
)

// WrChunk is a hardware-submission unit: built by the fragmenter, consumed
// by the send worker pool.
type WrChunk struct {
	Psn      psn.PSN
	LAddr    uint64
	RAddr    uint64
	Len      uint32
	Pos      ChunkPos
	IsRetry  bool
	Opcode   WorkReqOpCode
	SendFlag SendFlags
	RKey     uint32
	LKey     uint32
	Imm      uint32
	QPParams QPParams
}

// QPParams is the immutable snapshot of QP wire parameters a chunk/packet
// needs to be built and (if necessary) replayed, independent of the live
// QpAttr table entry (spec.md §4.3, §4.8 "qp_snapshot").
type QPParams struct {
	SQPN    uint32
	DQPN    uint32
	PMTU    PMTU
	DQPIP   uint32
	MacAddr uint64
}

// CompletionOpcode distinguishes the kind of entry materialized into a CQ;
// CompletionError is the resolution of the "TimeoutFatal surfaced via poll_cq"
// open question (spec.md §9): a QP-scoped error completion with no
// matching posted WR.
type CompletionOpcode uint8

const (
	CompletionSend CompletionOpcode = iota
	CompletionRdmaWrite
	CompletionRdmaRead
	CompletionRecv
	CompletionRecvRdmaWithImm
	CompletionError
)

// Completion is a single entry pushed into a CQ.
type Completion struct {
	Opcode CompletionOpcode
	WrID   uint64
	Imm    *uint32
	QPN    uint32
	Err    error // only set when Opcode == CompletionError
}
