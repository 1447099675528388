/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import "github.com/blue-rdma/rdma-driver/psn"

// Fragmenter splits the byte range [baseAddr, baseAddr+length) into
// segments of at most segmentSize bytes, each ending on an align boundary
// (or at the range's end), per rust-driver/src/fragmenter.rs. It is used
// both for 4KiB-aligned hardware chunks (segmentSize = align = 4096) and
// for PMTU-aligned wire packets (segmentSize = align = pmtu).
type Fragmenter struct {
	segmentSize uint64
	align       uint64
	baseAddr    uint64
	endAddr     uint64
}

func NewFragmenter(segmentSize, align, baseAddr, length uint64) Fragmenter {
	return Fragmenter{segmentSize: segmentSize, align: align, baseAddr: baseAddr, endAddr: baseAddr + length}
}

func (f Fragmenter) numSegments() int {
	if f.baseAddr >= f.endAddr {
		return 0
	}
	firstAligned := (f.baseAddr + f.segmentSize) &^ (f.align - 1)
	var remainingAfterFirst uint64
	if f.endAddr > firstAligned {
		remainingAfterFirst = f.endAddr - firstAligned
	}
	return int(ceilDiv(remainingAfterFirst, f.segmentSize)) + 1
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Fragment is one output segment of a Fragmenter pass.
type Fragment struct {
	Addr uint64
	Len  uint64
	Pos  ChunkPos
}

// Iter returns a restartable iterator over f's segments; Fragmenter itself
// is immutable value state, so Iter can be called repeatedly (e.g. to
// rebuild identical chunks for a retransmit) without side effects.
func (f Fragmenter) Iter() *FragmentIter {
	n := f.numSegments()
	pos := ChunkPos(PosFirst)
	if n == 1 {
		pos = PosOnly
	}
	return &FragmentIter{f: f, currentAddr: f.baseAddr, currentPos: pos, remaining: n}
}

// FragmentIter walks a Fragmenter's segments in order.
type FragmentIter struct {
	f           Fragmenter
	currentAddr uint64
	currentPos  ChunkPos
	remaining   int
}

// Len reports the total number of segments this iterator produces,
// independent of how many have already been consumed.
func (it *FragmentIter) Len() int { return it.f.numSegments() }

// Next returns the next fragment, or ok=false once the range is exhausted.
func (it *FragmentIter) Next() (Fragment, bool) {
	if it.remaining == 0 {
		return Fragment{}, false
	}
	end := min64((it.currentAddr+it.f.segmentSize)&^(it.f.align-1), it.f.endAddr)
	length := end - it.currentAddr
	frag := Fragment{Addr: it.currentAddr, Len: length, Pos: it.currentPos}
	it.currentAddr = end
	it.remaining--

	switch {
	case it.currentPos == PosOnly:
		// stays Only
	case it.remaining == 1, it.currentPos == PosLast:
		it.currentPos = PosLast
	default:
		it.currentPos = PosMiddle
	}
	return frag, true
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// ChunkFragmenter drives a Fragmenter with a WorkRequest and a QP
// parameter/PSN snapshot, emitting WrChunk values ready for the send
// worker pool. isRetry marks every produced chunk as a replay.
type ChunkFragmenter struct {
	wr        WorkRequest
	qpParams  QPParams
	basePsn   psn.PSN
	chunkSize uint64
	isRetry   bool
}

// NewWrChunkFragmenter builds the 4KiB hardware-descriptor fragmenter for
// wr (spec.md §4.3 "Chunk fragmentation").
func NewWrChunkFragmenter(wr WorkRequest, qpParams QPParams, basePsn psn.PSN) ChunkFragmenter {
	return ChunkFragmenter{wr: wr, qpParams: qpParams, basePsn: basePsn, chunkSize: WRChunkSize, isRetry: false}
}

// NewWrPacketFragmenter builds the PMTU-aligned wire-packet fragmenter for
// wr (spec.md §4.3 "Packet fragmentation"), one PSN per fragment.
func NewWrPacketFragmenter(wr WorkRequest, qpParams QPParams, basePsn psn.PSN, isRetry bool) (ChunkFragmenter, bool) {
	pmtu, ok := qpParams.PMTU.Bytes()
	if !ok {
		return ChunkFragmenter{}, false
	}
	return ChunkFragmenter{wr: wr, qpParams: qpParams, basePsn: basePsn, chunkSize: uint64(pmtu), isRetry: isRetry}, true
}

// Chunks materializes every WrChunk this fragmenter produces, advancing
// the PSN by ceil(fragment_len / pmtu) between fragments so chunk
// fragmentation (chunkSize = 4096) and packet fragmentation (chunkSize =
// pmtu) share one code path.
func (c ChunkFragmenter) Chunks() ([]WrChunk, bool) {
	pmtu, ok := c.qpParams.PMTU.Bytes()
	if !ok {
		return nil, false
	}
	fr := NewFragmenter(c.chunkSize, c.chunkSize, c.wr.RAddr, uint64(c.wr.Length))
	it := fr.Iter()
	chunks := make([]WrChunk, 0, it.Len())
	curPsn := c.basePsn
	laddr := c.wr.LAddr
	for {
		f, ok := it.Next()
		if !ok {
			break
		}
		chunk := WrChunk{
			Psn:      curPsn,
			LAddr:    laddr,
			RAddr:    f.Addr,
			Len:      uint32(f.Len),
			Pos:      f.Pos,
			IsRetry:  c.isRetry,
			Opcode:   c.wr.Opcode,
			SendFlag: c.wr.Flags,
			RKey:     c.wr.RKey,
			LKey:     c.wr.LKey,
			Imm:      c.wr.Imm,
			QPParams: c.qpParams,
		}
		chunks = append(chunks, chunk)
		numPackets := ceilDiv(f.Len, uint64(pmtu))
		curPsn = curPsn.Add(uint32(numPackets))
		laddr += f.Len
	}
	return chunks, true
}
