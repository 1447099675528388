/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import "github.com/blue-rdma/rdma-driver/psn"

// ReportMetaKind discriminates the tagged union the meta-report queues
// decode into, grounded on rust-driver/src/workers/meta_report/types.rs.
type ReportMetaKind uint8

const (
	ReportHeaderWrite ReportMetaKind = iota
	ReportHeaderRead
	ReportAckLocalHw
	ReportAckRemoteDriver
	ReportNakLocalHw
	ReportNakRemoteHw
	ReportNakRemoteDriver
	ReportCnp
)

// HeaderWriteMeta is decoded from a packet-info descriptor for a
// Write/WriteWithImm/Send/SendWithImm/ReadResp header; HeaderType reuses
// WorkReqOpCode since the two taxonomies are in 1:1 correspondence here.
type HeaderWriteMeta struct {
	Pos        ChunkPos
	Msn        psn.MSN
	Psn        psn.PSN
	Solicited  bool
	AckReq     bool
	IsRetry    bool
	DQPN       uint32
	TotalLen   uint32
	RAddr      uint64
	RKey       uint32
	Imm        uint32
	HeaderType WorkReqOpCode
}

type HeaderReadMeta struct {
	Msn      psn.MSN
	Psn      psn.PSN
	DQPN     uint32
	RAddr    uint64
	RKey     uint32
	TotalLen uint32
	LAddr    uint64
	LKey     uint32
	AckReq   bool
}

type CnpMeta struct {
	QPN uint32
}

type AckMetaLocalHw struct {
	QPN       uint32
	PsnNow    psn.PSN
	NowBitmap Bitmap128
}

type AckMetaRemoteDriver struct {
	QPN    uint32
	PsnNow psn.PSN
}

type NakMetaLocalHw struct {
	QPN       uint32
	Msn       psn.MSN
	PsnNow    psn.PSN
	NowBitmap Bitmap128
	PsnPre    psn.PSN
	PreBitmap Bitmap128
}

type NakMetaRemoteHw struct {
	QPN       uint32
	Msn       psn.MSN
	PsnNow    psn.PSN
	NowBitmap Bitmap128
	PsnPre    psn.PSN
	PreBitmap Bitmap128
}

type NakMetaRemoteDriver struct {
	QPN    uint32
	PsnNow psn.PSN
	PsnPre psn.PSN
}

// ReportMeta is the tagged union try_recv_meta decodes a queue entry into.
type ReportMeta struct {
	Kind ReportMetaKind

	HeaderWrite     HeaderWriteMeta
	HeaderRead      HeaderReadMeta
	AckLocalHw      AckMetaLocalHw
	AckRemoteDriver AckMetaRemoteDriver
	NakLocalHw      NakMetaLocalHw
	NakRemoteHw     NakMetaRemoteHw
	NakRemoteDriver NakMetaRemoteDriver
	Cnp             CnpMeta
}

func (m ReportMeta) QPN() uint32 {
	switch m.Kind {
	case ReportHeaderWrite:
		return m.HeaderWrite.DQPN
	case ReportHeaderRead:
		return m.HeaderRead.DQPN
	case ReportAckLocalHw:
		return m.AckLocalHw.QPN
	case ReportAckRemoteDriver:
		return m.AckRemoteDriver.QPN
	case ReportNakLocalHw:
		return m.NakLocalHw.QPN
	case ReportNakRemoteHw:
		return m.NakRemoteHw.QPN
	case ReportNakRemoteDriver:
		return m.NakRemoteDriver.QPN
	case ReportCnp:
		return m.Cnp.QPN
	default:
		return 0
	}
}

// RemapReportPsn undoes the hardware's window-relative PSN encoding for
// locally-generated ACK/NAK reports: the receive window starts 112 PSNs
// (128 window size - 16 first stride) behind the PSN the report carries
// (rust-driver/src/workers/meta_report/types.rs::remap_psn). This is an
// external-protocol detail of the device collaborator, so the device
// package's frame decoder calls it on every ack-frame PSN before handing
// the report to the dispatcher.
func RemapReportPsn(p psn.PSN) psn.PSN {
	const offset = 112
	return psn.New(p.Uint32() - offset)
}
