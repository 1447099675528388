/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package device is the software NIC layer: it turns a core.SendQueueDesc
// into a RoCEv2 Ethernet frame and a captured RoCEv2 frame back into a
// core.ReportMeta, using gopacket the same way pcap-based ingesters
// (ingesters/networkLog, ingesters/PacketFleet) build and parse live
// frames. There is no hardware ring buffer in this build, so decode
// works directly off the wire instead of off
// rust-driver/src/desc/meta_report.rs's bit-packed ring descriptors; the
// field semantics (msn, psn, dqpn, opcode, ack bitmap) are the same ones
// that ring format carries, just read from a captured frame instead of
// device memory.
package device

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/blue-rdma/rdma-driver/core"
	"github.com/blue-rdma/rdma-driver/psn"
)

const (
	roceUDPPort = 4791

	bthOpFirst  = 0x06 // RdmaWriteFirst
	bthOpMiddle = 0x07 // RdmaWriteMiddle
	bthOpLast   = 0x08 // RdmaWriteLast
	bthOpOnly   = 0x0a // RdmaWriteOnly
	bthOpAck    = 0x11 // Acknowledge

	bthHeaderLength  = 12
	rethHeaderLength = 16
)

// bthPos maps a BTH opcode byte to its ChunkPos, the inverse of
// posToBTHOp below.
func bthPos(op uint8) (core.ChunkPos, bool) {
	switch op {
	case bthOpFirst:
		return core.PosFirst, true
	case bthOpMiddle:
		return core.PosMiddle, true
	case bthOpLast:
		return core.PosLast, true
	case bthOpOnly:
		return core.PosOnly, true
	default:
		return 0, false
	}
}

func posToBTHOp(pos core.ChunkPos) uint8 {
	switch pos {
	case core.PosFirst:
		return bthOpFirst
	case core.PosMiddle:
		return bthOpMiddle
	case core.PosLast:
		return bthOpLast
	default:
		return bthOpOnly
	}
}

// EncodeWriteFrame builds an Ethernet/IPv4/UDP/BTH+RETH frame carrying one
// RDMA WRITE chunk descriptor, the send-side mirror of ackFrameBuilder.build
// in core/ackresponder.go: same hand-packed header approach.
func EncodeWriteFrame(desc core.SendQueueDesc, srcMAC net.HardwareAddr) ([]byte, error) {
	payload := make([]byte, bthHeaderLength+rethHeaderLength)

	bth := uint32(posToBTHOp(desc.Pos))<<27 | (desc.Psn & psn.Mask)
	binary.BigEndian.PutUint32(payload[0:4], bth)
	binary.BigEndian.PutUint32(payload[4:8], desc.DQPN&0x00FF_FFFF)
	binary.BigEndian.PutUint32(payload[8:12], uint32(desc.Msn)<<16)

	binary.BigEndian.PutUint64(payload[12:20], desc.RAddr)
	binary.BigEndian.PutUint32(payload[20:24], desc.RKey)
	binary.BigEndian.PutUint32(payload[24:28], desc.Imm)

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: macFromU64(desc.MacAddr), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4zero, DstIP: ipFromU32(desc.DQPIP), Flags: layers.IPv4DontFragment,
	}
	udp := &layers.UDP{SrcPort: roceUDPPort, DstPort: roceUDPPort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses a captured Ethernet frame and, if it carries a RoCEv2
// datagram on the well-known port, returns the ReportMeta it represents.
func DecodeFrame(frame []byte) (core.ReportMeta, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return core.ReportMeta{}, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || udp.DstPort != roceUDPPort {
		return core.ReportMeta{}, false
	}
	payload := udp.Payload
	if len(payload) < bthHeaderLength {
		return core.ReportMeta{}, false
	}

	bth := binary.BigEndian.Uint32(payload[0:4])
	op := uint8(bth >> 27)
	p := psn.New(bth & psn.Mask)
	dqpn := binary.BigEndian.Uint32(payload[4:8]) & 0x00FF_FFFF
	msn := psn.MSN(binary.BigEndian.Uint32(payload[8:12]) >> 16)

	if op == bthOpAck {
		return decodeAck(payload, dqpn, p), true
	}
	pos, ok := bthPos(op)
	if !ok {
		return core.ReportMeta{}, false
	}
	if len(payload) < bthHeaderLength+rethHeaderLength {
		return core.ReportMeta{}, false
	}
	raddr := binary.BigEndian.Uint64(payload[12:20])
	rkey := binary.BigEndian.Uint32(payload[20:24])
	imm := binary.BigEndian.Uint32(payload[24:28])

	return core.ReportMeta{
		Kind: core.ReportHeaderWrite,
		HeaderWrite: core.HeaderWriteMeta{
			Pos: pos, Msn: msn, Psn: p, DQPN: dqpn, RAddr: raddr, RKey: rkey, Imm: imm,
			HeaderType: core.OpRdmaWrite,
		},
	}, true
}

// decodeAck reads the BTH+AETH ack payload in the exact layout
// ackFrameBuilder.build writes in core/ackresponder.go. Both PSNs it
// produces are locally-generated hardware reports, so they go through
// core.RemapReportPsn before reaching the dispatcher.
func decodeAck(payload []byte, dqpn uint32, nowPsn psn.PSN) core.ReportMeta {
	nowPsn = core.RemapReportPsn(nowPsn)
	if len(payload) < 48 {
		return core.ReportMeta{Kind: core.ReportAckLocalHw, AckLocalHw: core.AckMetaLocalHw{QPN: dqpn, PsnNow: nowPsn}}
	}
	preBitmap := readBitmap128(payload[12:28])
	nowBitmap := readBitmap128(payload[28:44])
	aeth := binary.BigEndian.Uint32(payload[44:48])
	isWindowSlided := aeth&(1<<25) != 0
	isPacketLoss := aeth&(1<<26) != 0

	if !isPacketLoss && !isWindowSlided {
		return core.ReportMeta{
			Kind:       core.ReportAckLocalHw,
			AckLocalHw: core.AckMetaLocalHw{QPN: dqpn, PsnNow: nowPsn, NowBitmap: nowBitmap},
		}
	}
	prePsn := core.RemapReportPsn(psn.New(aeth & psn.Mask))
	return core.ReportMeta{
		Kind: core.ReportNakLocalHw,
		NakLocalHw: core.NakMetaLocalHw{
			QPN: dqpn, PsnNow: nowPsn, NowBitmap: nowBitmap, PsnPre: prePsn, PreBitmap: preBitmap,
		},
	}
}

func readBitmap128(b []byte) core.Bitmap128 {
	return core.Bitmap128{Hi: binary.BigEndian.Uint64(b[0:8]), Lo: binary.BigEndian.Uint64(b[8:16])}
}

func ipFromU32(v uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func macFromU64(v uint64) net.HardwareAddr {
	b := make(net.HardwareAddr, 6)
	for i := 5; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func validateMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	return mac, nil
}
