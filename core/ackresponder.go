/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/blue-rdma/rdma-driver/log"
	"github.com/blue-rdma/rdma-driver/psn"
)

const (
	roceUDPPort      = 4791
	bthOpcodeAck     = 0x11
	bthTransTypeRC   = 0x00
	ackPayloadLength = 48 // BTH(12) + prev_bitmap(16) + now_bitmap(16) + AETH(4)
)

// AckResponseKind discriminates AckResponseTask.
type AckResponseKind uint8

const (
	AckResponseAck AckResponseKind = iota
	AckResponseNak
)

// AckResponseTask is what the completion worker and ACK/retransmit
// dispatcher hand to the ACK responder, grounded on
// rust-driver/src/ack_responder.rs::AckResponse.
type AckResponseTask struct {
	Kind    AckResponseKind
	QPN     uint32
	Msn     psn.MSN
	LastPsn psn.PSN

	BasePsn         psn.PSN
	AckReqPacketPsn psn.PSN
}

// FrameSink is anything that can transmit a fully built Ethernet frame;
// satisfied by the simple-NIC raw socket in production and a recording
// fake in tests.
type FrameSink interface {
	Send(frame []byte) error
}

// AckResponder builds and sends ACK/NAK frames in response to completion
// and retransmit-dispatch decisions (spec.md §4.12).
type AckResponder struct {
	NoMaintenance

	qpTable *QpTableShared
	sink    FrameSink
	mac     net.HardwareAddr
	logger  *log.Logger
	metrics *Metrics
}

func NewAckResponder(qpTable *QpTableShared, sink FrameSink, mac net.HardwareAddr, logger *log.Logger) *AckResponder {
	if logger == nil {
		logger = log.NewDiscard()
	}
	return &AckResponder{qpTable: qpTable, sink: sink, mac: mac, logger: logger}
}

// SetMetrics wires m into the responder; nil (the zero value) disables
// instrumentation entirely, so callers that don't care can skip this.
func (r *AckResponder) SetMetrics(m *Metrics) { r.metrics = m }

// SetSink swaps the frame transmitter, letting a caller replace the
// placeholder sink NewEngine wires in by default with a real one once it is
// available (see Engine.SetFrameSink).
func (r *AckResponder) SetSink(sink FrameSink) { r.sink = sink }

func (r *AckResponder) Process(task AckResponseTask) {
	attr, ok := r.qpTable.Get(task.QPN)
	if !ok {
		r.logger.Warn("ack responder: unknown qpn %d", task.QPN)
		return
	}
	builder := ackFrameBuilder{srcIP: attr.IP, dstIP: attr.DQPIP, dqpn: attr.DQPN, mac: r.mac}

	var frame []byte
	var err error
	switch task.Kind {
	case AckResponseAck:
		frame, err = builder.build(task.LastPsn, FullBitmap128, psn.New(0), Bitmap128{}, false, false)
	case AckResponseNak:
		frame, err = builder.build(task.AckReqPacketPsn.Add(1), Bitmap128{}, task.BasePsn, Bitmap128{}, true, true)
	}
	if err != nil {
		r.logger.Error("ack responder: build frame: %v", err)
		return
	}
	if err := r.sink.Send(frame); err != nil {
		r.logger.Error("ack responder: send frame: %v", err)
		return
	}
	if r.metrics != nil {
		qpnLabel := fmt.Sprintf("%d", task.QPN)
		if task.Kind == AckResponseNak {
			r.metrics.NaksSent.WithLabelValues(qpnLabel).Inc()
		} else {
			r.metrics.AcksSent.WithLabelValues(qpnLabel).Inc()
		}
	}
}

// ackFrameBuilder assembles the RoCEv2-shaped ACK/NAK datagram: an
// Ethernet/IPv4/UDP envelope (built with gopacket/layers) wrapping a
// hand-packed BTH+AETH payload, packed by hand with shifts and byte
// slices the same way device/codec.go packs its own wire header.
type ackFrameBuilder struct {
	srcIP uint32
	dstIP uint32
	dqpn  uint32
	mac   net.HardwareAddr
}

func (b ackFrameBuilder) build(nowPsn psn.PSN, nowBitmap Bitmap128, prePsn psn.PSN, prevBitmap Bitmap128, isPacketLoss, isWindowSlided bool) ([]byte, error) {
	payload := make([]byte, ackPayloadLength)

	bth := uint32(bthOpcodeAck)<<27 | uint32(bthTransTypeRC)<<24 | (nowPsn.Uint32() & psn.Mask)
	binary.BigEndian.PutUint32(payload[0:4], bth)
	binary.BigEndian.PutUint32(payload[4:8], b.dqpn&0x00FF_FFFF)
	binary.BigEndian.PutUint32(payload[8:12], 0)

	putBitmap128(payload[12:28], prevBitmap)
	putBitmap128(payload[28:44], nowBitmap)

	// AETH: pre_psn(24) | is_send_by_driver | is_window_slided | is_packet_loss
	aeth := (prePsn.Uint32() & psn.Mask) | 1<<24
	if isWindowSlided {
		aeth |= 1 << 25
	}
	if isPacketLoss {
		aeth |= 1 << 26
	}
	binary.BigEndian.PutUint32(payload[44:48], aeth)

	eth := &layers.Ethernet{
		SrcMAC:       b.mac,
		DstMAC:       b.mac,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    ipFromU32(b.srcIP),
		DstIP:    ipFromU32(b.dstIP),
		Flags:    layers.IPv4DontFragment,
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

func putBitmap128(dst []byte, bm Bitmap128) {
	binary.BigEndian.PutUint64(dst[0:8], bm.Hi)
	binary.BigEndian.PutUint64(dst[8:16], bm.Lo)
}

func ipFromU32(v uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
