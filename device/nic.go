/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/google/uuid"

	"github.com/blue-rdma/rdma-driver/core"
	"github.com/blue-rdma/rdma-driver/log"
)

const snapLen = 65536

// pktTimeout mirrors ingesters/networkLog's poll interval for
// pcap.OpenLive's read timeout: short enough that Close() unblocks a stuck
// ReadPacketData promptly.
const pktTimeout = 100 * time.Millisecond

// Nic is a live pcap handle bound to one interface, playing both
// core.FrameSink (ACK/NAK transmission) and core.DescriptorSink (RDMA WRITE
// chunk transmission) for this software-only build — the role
// rust-driver/src/csr split between DeviceAdaptor (register I/O) and the
// actual NIC DMA engine, collapsed here into one pcap handle since there is
// no hardware ring to drive.
type Nic struct {
	id     uuid.UUID
	handle *pcap.Handle
	mac    net.HardwareAddr
	logger *log.Logger
}

// Open binds a live capture/injection handle to ifaceName. macAddr is the
// local card's MAC, used as every outgoing frame's source address. Each Nic
// is tagged with a random id so log lines from multiple interfaces bound in
// the same process (or across restarts) can be told apart.
func Open(ifaceName, macAddr string, logger *log.Logger) (*Nic, error) {
	if logger == nil {
		logger = log.NewDiscard()
	}
	mac, err := validateMAC(macAddr)
	if err != nil {
		return nil, err
	}
	handle, err := pcap.OpenLive(ifaceName, snapLen, true, pktTimeout)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", ifaceName, err)
	}
	if err := handle.SetBPFFilter(fmt.Sprintf("udp port %d", roceUDPPort)); err != nil {
		handle.Close()
		return nil, fmt.Errorf("device: set bpf filter: %w", err)
	}
	id := uuid.New()
	logger.Info("device: nic %s opened on %s", id, ifaceName)
	return &Nic{id: id, handle: handle, mac: mac, logger: logger}, nil
}

// ID returns this Nic's instance id, for correlating log lines across
// multiple bound interfaces.
func (n *Nic) ID() uuid.UUID { return n.id }

func (n *Nic) Close() {
	n.logger.Info("device: nic %s closing", n.id)
	n.handle.Close()
}

// Send implements core.FrameSink: it transmits an already-built frame
// verbatim (used by core.AckResponder).
func (n *Nic) Send(frame []byte) error {
	return n.handle.WritePacketData(frame)
}

// Submit implements core.DescriptorSink: it encodes desc into a wire frame
// and transmits it, the software-NIC equivalent of pushing a descriptor
// onto a hardware send-queue ring.
func (n *Nic) Submit(desc core.SendQueueDesc) error {
	frame, err := EncodeWriteFrame(desc, n.mac)
	if err != nil {
		return fmt.Errorf("device: encode: %w", err)
	}
	return n.handle.WritePacketData(frame)
}

// Receiver polls one Nic for inbound RoCEv2 frames, decodes each into a
// ReportMeta, and posts it to the engine — the software-only stand-in for
// polling a hardware meta-report ring (rust-driver/src/workers/meta_report).
type Receiver struct {
	nic    *Nic
	engine *core.Engine
	logger *log.Logger
}

func NewReceiver(nic *Nic, engine *core.Engine, logger *log.Logger) *Receiver {
	if logger == nil {
		logger = log.NewDiscard()
	}
	return &Receiver{nic: nic, engine: engine, logger: logger}
}

// Run polls until ctx is cancelled, decoding and posting every RoCEv2 frame
// captured on the bound interface. pcap.OpenLive's read timeout bounds how
// long ReadPacketData can block, so the ctx.Done() check below runs
// regularly even with no traffic.
func (r *Receiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		data, _, err := r.nic.handle.ReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			continue
		}
		if err != nil {
			r.logger.Debug("device receiver: nic %s: read: %s", r.nic.id, err)
			continue
		}
		meta, ok := DecodeFrame(data)
		if !ok {
			continue
		}
		r.engine.PostMeta(meta)
	}
}
