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
	"io"
	"net"

	"github.com/blue-rdma/rdma-driver/log"
)

// PostRecvWr is the wire form of one ibv_post_recv work request, sent from
// the responder's post-recv side channel to the initiator that owns the
// matching receive queue; grounded on
// rust-driver/src/net/recv_chan.rs::RecvWr and rdma_utils/types.rs::RecvWr.
type PostRecvWr struct {
	WrID   uint64
	Addr   uint64
	Length uint32
	LKey   uint32
}

const postRecvWrWireLen = 8 + 8 + 4 + 4

func (wr PostRecvWr) marshal() []byte {
	buf := make([]byte, postRecvWrWireLen)
	binary.BigEndian.PutUint64(buf[0:8], wr.WrID)
	binary.BigEndian.PutUint64(buf[8:16], wr.Addr)
	binary.BigEndian.PutUint32(buf[16:20], wr.Length)
	binary.BigEndian.PutUint32(buf[20:24], wr.LKey)
	return buf
}

func unmarshalPostRecvWr(buf []byte) PostRecvWr {
	return PostRecvWr{
		WrID:   binary.BigEndian.Uint64(buf[0:8]),
		Addr:   binary.BigEndian.Uint64(buf[8:16]),
		Length: binary.BigEndian.Uint32(buf[16:20]),
		LKey:   binary.BigEndian.Uint32(buf[20:24]),
	}
}

// postRecvBasePort is the first of a contiguous block of TCP ports, one per
// QP table slot, that the post-recv side channel binds to (BASE_PORT in
// rust-driver/src/net/recv_chan.rs). SetPostRecvBasePort lets the engine
// override it from the Post_Recv_Base_Port config value at startup.
const postRecvBasePort = 60000

var currentPostRecvBasePort uint16 = postRecvBasePort

func SetPostRecvBasePort(p uint16) { currentPostRecvBasePort = p }

func postRecvPort(qpn uint32) uint16 {
	return currentPostRecvBasePort + uint16(qpIndex(qpn))
}

// PostRecvTx sends posted receive work requests to the peer that owns the
// matching queue pair; the connection is opened lazily on first Send, as
// in TcpChannelTx::send.
type PostRecvTx struct {
	addr string
	dqpn uint32
	conn net.Conn
}

func NewPostRecvTx(peerIP net.IP, dqpn uint32) *PostRecvTx {
	return &PostRecvTx{addr: fmt.Sprintf("%s:%d", peerIP.String(), postRecvPort(dqpn)), dqpn: dqpn}
}

func (tx *PostRecvTx) Send(wr PostRecvWr) error {
	if tx.conn == nil {
		conn, err := net.Dial("tcp", tx.addr)
		if err != nil {
			return fmt.Errorf("post-recv tx: dial %s: %w", tx.addr, err)
		}
		tx.conn = conn
	}
	if _, err := tx.conn.Write(wr.marshal()); err != nil {
		tx.conn = nil
		return fmt.Errorf("post-recv tx: write: %w", err)
	}
	return nil
}

func (tx *PostRecvTx) Close() error {
	if tx.conn == nil {
		return nil
	}
	return tx.conn.Close()
}

// PostRecvRx listens for posted receive work requests destined for one
// local QP, accepting its single peer connection lazily on first Recv, as
// in TcpChannelRx::recv.
type PostRecvRx struct {
	listener net.Listener
	conn     net.Conn
}

func ListenPostRecv(localIP net.IP, qpn uint32) (*PostRecvRx, error) {
	addr := fmt.Sprintf("%s:%d", localIP.String(), postRecvPort(qpn))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("post-recv rx: listen %s: %w", addr, err)
	}
	return &PostRecvRx{listener: listener}, nil
}

func (rx *PostRecvRx) Recv() (PostRecvWr, error) {
	if rx.conn == nil {
		conn, err := rx.listener.Accept()
		if err != nil {
			return PostRecvWr{}, fmt.Errorf("post-recv rx: accept: %w", err)
		}
		rx.conn = conn
	}
	buf := make([]byte, postRecvWrWireLen)
	if _, err := io.ReadFull(rx.conn, buf); err != nil {
		rx.conn = nil
		return PostRecvWr{}, fmt.Errorf("post-recv rx: read: %w", err)
	}
	return unmarshalPostRecvWr(buf), nil
}

func (rx *PostRecvRx) Close() error {
	return rx.listener.Close()
}

// PostRecvWorker drains one PostRecvRx and registers every work request it
// receives into the completion path's per-QP receive-event tracker, as
// RecvWorker::run pushes onto the shared VecDeque.
type PostRecvWorker struct {
	qpn          uint32
	rx           *PostRecvRx
	completionTx chan<- CompletionTask
	logger       *log.Logger
}

func NewPostRecvWorker(qpn uint32, rx *PostRecvRx, completionTx chan<- CompletionTask, logger *log.Logger) *PostRecvWorker {
	if logger == nil {
		logger = log.NewDiscard()
	}
	return &PostRecvWorker{qpn: qpn, rx: rx, completionTx: completionTx, logger: logger}
}

// Run blocks, forwarding every posted receive WR until Recv fails (the
// peer connection closed or the listener was torn down).
func (w *PostRecvWorker) Run() {
	for {
		wr, err := w.rx.Recv()
		if err != nil {
			w.logger.Debug("post-recv worker qpn %d stopping: %s", w.qpn, err)
			return
		}
		event := Event{Kind: EventPostRecv, PostRecv: PostRecvEvent{QPN: w.qpn, WrID: wr.WrID}}
		w.completionTx <- CompletionTask{Kind: CompletionTaskRegister, QPN: w.qpn, Event: event}
	}
}
