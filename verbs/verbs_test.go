/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package verbs

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blue-rdma/rdma-driver/config"
	"github.com/blue-rdma/rdma-driver/core"
)

func testConfig() *config.CfgType {
	var cfg config.CfgType
	cfg.Global.Card_Mac_Address = "02:00:00:00:00:01"
	cfg.Global.Card_Ip = "10.0.0.1"
	cfg.Global.Local_Ack_Timeout_Exp = 0
	cfg.Global.Init_Retry_Count = 3
	cfg.Global.Check_Duration_Exp = 1
	return &cfg
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	e, err := core.NewEngine(testConfig(), nil, nil)
	require.NoError(t, err)
	return Open(e)
}

func TestAllocPdAndDealloc(t *testing.T) {
	d := newTestDevice(t)
	pd, err := d.AllocPd()
	require.NoError(t, err)
	require.NoError(t, d.DeallocPd(pd))
	require.ErrorIs(t, d.DeallocPd(pd), core.ErrNotFound)
}

func TestCreateQPRequiresExistingCQs(t *testing.T) {
	d := newTestDevice(t)
	_, err := d.CreateQP(QpInitAttr{SendCQ: 0, RecvCQ: 0, QPType: core.QPTypeRC})
	require.Error(t, err)

	cq, err := d.CreateCQ(16)
	require.NoError(t, err)
	qpn, err := d.CreateQP(QpInitAttr{SendCQ: cq, RecvCQ: cq, QPType: core.QPTypeRC, PMTU: core.PMTU1024})
	require.NoError(t, err)
	require.NoError(t, d.UpdateQP(qpn, QpAttr{DestQPN: 42, State: core.QpStateRTS}))
	require.NoError(t, d.DestroyQP(qpn))
}

func TestRegMrAndDeregMr(t *testing.T) {
	d := newTestDevice(t)
	key, err := d.RegMr(0x1000, 4096, core.AccessLocalWrite)
	require.NoError(t, err)
	require.NoError(t, d.DeregMr(key))
	require.ErrorIs(t, d.DeregMr(key), core.ErrNotFound)
}

func TestPostSendProducesChunkOnScheduler(t *testing.T) {
	e, err := core.NewEngine(testConfig(), nil, nil)
	require.NoError(t, err)
	d := Open(e)

	cq, err := d.CreateCQ(16)
	require.NoError(t, err)
	qpn, err := d.CreateQP(QpInitAttr{SendCQ: cq, RecvCQ: cq, QPType: core.QPTypeRC, PMTU: core.PMTU1024})
	require.NoError(t, err)
	require.NoError(t, d.UpdateQP(qpn, QpAttr{DestQPN: 7}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Run(ctx)
	defer e.Stop()

	require.NoError(t, d.PostSend(qpn, core.WorkRequest{
		WrID: 1, LAddr: 0x2000, Length: 128, RAddr: 0x3000, RKey: 0x1,
		Opcode: core.OpRdmaWrite,
	}))

	select {
	case <-e.Scheduler.Chunks():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a chunk")
	}
}

func TestPostSendRejectsUnknownQP(t *testing.T) {
	d := newTestDevice(t)
	err := d.PostSend(12345, core.WorkRequest{})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestListenPostRecvAcceptsPeerSend(t *testing.T) {
	core.SetPostRecvBasePort(61100)
	d := newTestDevice(t)

	qpn := uint32(3)
	localIP := net.ParseIP("127.0.0.1")
	rx, err := d.ListenPostRecv(qpn, localIP)
	require.NoError(t, err)
	defer rx.Close()

	tx := core.NewPostRecvTx(localIP, qpn)
	defer tx.Close()
	require.NoError(t, tx.Send(core.PostRecvWr{WrID: 9, Addr: 0x5000, Length: 256, LKey: 0x1}))
}
