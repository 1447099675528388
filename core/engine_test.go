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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/blue-rdma/rdma-driver/config"
	"github.com/blue-rdma/rdma-driver/psn"
)

func testEngineConfig() *config.CfgType {
	var cfg config.CfgType
	cfg.Global.Card_Mac_Address = "02:00:00:00:00:01"
	cfg.Global.Card_Ip = "10.0.0.1"
	cfg.Global.Local_Ack_Timeout_Exp = 1
	cfg.Global.Init_Retry_Count = 3
	cfg.Global.Check_Duration_Exp = 1
	cfg.Global.Post_Recv_Base_Port = 60100
	return &cfg
}

func TestNewEngineRejectsBadMac(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Global.Card_Mac_Address = "not-a-mac"
	_, err := NewEngine(cfg, nil, nil)
	require.Error(t, err)
}

func TestEnginePostWriteProducesChunks(t *testing.T) {
	cfg := testEngineConfig()
	e, err := NewEngine(cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)

	qpn, err := e.QpManager.CreateQP()
	require.NoError(t, err)
	e.QpTable.Create(qpn, QpAttr{QPN: qpn, DQPN: 99, PMTU: PMTU1024})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Run(ctx)
	defer e.Stop()

	e.PostWrite(qpn, WorkRequest{WrID: 1, LAddr: 0x1000, Length: 256, RAddr: 0x2000, RKey: 0x1})

	select {
	case chunk := <-e.Scheduler.chunks:
		require.Equal(t, OpRdmaWrite, chunk.Opcode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a chunk from the scheduler")
	}
}

func TestEnginePostMetaWithNoPostedRecvSendsNoAckResponse(t *testing.T) {
	cfg := testEngineConfig()
	e, err := NewEngine(cfg, nil, nil)
	require.NoError(t, err)

	qpn, err := e.QpManager.CreateQP()
	require.NoError(t, err)
	e.QpTable.Create(qpn, QpAttr{QPN: qpn, DQPN: 99, IP: 0x0A000001, DQPIP: 0x0A000002, PMTU: PMTU1024})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Run(ctx)
	defer e.Stop()

	e.PostMeta(ReportMeta{Kind: ReportAckLocalHw, AckLocalHw: AckMetaLocalHw{
		QPN: qpn, PsnNow: psn.New(10), NowBitmap: FullBitmap128,
	}})

	select {
	case task := <-e.ackRespTx:
		t.Fatalf("unexpected ack response task with no posted receive: %+v", task)
	case <-time.After(50 * time.Millisecond):
	}
}
