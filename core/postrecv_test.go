/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRecvWrMarshalRoundTrips(t *testing.T) {
	wr := PostRecvWr{WrID: 12345, Addr: 0x1000, Length: 1024, LKey: 0x5678}
	got := unmarshalPostRecvWr(wr.marshal())
	assert.Equal(t, wr, got)
}

func TestPostRecvPortIsBasePortPlusIndex(t *testing.T) {
	SetPostRecvBasePort(postRecvBasePort)
	assert.Equal(t, uint16(postRecvBasePort), postRecvPort(0))
	assert.Equal(t, uint16(postRecvBasePort+1), postRecvPort(1<<QPNKeyWidth))
	assert.Equal(t, uint16(postRecvBasePort+2), postRecvPort(2<<QPNKeyWidth))
}

func TestPostRecvTcpRoundTrip(t *testing.T) {
	qpn := uint32(10) << QPNKeyWidth
	rx, err := ListenPostRecv(net.ParseIP("127.0.0.1"), qpn)
	require.NoError(t, err)
	defer rx.Close()

	tx := NewPostRecvTx(net.ParseIP("127.0.0.1"), qpn)
	defer tx.Close()

	completionCh := make(chan CompletionTask, 1)
	worker := NewPostRecvWorker(qpn, rx, completionCh, nil)
	go worker.Run()

	wr := PostRecvWr{WrID: 777, Addr: 0x2000, Length: 4096, LKey: 0xAB}
	require.NoError(t, tx.Send(wr))

	select {
	case task := <-completionCh:
		assert.Equal(t, CompletionTaskRegister, task.Kind)
		assert.Equal(t, EventPostRecv, task.Event.Kind)
		assert.Equal(t, wr.WrID, task.Event.PostRecv.WrID)
		assert.Equal(t, qpn, task.Event.PostRecv.QPN)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the posted receive to be registered")
	}
}
