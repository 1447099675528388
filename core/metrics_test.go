/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector, labels ...string) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 8)
	c.Collect(ch)
	close(ch)
	var m dto.Metric
	for metric := range ch {
		require.NoError(t, metric.Write(&m))
	}
	return m.GetCounter().GetValue()
}

func TestMetricsCompletionsPostedIncrementsOnPush(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	cqTable := NewCqManager()
	cqTable.SetMetrics(metrics)
	handle, err := cqTable.CreateCQ(0)
	require.NoError(t, err)
	cq, ok := cqTable.Get(handle)
	require.True(t, ok)

	cq.Push(Completion{Opcode: CompletionSend, WrID: 1})

	collected := metrics.CompletionsPosted.WithLabelValues("0", "0")
	require.Equal(t, 1.0, counterValue(t, collected))
}

func TestMetricsAckTimeoutsIncrementsOnTimeout(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	retransmitCh := make(chan PacketRetransmitTask, 1)
	w := NewQpAckTimeoutWorker(retransmitCh, AckTimeoutConfig{LocalAckTimeoutExp: 1, InitRetryCount: 1}, nil)
	w.SetMetrics(metrics)

	qpn := uint32(5) << QPNKeyWidth
	w.Process(AckTimeoutTask{Kind: AckTimeoutNewAckReq, QPN: qpn})
	w.timerFor(qpn).lastStart = w.timerFor(qpn).lastStart.Add(-time.Hour)
	w.Maintain()

	require.Equal(t, 1.0, counterValue(t, metrics.AckTimeouts.WithLabelValues(fmt.Sprintf("%d", qpn))))
}
