/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of counters and gauges the transport engine updates as
// it runs; exposed over /metrics by cmd/rdma-driverd the way
// exporter_example2 registers its TCP info collector and serves
// promhttp.Handler().
type Metrics struct {
	ChunksSent           *prometheus.CounterVec
	AcksSent             *prometheus.CounterVec
	NaksSent             *prometheus.CounterVec
	PacketsRetransmitted *prometheus.CounterVec
	AckTimeouts          *prometheus.CounterVec
	CompletionsPosted    *prometheus.CounterVec
	SendQueueDepth       *prometheus.GaugeVec
	OutstandingAckReqs   *prometheus.GaugeVec
}

// NewMetrics registers every metric against reg and returns the bundle;
// pass prometheus.NewRegistry() in tests to avoid colliding with the
// global default registry across parallel test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChunksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdma_driver", Name: "chunks_sent_total",
			Help: "WR chunks handed to the send worker pool, by opcode.",
		}, []string{"opcode"}),
		AcksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdma_driver", Name: "acks_sent_total",
			Help: "ACK frames transmitted by the ACK responder, by qpn.",
		}, []string{"qpn"}),
		NaksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdma_driver", Name: "naks_sent_total",
			Help: "NAK frames transmitted by the ACK responder, by qpn.",
		}, []string{"qpn"}),
		PacketsRetransmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdma_driver", Name: "packets_retransmitted_total",
			Help: "Packets replayed by the packet-retransmit worker, by qpn.",
		}, []string{"qpn"}),
		AckTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdma_driver", Name: "ack_timeouts_total",
			Help: "Ack-timeout expirations observed, by qpn.",
		}, []string{"qpn"}),
		CompletionsPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdma_driver", Name: "completions_posted_total",
			Help: "Completions pushed into a CQ, by cq id and opcode.",
		}, []string{"cq", "opcode"}),
		SendQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rdma_driver", Name: "send_queue_depth",
			Help: "Work requests buffered in a QP's retransmit send queue.",
		}, []string{"qpn"}),
		OutstandingAckReqs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rdma_driver", Name: "outstanding_ack_requests",
			Help: "Ack-requested sends awaiting acknowledgement, by qpn.",
		}, []string{"qpn"}),
	}
}
