/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blue-rdma/rdma-driver/core"
	"github.com/blue-rdma/rdma-driver/psn"
)

func TestEncodeDecodeWriteFrameRoundTrips(t *testing.T) {
	mac, err := net.ParseMAC("02:00:00:00:00:01")
	require.NoError(t, err)

	desc := core.SendQueueDesc{
		Pos: core.PosOnly, Psn: 100, Msn: 5, DQPN: 42, DQPIP: 0x0A000002,
		MacAddr: macToU64(mac), RAddr: 0x4000, RKey: 0x77, Imm: 0,
	}
	frame, err := EncodeWriteFrame(desc, mac)
	require.NoError(t, err)

	meta, ok := DecodeFrame(frame)
	require.True(t, ok)
	require.Equal(t, core.ReportHeaderWrite, meta.Kind)
	require.Equal(t, psn.New(100), meta.HeaderWrite.Psn)
	require.Equal(t, psn.MSN(5), meta.HeaderWrite.Msn)
	require.Equal(t, uint32(42), meta.HeaderWrite.DQPN)
	require.Equal(t, uint64(0x4000), meta.HeaderWrite.RAddr)
	require.Equal(t, uint32(0x77), meta.HeaderWrite.RKey)
	require.Equal(t, core.PosOnly, meta.HeaderWrite.Pos)
}

func TestDecodeFrameRejectsNonRoceTraffic(t *testing.T) {
	_, ok := DecodeFrame([]byte{0, 1, 2, 3})
	require.False(t, ok)
}

func macToU64(mac net.HardwareAddr) uint64 {
	var v uint64
	for _, b := range mac {
		v = v<<8 | uint64(b)
	}
	return v
}
