/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
[global]
Check-Duration-Exp = 5
Local-Ack-Timeout-Exp = 10
Init-Retry-Count = 3
Card-Mac-Address = 00:11:22:33:44:55
Card-Ip = 192.168.1.10
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "driver.conf")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestGetConfig(t *testing.T) {
	p := writeTemp(t, sample)
	c, err := GetConfig(p)
	require.NoError(t, err)
	require.EqualValues(t, 5, c.Global.Check_Duration_Exp)
	require.EqualValues(t, 10, c.Global.Local_Ack_Timeout_Exp)
	require.EqualValues(t, 3, c.Global.Init_Retry_Count)
	require.Equal(t, DefaultPostRecvBasePort, c.Global.Post_Recv_Base_Port)
}

func TestGetConfigMissingMac(t *testing.T) {
	p := writeTemp(t, `
[global]
Card-Ip = 192.168.1.10
`)
	_, err := GetConfig(p)
	require.ErrorIs(t, err, ErrMissingCardMac)
}

func TestGetConfigInvalidIP(t *testing.T) {
	p := writeTemp(t, `
[global]
Card-Mac-Address = 00:11:22:33:44:55
Card-Ip = not-an-ip
`)
	_, err := GetConfig(p)
	require.ErrorIs(t, err, ErrInvalidCardIP)
}
