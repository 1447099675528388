/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads the driver's external configuration: the transport
// timer parameters and network identity the core engine needs to construct
// its timers and ACK responder. It follows a gcfg-based config pattern
// (root-level CfgType with a Global section, parsed with
// gopkg.in/gcfg.v1 and validated by a verify method) rather than a
// hand-rolled flag/env parser.
package config

import (
	"errors"
	"net"
	"os"

	"gopkg.in/gcfg.v1"
)

const maxConfigSize int64 = 1024 * 1024 // 1MB is already generous for an ini file

var (
	ErrConfigTooLarge    = errors.New("config file far too large")
	ErrMissingCardMac    = errors.New("missing Card_Mac_Address")
	ErrMissingCardIP     = errors.New("missing Card_Ip")
	ErrInvalidCardMac    = errors.New("invalid Card_Mac_Address")
	ErrInvalidCardIP     = errors.New("invalid Card_Ip")
	ErrInvalidRetryCount = errors.New("Init_Retry_Count must be >= 0")
)

// CfgType is the external config collaborator of spec.md §6: the core
// accepts {check_duration_exp, local_ack_timeout_exp, init_retry_count} and
// uses them only to construct transport timers, plus the network identity
// needed to address outgoing ACK/NAK frames and the post-receive side
// channel.
type CfgType struct {
	Global struct {
		// 4.096us * 2^CheckDurationExp between timeout-worker maintenance passes.
		Check_Duration_Exp uint8
		// 4.096us * 2^LocalAckTimeoutExp per-QP ACK timeout; 0 disables the timer.
		Local_Ack_Timeout_Exp uint8
		// Number of retransmit-all rounds before a QP is declared TimeoutFatal.
		Init_Retry_Count uint

		Card_Mac_Address string
		Card_Ip          string

		// Post_Recv_Base_Port is the port offset added to a QP's table index
		// when opening the out-of-band receive-WR channel (spec.md §4.12).
		Post_Recv_Base_Port uint16

		Log_Level string
		Log_File  string
	}
}

// DefaultPostRecvBasePort matches the 60000 + qp_index convention of
// spec.md §4.12.
const DefaultPostRecvBasePort uint16 = 60000

// GetConfig reads and validates the ini-style config file at path.
func GetConfig(path string) (*CfgType, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigTooLarge
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c CfgType
	c.Global.Post_Recv_Base_Port = DefaultPostRecvBasePort
	if err := gcfg.ReadStringInto(&c, string(content)); err != nil {
		return nil, err
	}
	if err := c.verify(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *CfgType) verify() error {
	if c.Global.Card_Mac_Address == "" {
		return ErrMissingCardMac
	}
	if _, err := net.ParseMAC(c.Global.Card_Mac_Address); err != nil {
		return ErrInvalidCardMac
	}
	if c.Global.Card_Ip == "" {
		return ErrMissingCardIP
	}
	if ip := net.ParseIP(c.Global.Card_Ip); ip == nil || ip.To4() == nil {
		return ErrInvalidCardIP
	}
	if c.Global.Post_Recv_Base_Port == 0 {
		c.Global.Post_Recv_Base_Port = DefaultPostRecvBasePort
	}
	return nil
}
