/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package core

import "errors"

// Error taxonomy at the core boundary, spec.md §7. Admin-plane calls return
// these synchronously; datapath workers log-and-drop everything except
// ErrTimeoutFatal, which is turned into a QP-scoped completion instead
// (see QpAckTimeoutWorker and CompletionWorker.PushFatal).
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrWouldBlock        = errors.New("would block")
	ErrQpError           = errors.New("qp error")
	ErrMemoryError       = errors.New("memory error")
	ErrTimeoutFatal      = errors.New("retry limit exceeded")
)
