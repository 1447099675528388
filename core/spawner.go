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
	"time"
)

// TaskWorker is the single-threaded task-over-channel shape every worker in
// this package follows: process one task at a time, with an occasional
// maintenance tick for workers that poll their own state (e.g.
// QpAckTimeoutWorker's timer sweep), grounded on
// rust-driver/src/workers/{rdma,retransmit,qp_timeout}.rs's
// SingleThreadTaskWorker trait. Workers with nothing to do on a tick embed
// NoMaintenance instead of writing an empty method.
type TaskWorker[T any] interface {
	Process(task T)
	Maintain()
}

// NoMaintenance satisfies the Maintain half of TaskWorker for workers that
// only react to tasks, mirroring the no-op `fn maintainance(&mut self) {}`
// impls in rust-driver/src/workers/{rdma,retransmit}.rs.
type NoMaintenance struct{}

func (NoMaintenance) Maintain() {}

// Spawn runs w on its own goroutine: every task sent on tasks is handed to
// Process in arrival order, and Maintain is called once per tick until ctx
// is cancelled or tasks is closed. A zero tick disables the maintenance
// call entirely (the worker only ever reacts to tasks).
func Spawn[T any](ctx context.Context, w TaskWorker[T], tasks <-chan T, tick time.Duration) {
	go func() {
		if tick <= 0 {
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-tasks:
					if !ok {
						return
					}
					w.Process(task)
				}
			}
		}

		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Maintain()
			case task, ok := <-tasks:
				if !ok {
					return
				}
				w.Process(task)
			}
		}
	}()
}
