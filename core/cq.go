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
	"sync"
)

// CompletionQueue is a mutex-guarded FIFO of Completion entries, polled by
// the verbs facade's poll_cq and written to by the CompletionWorker, the
// single writer into every CQ (spec.md §4.11, §6).
type CompletionQueue struct {
	mu      sync.Mutex
	entries []Completion
	cap     int
	handle  uint32
	metrics *Metrics
}

func newCompletionQueue(capacity int) *CompletionQueue {
	return &CompletionQueue{cap: capacity}
}

// Push appends a completion, dropping the oldest entry if the queue is at
// capacity (a CQ overrun is a driver bug in the caller, not something the
// datapath can block on).
func (q *CompletionQueue) Push(c Completion) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cap > 0 && len(q.entries) >= q.cap {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, c)
	if q.metrics != nil {
		q.metrics.CompletionsPosted.WithLabelValues(fmt.Sprintf("%d", q.handle), fmt.Sprintf("%d", c.Opcode)).Inc()
	}
}

// Poll drains up to max completions in FIFO order.
func (q *CompletionQueue) Poll(max int) []Completion {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > len(q.entries) {
		max = len(q.entries)
	}
	out := make([]Completion, max)
	copy(out, q.entries[:max])
	q.entries = q.entries[max:]
	return out
}

func (q *CompletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// CqManager allocates CQ handles and owns every live CompletionQueue.
type CqManager struct {
	mu      sync.Mutex
	bitmap  []bool
	queues  []*CompletionQueue
	metrics *Metrics
}

func NewCqManager() *CqManager {
	return &CqManager{bitmap: make([]bool, MaxCQCount), queues: make([]*CompletionQueue, MaxCQCount)}
}

// SetMetrics wires m into every CQ created after this call; call once at
// startup before any CreateCQ so every completion gets counted.
func (m *CqManager) SetMetrics(metrics *Metrics) { m.metrics = metrics }

// CreateCQ allocates a CQ handle with the requested entry capacity (0
// means unbounded).
func (m *CqManager) CreateCQ(capacity int) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, used := range m.bitmap {
		if !used {
			m.bitmap[i] = true
			cq := newCompletionQueue(capacity)
			cq.handle = uint32(i)
			cq.metrics = m.metrics
			m.queues[i] = cq
			return uint32(i), nil
		}
	}
	return 0, ErrResourceExhausted
}

func (m *CqManager) DestroyCQ(handle uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(handle) >= len(m.bitmap) || !m.bitmap[handle] {
		return ErrNotFound
	}
	m.bitmap[handle] = false
	m.queues[handle] = nil
	return nil
}

func (m *CqManager) Get(handle uint32) (*CompletionQueue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(handle) >= len(m.bitmap) || !m.bitmap[handle] {
		return nil, false
	}
	return m.queues[handle], true
}
