// Package checkout is the lesson checkout engine. A Session reconciles a
// booking draft, a live price quote, platform credits and referral discounts,
// then drives the payment flow from method selection to success or error.
package checkout

import "sync"

// Scheduler runs follow-up work outside the caller's event, such as the
// pricing refresh that follows a draft edit.
type Scheduler interface {
	Schedule(task func())
}

// GoScheduler runs each task on its own goroutine
type GoScheduler struct{}

func (GoScheduler) Schedule(task func()) {
	go task()
}

// ManualScheduler queues tasks until RunPending is called
type ManualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

// NewManualScheduler creates an empty queue
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (m *ManualScheduler) Schedule(task func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, task)
}

// Pending returns the number of queued tasks
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// RunPending runs queued tasks in order, including tasks they schedule,
// and returns how many ran.
func (m *ManualScheduler) RunPending() int {
	ran := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return ran
		}
		task := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		task()
		ran++
	}
}
