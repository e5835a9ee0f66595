package queue

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	intentID  string
	attempt   int
	visibleAt time.Time
	reserved  bool
	deadline  time.Time
	cancelled bool
}

// Memory is an in-memory Queue used by tests; cmd/relay wires the Redis
// queue.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry // keyed by intentID; at most one live job per intent
	policy    RetryPolicy
	visibility time.Duration
	now       func() time.Time
}

// NewMemory constructs a Memory queue. visibility is the reservation
// timeout; policy governs Nack backoff.
func NewMemory(visibility time.Duration, policy RetryPolicy) *Memory {
	return &Memory{
		entries:    make(map[string]*memoryEntry),
		policy:     policy,
		visibility: visibility,
		now:        time.Now,
	}
}

func (m *Memory) Enqueue(_ context.Context, intentID string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, exists := m.entries[intentID]; exists && !e.cancelled {
		return nil // at-most-once: an already-queued job is left alone
	}
	m.entries[intentID] = &memoryEntry{
		intentID:  intentID,
		visibleAt: m.now().Add(delay),
	}
	return nil
}

func (m *Memory) Reserve(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, e := range m.entries {
		if e.cancelled {
			continue
		}
		if e.reserved && now.Before(e.deadline) {
			continue // held by another worker
		}
		if !e.reserved && now.Before(e.visibleAt) {
			continue // not yet due
		}
		// Either never reserved and due, or its visibility timeout lapsed:
		// reclaim it.
		e.reserved = true
		e.deadline = now.Add(m.visibility)
		return &Job{IntentID: e.intentID, Attempt: e.attempt, ReservedAt: now, VisibleAt: e.deadline}, nil
	}
	return nil, nil
}

func (m *Memory) Ack(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, job.IntentID)
	return nil
}

func (m *Memory) Nack(_ context.Context, job Job, permanent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[job.IntentID]
	if !ok {
		return nil
	}
	e.attempt = job.Attempt + 1
	if permanent || m.policy.Exhausted(e.attempt) {
		delete(m.entries, job.IntentID) // dead letter: drop from the live set
		return nil
	}
	e.reserved = false
	e.visibleAt = m.now().Add(m.policy.NextDelay(e.attempt))
	return nil
}

func (m *Memory) Cancel(_ context.Context, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[intentID]
	if !ok || e.reserved {
		return nil
	}
	e.cancelled = true
	delete(m.entries, intentID)
	return nil
}
