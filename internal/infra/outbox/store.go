package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"rentme-inbox/internal/infra/broker/kafka"
)

const (
	stateNew     = "NEW"
	stateClaimed = "CLAIMED"
	stateSent    = "SENT"
	stateFailed  = "FAILED"
)

// Record is one chat event waiting to reach the broker.
type Record struct {
	ID          string
	Event       kafka.ChatEvent
	State       string
	Attempts    int
	NextAttempt time.Time
	ClaimedBy   string
	SentAt      time.Time
	LastError   string
}

// Store keeps chat events between the request that produced them and the worker that
// relays them, so a slow or unavailable broker never blocks a send.
type Store struct {
	now func() time.Time

	mu      sync.Mutex
	records []*Record
	// Sent records beyond this many are forgotten.
	keepSent int
}

func NewStore() *Store {
	return &Store{now: func() time.Time { return time.Now().UTC() }, keepSent: 1000}
}

// Publish enqueues ev. It satisfies the publisher the chat handlers write to.
func (s *Store) Publish(_ context.Context, ev kafka.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, &Record{
		ID:          uuid.NewString(),
		Event:       ev,
		State:       stateNew,
		NextAttempt: s.now(),
	})
	return nil
}

// Claim hands the oldest due record to workerID, or nil when nothing is due.
func (s *Store) Claim(_ context.Context, workerID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, r := range s.records {
		if (r.State == stateNew || r.State == stateFailed) && !r.NextAttempt.After(now) {
			r.State = stateClaimed
			r.ClaimedBy = workerID
			claimed := *r
			return &claimed, nil
		}
	}
	return nil, nil
}

func (s *Store) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.findLocked(id); r != nil {
		r.State = stateSent
		r.SentAt = s.now()
	}
	s.compactLocked()
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id string, next time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.findLocked(id); r != nil {
		r.State = stateFailed
		r.NextAttempt = next
		r.LastError = errMsg
		r.Attempts++
	}
	return nil
}

// Pending counts records not yet delivered.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.State != stateSent {
			n++
		}
	}
	return n
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.findLocked(id); r != nil {
		return *r, true
	}
	return Record{}, false
}

func (s *Store) findLocked(id string) *Record {
	for _, r := range s.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Store) compactLocked() {
	sent := 0
	for _, r := range s.records {
		if r.State == stateSent {
			sent++
		}
	}
	if sent <= s.keepSent {
		return
	}
	drop := sent - s.keepSent
	kept := s.records[:0]
	for _, r := range s.records {
		if r.State == stateSent && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
}
