package service

import (
	"sync"

	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/pkg/metrics"
)

const defaultLedgerSize = 1000

// FailedLedger keeps the spots whose deltas could not all be written, so an
// operator can inspect and replay them. It is bounded: once full the oldest
// record is dropped. A record being replayed is claimed so no second replay
// can apply the same deltas.
type FailedLedger struct {
	mu       sync.Mutex
	max      int
	order    []string
	byID     map[string]model.FailedEvent
	inflight map[string]bool
}

// NewFailedLedger creates a ledger holding at most size records.
func NewFailedLedger(size int) *FailedLedger {
	if size <= 0 {
		size = defaultLedgerSize
	}
	return &FailedLedger{
		max:      size,
		byID:     make(map[string]model.FailedEvent),
		inflight: make(map[string]bool),
	}
}

// Record stores fe, replacing an earlier record for the same event.
func (l *FailedLedger) Record(fe model.FailedEvent) { //nolint:gocritic // hugeParam: stored by value
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[fe.EventID]; !ok {
		l.order = append(l.order, fe.EventID)
	}
	l.byID[fe.EventID] = fe

	for len(l.order) > l.max {
		delete(l.byID, l.order[0])
		l.order = l.order[1:]
	}
	metrics.UpdateFailedEvents(len(l.byID))
}

// Get returns the record for eventID.
func (l *FailedLedger) Get(eventID string) (model.FailedEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fe, ok := l.byID[eventID]
	return fe, ok
}

// Claim marks the record for eventID as being replayed and returns it. It
// fails with ErrFailedEventAbsent when there is no record and with
// ErrReplayInProgress when another caller holds the claim. Every successful
// Claim must be paired with Release.
func (l *FailedLedger) Claim(eventID string) (model.FailedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fe, ok := l.byID[eventID]
	if !ok {
		return model.FailedEvent{}, ErrFailedEventAbsent
	}
	if l.inflight[eventID] {
		return model.FailedEvent{}, ErrReplayInProgress
	}
	l.inflight[eventID] = true
	return fe, nil
}

// Release drops the claim on eventID.
func (l *FailedLedger) Release(eventID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, eventID)
}

// Remove drops the record for eventID.
func (l *FailedLedger) Remove(eventID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[eventID]; !ok {
		return
	}
	delete(l.byID, eventID)
	for i, id := range l.order {
		if id == eventID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	metrics.UpdateFailedEvents(len(l.byID))
}

// List returns all records, newest first.
func (l *FailedLedger) List() []model.FailedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.FailedEvent, 0, len(l.order))
	for i := len(l.order) - 1; i >= 0; i-- {
		out = append(out, l.byID[l.order[i]])
	}
	return out
}

// Len returns the number of records.
func (l *FailedLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}
