// Package repository keeps the results of finished sessions after the
// registry has let go of them
package repository

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
)

// ErrResultNotFound is returned when no finished session is stored under an id
var ErrResultNotFound = errors.New("result not found")

// DefaultCapacity bounds how many results are kept
const DefaultCapacity = 10000

// InMemoryResults is an in-memory, bounded store of finished session snapshots.
// The oldest result is evicted first once the store is full.
type InMemoryResults struct {
	mu       sync.RWMutex
	results  map[string]game.Snapshot
	order    []string
	capacity int
	logger   *zap.Logger
}

// NewInMemoryResults creates a results store. A capacity below one uses DefaultCapacity.
func NewInMemoryResults(capacity int, logger *zap.Logger) *InMemoryResults {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryResults{
		results:  make(map[string]game.Snapshot),
		capacity: capacity,
		logger:   logger,
	}
}

// Attach stores every session the publisher reports as finished
func (r *InMemoryResults) Attach(publisher *events.Publisher) {
	publisher.Subscribe(events.EventSessionFinished, func(ev events.Event) {
		snap, ok := ev.Payload.(game.Snapshot)
		if !ok {
			r.logger.Warn("unexpected finished payload", zap.String("session_id", ev.SessionID))
			return
		}
		r.Save(snap)
	})
}

// Save stores a finished session. Snapshots of unfinished sessions are ignored.
func (r *InMemoryResults) Save(snap game.Snapshot) {
	if snap.Status != game.StatusFinished {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.results[snap.ID]; !exists {
		r.order = append(r.order, snap.ID)
	}
	r.results[snap.ID] = snap

	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.results, oldest)
	}

	r.logger.Debug("result stored",
		zap.String("session_id", snap.ID),
		zap.String("winner", string(snap.Winner)),
		zap.String("reason", string(snap.Reason)),
	)
}

// Get retrieves a finished session by id
func (r *InMemoryResults) Get(id string) (game.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.results[id]
	if !ok {
		return game.Snapshot{}, ErrResultNotFound
	}

	return snap, nil
}

// Len returns the number of stored results
func (r *InMemoryResults) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.results)
}
