// Package store holds the in-memory lifecycle table for tracked intentions.
// It is the single source of mutable truth; every read-modify-write runs
// under the store lock, which is never held across a gateway call.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tathienbao/trailbot/internal/types"
)

// Store is a mutex-guarded table of dedupe key -> intention record.
// A single global lock is sufficient at protective-order submission rates.
type Store struct {
	mu      sync.Mutex
	records map[string]*types.IntentionRecord
	byOrder map[int64]string // order id -> dedupe key

	logger *slog.Logger
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records: make(map[string]*types.IntentionRecord),
		byOrder: make(map[int64]string),
		logger:  logger,
	}
}

// GetOrCreate returns a copy of the record for the intention's dedupe key,
// creating a Pending record when the key is novel. The second return is
// true when the record was created by this call.
func (s *Store) GetOrCreate(ti types.TradeIntention) (types.IntentionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[ti.DedupeKey]; ok {
		return copyRecord(rec), false
	}

	rec := &types.IntentionRecord{
		ID:        uuid.NewString(),
		Intention: ti,
		State:     types.StatePending,
		UpdatedAt: time.Now(),
	}
	s.records[ti.DedupeKey] = rec

	s.logger.Debug("intention tracked",
		"dedupe_key", ti.DedupeKey,
		"symbol", ti.Symbol,
		"qty", ti.SignedQty,
	)

	return copyRecord(rec), true
}

// Get returns a copy of the record for a dedupe key.
func (s *Store) Get(key string) (types.IntentionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return types.IntentionRecord{}, false
	}
	return copyRecord(rec), true
}

// Transition moves a record from an expected state to a new one. It fails
// with *types.ConflictError when the record is not in the expected state,
// which is what makes trigger-fire and submission idempotent across cycles.
func (s *Store) Transition(key string, from, to types.IntentionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return &types.ConflictError{DedupeKey: key, Expected: from}
	}
	if rec.State != from {
		return &types.ConflictError{DedupeKey: key, Expected: from, Actual: rec.State}
	}

	rec.State = to
	rec.UpdatedAt = time.Now()
	return nil
}

// TransitionIf runs check under the lock and applies the transition only
// when check approves the current record. Used by the orchestrator to
// evaluate a trigger and latch the fire atomically.
func (s *Store) TransitionIf(key string, from, to types.IntentionState, check func(types.IntentionRecord) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return false, &types.ConflictError{DedupeKey: key, Expected: from}
	}
	if rec.State != from {
		return false, &types.ConflictError{DedupeKey: key, Expected: from, Actual: rec.State}
	}
	if check != nil && !check(copyRecord(rec)) {
		return false, nil
	}

	rec.State = to
	rec.UpdatedAt = time.Now()
	return true, nil
}

// AttachOrders records the submitted order ids and group id and indexes
// them for reconciliation lookups.
func (s *Store) AttachOrders(key, groupID string, orderIDs ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return &types.ConflictError{DedupeKey: key}
	}

	rec.GroupID = groupID
	rec.OrderIDs = append(rec.OrderIDs[:0], orderIDs...)
	rec.UpdatedAt = time.Now()

	for _, id := range orderIDs {
		s.byOrder[id] = key
	}
	return nil
}

// AdoptSubmitted moves a Pending record straight to Submitted with the
// given resting orders. The startup reconciliation pass uses this when the
// broker still holds a pair placed by a previous run.
func (s *Store) AdoptSubmitted(key, groupID string, orderIDs ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return &types.ConflictError{DedupeKey: key, Expected: types.StatePending}
	}
	if rec.State != types.StatePending {
		return &types.ConflictError{DedupeKey: key, Expected: types.StatePending, Actual: rec.State}
	}

	rec.State = types.StateSubmitted
	rec.GroupID = groupID
	rec.OrderIDs = append(rec.OrderIDs[:0], orderIDs...)
	rec.UpdatedAt = time.Now()

	for _, id := range orderIDs {
		s.byOrder[id] = key
	}
	return nil
}

// SetError marks a record with its last error and state, typically Failed.
func (s *Store) SetError(key string, state types.IntentionState, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return
	}
	rec.State = state
	rec.LastError = errMsg
	rec.UpdatedAt = time.Now()
}

// FindByOrderID resolves an asynchronous gateway event to the owning
// record. Returns false for order ids outside this engine's tracking.
func (s *Store) FindByOrderID(orderID int64) (types.IntentionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byOrder[orderID]
	if !ok {
		return types.IntentionRecord{}, false
	}
	rec, ok := s.records[key]
	if !ok {
		return types.IntentionRecord{}, false
	}
	return copyRecord(rec), true
}

// Reset removes a record, re-deriving Pending from the feed on the next
// cycle. Operator-only escape hatch.
func (s *Store) Reset(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return false
	}
	for _, id := range rec.OrderIDs {
		delete(s.byOrder, id)
	}
	delete(s.records, key)
	return true
}

// Snapshot returns copies of all records, for health/status reporting.
func (s *Store) Snapshot() []types.IntentionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.IntentionRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, copyRecord(rec))
	}
	return out
}

// CountInState returns how many records are in the given state.
func (s *Store) CountInState(state types.IntentionState) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if rec.State == state {
			n++
		}
	}
	return n
}

func copyRecord(rec *types.IntentionRecord) types.IntentionRecord {
	out := *rec
	out.OrderIDs = append([]int64(nil), rec.OrderIDs...)
	return out
}
