package domain

import (
	"context"
	"time"
)

// TxAccess bundles the per-transaction collaborators the engine borrows.
type TxAccess interface {
	EntityStore
	OpLedger
}

// Store captures the persistence operations the sync service needs. Push
// batches run inside RunInTx: the callback's effects commit together or not
// at all, and a returned error rolls everything back.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx TxAccess) error) error
	ChangedSince(ctx context.Context, ownerID string, since time.Time) ([]Entity, error)
	ListWorkouts(ctx context.Context, ownerID string, cursor *Cursor, limit int, includeDeleted bool) ([]*Workout, *Cursor, error)
}

// Cursor models the keyset pagination token for workout listings.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// SyncService orchestrates sync workflows over the store.
type SyncService struct {
	store Store
	now   func() time.Time
}

// NewSyncService constructs a SyncService.
func NewSyncService(store Store) *SyncService {
	return &SyncService{store: store, now: time.Now}
}

// Push reconciles one batch of client operations inside a single
// transaction. A storage failure anywhere in the batch rolls back every
// effect; partial application is never observable.
func (s *SyncService) Push(ctx context.Context, ownerID string, ops []Operation) (*Result, error) {
	var res *Result
	err := s.store.RunInTx(ctx, func(tx TxAccess) error {
		var err error
		res, err = NewReconciler(tx, tx).Reconcile(ctx, ownerID, ops)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Pull returns every entity mutated after the given watermark, tombstones
// included, plus the server time the client should store as its next
// watermark.
func (s *SyncService) Pull(ctx context.Context, ownerID string, since time.Time) ([]Entity, time.Time, error) {
	serverTime := s.now().UTC().Truncate(time.Millisecond)
	entities, err := s.store.ChangedSince(ctx, ownerID, since)
	if err != nil {
		return nil, time.Time{}, err
	}
	return entities, serverTime, nil
}

// ListWorkouts fetches workouts with cursor pagination.
func (s *SyncService) ListWorkouts(ctx context.Context, ownerID string, cursor *Cursor, limit int, includeDeleted bool) ([]*Workout, *Cursor, error) {
	return s.store.ListWorkouts(ctx, ownerID, cursor, limit, includeDeleted)
}
