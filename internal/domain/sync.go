// Package domain implements the reconciliation engine that merges batches
// of offline client operations into the authoritative server state.
package domain

import (
	"context"
	"errors"
	"time"
)

// OpType enumerates the client operation types.
type OpType string

const (
	OpUpsertWorkout OpType = "UPSERT_WORKOUT"
	OpDeleteWorkout OpType = "DELETE_WORKOUT"
	OpUpsertSet     OpType = "UPSERT_SET"
	OpDeleteSet     OpType = "DELETE_SET"
)

// ErrUnknownOpType indicates an operation type outside the enum.
var ErrUnknownOpType = errors.New("unknown operation type")

// Valid reports whether the type is one of the four supported operations.
func (t OpType) Valid() bool {
	switch t {
	case OpUpsertWorkout, OpDeleteWorkout, OpUpsertSet, OpDeleteSet:
		return true
	}
	return false
}

// IsUpsert reports whether the operation carries a payload to apply.
func (t OpType) IsUpsert() bool {
	return t == OpUpsertWorkout || t == OpUpsertSet
}

// EntityKind returns the entity family the operation targets.
func (t OpType) EntityKind() Kind {
	switch t {
	case OpUpsertWorkout, OpDeleteWorkout:
		return KindWorkout
	default:
		return KindWorkoutSet
	}
}

// Operation is one unit of client intent. OpID is client-generated and
// unique per owner; it is the idempotency key for the operation.
type Operation struct {
	OpID     string
	Type     OpType
	EntityID string
	// Payload is present on upserts and nil on deletes.
	Payload UpsertPayload
	// ClientUpdatedAt is a client wall-clock hint. It is advisory only and
	// never used for conflict arbitration; the server version is the sole
	// arbitration signal.
	ClientUpdatedAt time.Time
}

// Conflict reports a lost-update: the client's declared base version was
// behind the stored version. Server holds the entity's current snapshot so
// the client can re-base and resubmit.
type Conflict struct {
	OpID   string
	Type   OpType
	Server Entity
}

// RejectedOp reports an operation that failed validation. It was neither
// applied nor recorded in the ledger, so the client may correct and retry.
type RejectedOp struct {
	OpID   string
	Type   OpType
	Reason error
}

// Result is the outcome of reconciling one batch.
type Result struct {
	// AppliedOpIDs is a set in insertion order: an op id appears at most
	// once even when the batch carries it twice.
	AppliedOpIDs []string
	Updated      []Entity
	Conflicts    []Conflict
	Rejected     []RejectedOp
	// ServerTime is captured once at batch start and stamped on every
	// mutation in the batch. Clients use it as their next sync watermark.
	ServerTime time.Time

	appliedSet map[string]struct{}
}

func (res *Result) recordApplied(opID string) {
	if res.appliedSet == nil {
		res.appliedSet = make(map[string]struct{})
	}
	if _, ok := res.appliedSet[opID]; ok {
		return
	}
	res.appliedSet[opID] = struct{}{}
	res.AppliedOpIDs = append(res.AppliedOpIDs, opID)
}

// EntityStore is the durable keyed storage the engine borrows for the
// duration of one transaction. Get returns (nil, nil) when the row does not
// exist; soft-deleted rows are returned with their tombstone intact.
type EntityStore interface {
	Get(ctx context.Context, kind Kind, ownerID, entityID string) (Entity, error)
	Insert(ctx context.Context, e Entity) error
	Update(ctx context.Context, e Entity) error
}

// ErrDuplicateOp is returned by OpLedger.RecordOp when the operation id was
// recorded by a concurrent push. The engine treats it as "already applied".
var ErrDuplicateOp = errors.New("operation id already recorded")

// OpLedger is the durable record of applied operation ids. Entries are
// written once and never updated or deleted.
type OpLedger interface {
	OpApplied(ctx context.Context, ownerID, opID string) (bool, error)
	// RecordOp returns ErrDuplicateOp when a concurrent push won the race
	// to record the same op id.
	RecordOp(ctx context.Context, ownerID, opID string, appliedAt time.Time) error
}

// Reconciler walks one owner's operation batch in order and applies it
// against the entity store and ledger. The caller must supply both from a
// single atomic transaction; the engine itself takes no locks and performs
// no I/O outside the two collaborators.
type Reconciler struct {
	store  EntityStore
	ledger OpLedger
	now    func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(store EntityStore, ledger OpLedger) *Reconciler {
	return &Reconciler{store: store, ledger: ledger, now: time.Now}
}

// Reconcile applies the batch. Operations are processed strictly in the
// order given; later operations observe the effects of earlier ones.
// Conflicts and validation rejections never abort the batch. Any storage
// error aborts the whole batch and is expected to roll back the enclosing
// transaction.
func (r *Reconciler) Reconcile(ctx context.Context, ownerID string, ops []Operation) (*Result, error) {
	serverTime := r.now().UTC().Truncate(time.Millisecond)
	res := &Result{ServerTime: serverTime}

	for _, op := range ops {
		done, err := r.ledger.OpApplied(ctx, ownerID, op.OpID)
		if err != nil {
			return nil, err
		}
		if done {
			// Replay of an already-applied operation is a pure no-op.
			res.recordApplied(op.OpID)
			continue
		}

		if !op.Type.Valid() {
			res.Rejected = append(res.Rejected, RejectedOp{OpID: op.OpID, Type: op.Type, Reason: ErrUnknownOpType})
			continue
		}

		if op.Type.IsUpsert() {
			err = r.applyUpsert(ctx, ownerID, op, serverTime, res)
		} else {
			err = r.applyDelete(ctx, ownerID, op, serverTime, res)
		}
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (r *Reconciler) applyUpsert(ctx context.Context, ownerID string, op Operation, serverTime time.Time, res *Result) error {
	if op.Payload == nil {
		res.Rejected = append(res.Rejected, RejectedOp{OpID: op.OpID, Type: op.Type, Reason: ErrMissingPayload})
		return nil
	}
	if op.Payload.Kind() != op.Type.EntityKind() {
		res.Rejected = append(res.Rejected, RejectedOp{OpID: op.OpID, Type: op.Type, Reason: ErrKindMismatch})
		return nil
	}

	existing, err := r.store.Get(ctx, op.Type.EntityKind(), ownerID, op.EntityID)
	if err != nil {
		return err
	}

	if existing == nil {
		if err := op.Payload.Validate(); err != nil {
			res.Rejected = append(res.Rejected, RejectedOp{OpID: op.OpID, Type: op.Type, Reason: err})
			return nil
		}
		e := op.Payload.Materialize()
		meta := e.Meta()
		meta.ID = op.EntityID
		meta.OwnerID = ownerID
		meta.Version = 1
		meta.UpdatedAt = serverTime
		meta.DeletedAt = nil
		if err := r.store.Insert(ctx, e); err != nil {
			return err
		}
		res.Updated = append(res.Updated, e)
		return r.markApplied(ctx, ownerID, op.OpID, serverTime, res)
	}

	meta := existing.Meta()
	if op.Payload.BaseVersion() < meta.Version {
		// Lost update: the client edited stale state. Hand back the
		// current snapshot and leave the op out of the ledger so a
		// corrected resubmission is not swallowed by the replay check.
		res.Conflicts = append(res.Conflicts, Conflict{OpID: op.OpID, Type: op.Type, Server: existing})
		return nil
	}

	// Client is current or ahead; ahead is accepted permissively.
	if err := op.Payload.ApplyTo(existing); err != nil {
		res.Rejected = append(res.Rejected, RejectedOp{OpID: op.OpID, Type: op.Type, Reason: err})
		return nil
	}
	meta.Version++
	meta.UpdatedAt = serverTime
	// An accepted upsert always revives a tombstoned row.
	meta.DeletedAt = nil
	if err := r.store.Update(ctx, existing); err != nil {
		return err
	}
	res.Updated = append(res.Updated, existing)
	return r.markApplied(ctx, ownerID, op.OpID, serverTime, res)
}

func (r *Reconciler) applyDelete(ctx context.Context, ownerID string, op Operation, serverTime time.Time, res *Result) error {
	existing, err := r.store.Get(ctx, op.Type.EntityKind(), ownerID, op.EntityID)
	if err != nil {
		return err
	}

	// Deleting something absent or already tombstoned is a successful
	// no-op; it is still ledgered so delete stays idempotent under retry.
	if existing == nil || existing.Meta().Deleted() {
		return r.markApplied(ctx, ownerID, op.OpID, serverTime, res)
	}

	meta := existing.Meta()
	tombstone := serverTime
	meta.Version++
	meta.UpdatedAt = serverTime
	meta.DeletedAt = &tombstone
	if err := r.store.Update(ctx, existing); err != nil {
		return err
	}
	res.Updated = append(res.Updated, existing)
	return r.markApplied(ctx, ownerID, op.OpID, serverTime, res)
}

func (r *Reconciler) markApplied(ctx context.Context, ownerID, opID string, appliedAt time.Time, res *Result) error {
	if err := r.ledger.RecordOp(ctx, ownerID, opID, appliedAt); err != nil {
		if errors.Is(err, ErrDuplicateOp) {
			// Two pushes raced past the existence check with the same
			// op id; the losing insert is treated as already applied.
			res.recordApplied(opID)
			return nil
		}
		return err
	}
	res.recordApplied(opID)
	return nil
}
