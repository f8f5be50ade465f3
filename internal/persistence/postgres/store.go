// Package postgres provides pgx-backed persistence for the sync service.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fitlog/internal/domain"
	"example.com/fitlog/internal/events"
)

const uniqueViolation = "23505"

// Store provides Postgres-backed persistence for entities, the op ledger,
// users, and the outbox.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RunInTx executes fn inside one transaction. Entity reads within the
// transaction take row locks, so concurrent pushes touching the same row
// serialize here; any error from fn rolls back every effect of the batch.
func (s *Store) RunInTx(ctx context.Context, fn func(tx domain.TxAccess) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = fn(&Tx{tx: tx}); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// Tx implements the engine's EntityStore and OpLedger contracts against one
// open transaction, and records outbox events alongside entity writes.
type Tx struct {
	tx pgx.Tx
}

const workoutColumns = `id, user_id, type, started_at, notes, distance_m, duration_s, rpe, version, updated_at, deleted_at`

const setColumns = `id, user_id, workout_id, position, exercise_name, reps, weight_kg, distance_m, duration_s, notes, version, updated_at, deleted_at`

// Get loads the row for (owner, entity) with a row lock. It returns
// (nil, nil) when no row exists; tombstoned rows come back intact.
func (t *Tx) Get(ctx context.Context, kind domain.Kind, ownerID, entityID string) (domain.Entity, error) {
	switch kind {
	case domain.KindWorkout:
		query := fmt.Sprintf(`SELECT %s FROM workouts WHERE user_id=$1 AND id=$2 FOR UPDATE`, workoutColumns)
		w, err := scanWorkout(t.tx.QueryRow(ctx, query, ownerID, entityID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return w, nil
	case domain.KindWorkoutSet:
		query := fmt.Sprintf(`SELECT %s FROM workout_sets WHERE user_id=$1 AND id=$2 FOR UPDATE`, setColumns)
		set, err := scanSet(t.tx.QueryRow(ctx, query, ownerID, entityID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return set, nil
	default:
		return nil, fmt.Errorf("unknown entity kind: %s", kind)
	}
}

// Insert creates the row with the version already assigned by the engine.
func (t *Tx) Insert(ctx context.Context, e domain.Entity) error {
	switch v := e.(type) {
	case *domain.Workout:
		query := fmt.Sprintf(`INSERT INTO workouts (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, workoutColumns)
		if _, err := t.tx.Exec(ctx, query,
			v.ID, v.OwnerID, v.Type, v.StartedAt, v.Notes, v.DistanceM, v.DurationS, v.RPE,
			v.Version, v.UpdatedAt, v.DeletedAt,
		); err != nil {
			return err
		}
	case *domain.WorkoutSet:
		query := fmt.Sprintf(`INSERT INTO workout_sets (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, setColumns)
		if _, err := t.tx.Exec(ctx, query,
			v.ID, v.OwnerID, v.WorkoutID, v.Position, v.ExerciseName, v.Reps, v.WeightKg,
			v.DistanceM, v.DurationS, v.Notes, v.Version, v.UpdatedAt, v.DeletedAt,
		); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown entity kind: %s", e.Kind())
	}
	return t.insertOutbox(ctx, e)
}

// Update overwrites the row unconditionally; the engine has already
// performed the version check under the row lock taken by Get.
func (t *Tx) Update(ctx context.Context, e domain.Entity) error {
	switch v := e.(type) {
	case *domain.Workout:
		const query = `UPDATE workouts SET
            type=$3, started_at=$4, notes=$5, distance_m=$6, duration_s=$7, rpe=$8,
            version=$9, updated_at=$10, deleted_at=$11
            WHERE user_id=$1 AND id=$2`
		if _, err := t.tx.Exec(ctx, query,
			v.OwnerID, v.ID, v.Type, v.StartedAt, v.Notes, v.DistanceM, v.DurationS, v.RPE,
			v.Version, v.UpdatedAt, v.DeletedAt,
		); err != nil {
			return err
		}
	case *domain.WorkoutSet:
		const query = `UPDATE workout_sets SET
            workout_id=$3, position=$4, exercise_name=$5, reps=$6, weight_kg=$7,
            distance_m=$8, duration_s=$9, notes=$10, version=$11, updated_at=$12, deleted_at=$13
            WHERE user_id=$1 AND id=$2`
		if _, err := t.tx.Exec(ctx, query,
			v.OwnerID, v.ID, v.WorkoutID, v.Position, v.ExerciseName, v.Reps, v.WeightKg,
			v.DistanceM, v.DurationS, v.Notes, v.Version, v.UpdatedAt, v.DeletedAt,
		); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown entity kind: %s", e.Kind())
	}
	return t.insertOutbox(ctx, e)
}

// OpApplied reports whether the op id was already applied for this owner.
func (t *Tx) OpApplied(ctx context.Context, ownerID, opID string) (bool, error) {
	const query = `SELECT 1 FROM sync_ops WHERE user_id=$1 AND op_id=$2`
	var one int
	err := t.tx.QueryRow(ctx, query, ownerID, opID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordOp records the applied op. The insert is conflict-tolerant: a
// concurrent push that already recorded the op id leaves zero rows
// affected, which maps to domain.ErrDuplicateOp without putting the
// enclosing transaction into the aborted state a failed statement would.
func (t *Tx) RecordOp(ctx context.Context, ownerID, opID string, appliedAt time.Time) error {
	const query = `INSERT INTO sync_ops (op_id, user_id, applied_at) VALUES ($1,$2,$3)
        ON CONFLICT (op_id) DO NOTHING`
	tag, err := t.tx.Exec(ctx, query, opID, ownerID, appliedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateOp
	}
	return nil
}

func (t *Tx) insertOutbox(ctx context.Context, e domain.Entity) error {
	meta := e.Meta()
	payload, err := json.Marshal(events.EntityChanged{
		Kind:       string(e.Kind()),
		EntityID:   meta.ID,
		OwnerID:    meta.OwnerID,
		Version:    meta.Version,
		Deleted:    meta.Deleted(),
		OccurredAt: meta.UpdatedAt,
	})
	if err != nil {
		return err
	}

	dedupeKey := fmt.Sprintf("%s:%s:%d", e.Kind(), meta.ID, meta.Version)
	const stmt = `INSERT INTO outbox (owner_id, entity_kind, entity_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = t.tx.Exec(ctx, stmt,
		meta.OwnerID,
		string(e.Kind()),
		meta.ID,
		"sync.entity_changed",
		"sync_entity_events",
		meta.OwnerID,
		payload,
		dedupeKey,
	)
	return err
}

func scanWorkout(row pgx.Row) (*domain.Workout, error) {
	var w domain.Workout
	if err := row.Scan(
		&w.ID, &w.OwnerID, &w.Type, &w.StartedAt, &w.Notes, &w.DistanceM, &w.DurationS, &w.RPE,
		&w.Version, &w.UpdatedAt, &w.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanSet(row pgx.Row) (*domain.WorkoutSet, error) {
	var s domain.WorkoutSet
	if err := row.Scan(
		&s.ID, &s.OwnerID, &s.WorkoutID, &s.Position, &s.ExerciseName, &s.Reps, &s.WeightKg,
		&s.DistanceM, &s.DurationS, &s.Notes, &s.Version, &s.UpdatedAt, &s.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
