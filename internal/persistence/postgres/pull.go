package postgres

import (
	"context"
	"fmt"
	"time"

	"example.com/fitlog/internal/domain"
)

// ChangedSince returns every entity mutated after the watermark for the
// owner, tombstones included, ordered by update time so clients can apply
// rows in a stable order. Workouts come before sets so parents arrive
// before their children.
func (s *Store) ChangedSince(ctx context.Context, ownerID string, since time.Time) ([]domain.Entity, error) {
	workouts, err := s.changedWorkouts(ctx, ownerID, since)
	if err != nil {
		return nil, err
	}
	sets, err := s.changedSets(ctx, ownerID, since)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Entity, 0, len(workouts)+len(sets))
	for _, w := range workouts {
		out = append(out, w)
	}
	for _, set := range sets {
		out = append(out, set)
	}
	return out, nil
}

func (s *Store) changedWorkouts(ctx context.Context, ownerID string, since time.Time) ([]*domain.Workout, error) {
	query := fmt.Sprintf(`SELECT %s FROM workouts WHERE user_id=$1 AND updated_at > $2 ORDER BY updated_at, id`, workoutColumns)
	rows, err := s.pool.Query(ctx, query, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Workout, 0)
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) changedSets(ctx context.Context, ownerID string, since time.Time) ([]*domain.WorkoutSet, error) {
	query := fmt.Sprintf(`SELECT %s FROM workout_sets WHERE user_id=$1 AND updated_at > $2 ORDER BY updated_at, id`, setColumns)
	rows, err := s.pool.Query(ctx, query, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.WorkoutSet, 0)
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, rows.Err()
}

// ListWorkouts returns workouts for an owner ordered by start time with
// keyset pagination. Soft-deleted rows are excluded unless asked for.
func (s *Store) ListWorkouts(ctx context.Context, ownerID string, cursor *domain.Cursor, limit int, includeDeleted bool) ([]*domain.Workout, *domain.Cursor, error) {
	args := []interface{}{ownerID, limit}
	query := fmt.Sprintf(`SELECT %s FROM workouts WHERE user_id=$1`, workoutColumns)

	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if cursor != nil {
		query += ` AND (started_at, id) < ($3, $4)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]*domain.Workout, 0, limit)
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, w)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit && limit > 0 {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}

	return results, nextCursor, nil
}
