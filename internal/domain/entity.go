package domain

import "time"

// Kind identifies an entity family managed by the sync engine.
type Kind string

const (
	KindWorkout    Kind = "workout"
	KindWorkoutSet Kind = "workout_set"
)

// SyncMeta carries the synchronization bookkeeping shared by every entity
// kind: identity, ownership, the optimistic-concurrency version, and the
// soft-delete tombstone.
type SyncMeta struct {
	ID        string
	OwnerID   string
	Version   int64
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the row carries a tombstone.
func (m *SyncMeta) Deleted() bool {
	return m.DeletedAt != nil
}

// Entity is a versioned, soft-deletable row owned by exactly one user.
// Workout and WorkoutSet are the two implementations; the reconciliation
// algorithm is written once against this interface.
type Entity interface {
	Kind() Kind
	Meta() *SyncMeta
}

// Workout is the canonical workout record. IDs are chosen by the client at
// creation time, not server-generated.
type Workout struct {
	SyncMeta

	Type      string
	StartedAt time.Time
	Notes     *string
	DistanceM *int
	DurationS *int
	RPE       *int
}

// Kind implements Entity.
func (w *Workout) Kind() Kind { return KindWorkout }

// Meta implements Entity.
func (w *Workout) Meta() *SyncMeta { return &w.SyncMeta }

// WorkoutSet is a single set (or interval) within a workout. The workout
// reference is lookup-only; deleting a workout does not cascade.
type WorkoutSet struct {
	SyncMeta

	WorkoutID    string
	Position     int
	ExerciseName *string
	Reps         *int
	WeightKg     *float64
	DistanceM    *int
	DurationS    *int
	Notes        *string
}

// Kind implements Entity.
func (s *WorkoutSet) Kind() Kind { return KindWorkoutSet }

// Meta implements Entity.
func (s *WorkoutSet) Meta() *SyncMeta { return &s.SyncMeta }
