package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingPayload indicates an upsert operation arrived without a payload.
	ErrMissingPayload = errors.New("upsert operation has no payload")
	// ErrMissingField indicates a field required for entity creation is absent.
	ErrMissingField = errors.New("required field missing")
	// ErrKindMismatch indicates a payload was applied to an entity of another kind.
	ErrKindMismatch = errors.New("payload kind does not match entity kind")
)

// UpsertPayload is the client's full desired field set for one entity,
// together with the server version the client last observed. BaseVersion 0
// means "I believe this entity does not yet exist".
type UpsertPayload interface {
	Kind() Kind
	BaseVersion() int64
	// Validate checks the fields required to create a new entity; it is
	// only consulted on the create path.
	Validate() error
	// Materialize builds a fresh entity from the payload fields. Sync
	// bookkeeping (id, owner, version, timestamps) is filled in by the
	// engine, never by the payload.
	Materialize() Entity
	// ApplyTo overwrites the entity's fields with the payload's.
	ApplyTo(e Entity) error
}

// WorkoutPayload is the upsert payload for a workout.
type WorkoutPayload struct {
	Type      string
	StartedAt time.Time
	Notes     *string
	DistanceM *int
	DurationS *int
	RPE       *int
	Version   int64
}

// Kind implements UpsertPayload.
func (p WorkoutPayload) Kind() Kind { return KindWorkout }

// BaseVersion implements UpsertPayload.
func (p WorkoutPayload) BaseVersion() int64 { return p.Version }

// Validate enforces the minimal field set for creating a workout.
func (p WorkoutPayload) Validate() error {
	if strings.TrimSpace(p.Type) == "" {
		return fmt.Errorf("%w: type", ErrMissingField)
	}
	if p.StartedAt.IsZero() {
		return fmt.Errorf("%w: started_at", ErrMissingField)
	}
	return nil
}

// Materialize implements UpsertPayload.
func (p WorkoutPayload) Materialize() Entity {
	return &Workout{
		Type:      p.Type,
		StartedAt: p.StartedAt.UTC(),
		Notes:     p.Notes,
		DistanceM: p.DistanceM,
		DurationS: p.DurationS,
		RPE:       p.RPE,
	}
}

// ApplyTo implements UpsertPayload.
func (p WorkoutPayload) ApplyTo(e Entity) error {
	w, ok := e.(*Workout)
	if !ok {
		return ErrKindMismatch
	}
	w.Type = p.Type
	w.StartedAt = p.StartedAt.UTC()
	w.Notes = p.Notes
	w.DistanceM = p.DistanceM
	w.DurationS = p.DurationS
	w.RPE = p.RPE
	return nil
}

// SetPayload is the upsert payload for a workout set.
type SetPayload struct {
	WorkoutID    string
	Position     int
	ExerciseName *string
	Reps         *int
	WeightKg     *float64
	DistanceM    *int
	DurationS    *int
	Notes        *string
	Version      int64
}

// Kind implements UpsertPayload.
func (p SetPayload) Kind() Kind { return KindWorkoutSet }

// BaseVersion implements UpsertPayload.
func (p SetPayload) BaseVersion() int64 { return p.Version }

// Validate enforces the minimal field set for creating a set. Position is
// allowed to be zero; only the parent workout reference is mandatory.
func (p SetPayload) Validate() error {
	if strings.TrimSpace(p.WorkoutID) == "" {
		return fmt.Errorf("%w: workout_id", ErrMissingField)
	}
	if p.Position < 0 {
		return fmt.Errorf("%w: position", ErrMissingField)
	}
	return nil
}

// Materialize implements UpsertPayload.
func (p SetPayload) Materialize() Entity {
	return &WorkoutSet{
		WorkoutID:    p.WorkoutID,
		Position:     p.Position,
		ExerciseName: p.ExerciseName,
		Reps:         p.Reps,
		WeightKg:     p.WeightKg,
		DistanceM:    p.DistanceM,
		DurationS:    p.DurationS,
		Notes:        p.Notes,
	}
}

// ApplyTo implements UpsertPayload.
func (p SetPayload) ApplyTo(e Entity) error {
	s, ok := e.(*WorkoutSet)
	if !ok {
		return ErrKindMismatch
	}
	s.WorkoutID = p.WorkoutID
	s.Position = p.Position
	s.ExerciseName = p.ExerciseName
	s.Reps = p.Reps
	s.WeightKg = p.WeightKg
	s.DistanceM = p.DistanceM
	s.DurationS = p.DurationS
	s.Notes = p.Notes
	return nil
}
