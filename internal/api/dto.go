package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/fitlog/internal/domain"
)

// maxBatchOps bounds one push request; clients chunk larger backlogs.
const maxBatchOps = 500

// SyncOpIn is one client operation on the wire.
type SyncOpIn struct {
	OpID            string          `json:"op_id"`
	Type            string          `json:"type"`
	EntityID        string          `json:"entity_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientUpdatedAt int64           `json:"client_updated_at"`
}

// SyncPushRequest is the payload for POST /v1/sync/push.
type SyncPushRequest struct {
	Ops []SyncOpIn `json:"ops"`
}

// Validate ensures request correctness before any operation is attempted.
func (r SyncPushRequest) Validate() error {
	if len(r.Ops) == 0 {
		return errors.New("ops is required")
	}
	if len(r.Ops) > maxBatchOps {
		return fmt.Errorf("ops exceeds the %d operation batch limit", maxBatchOps)
	}
	for i, op := range r.Ops {
		if _, err := uuid.Parse(op.OpID); err != nil {
			return fmt.Errorf("ops[%d].op_id must be a uuid", i)
		}
		if _, err := uuid.Parse(op.EntityID); err != nil {
			return fmt.Errorf("ops[%d].entity_id must be a uuid", i)
		}
		if strings.TrimSpace(op.Type) == "" {
			return fmt.Errorf("ops[%d].type is required", i)
		}
	}
	return nil
}

type workoutPayloadIn struct {
	Type      string     `json:"type"`
	StartedAt *time.Time `json:"started_at"`
	Notes     *string    `json:"notes"`
	DistanceM *int       `json:"distance_m"`
	DurationS *int       `json:"duration_s"`
	RPE       *int       `json:"rpe"`
	Version   int64      `json:"version"`
}

type setPayloadIn struct {
	WorkoutID    string   `json:"workout_id"`
	Position     int      `json:"position"`
	ExerciseName *string  `json:"exercise_name"`
	Reps         *int     `json:"reps"`
	WeightKg     *float64 `json:"weight_kg"`
	DistanceM    *int     `json:"distance_m"`
	DurationS    *int     `json:"duration_s"`
	Notes        *string  `json:"notes"`
	Version      int64    `json:"version"`
}

// toDomain converts the wire operation, decoding the payload by operation
// type. Malformed payload JSON is a request error; missing required fields
// are left for the engine to reject per-operation.
func (op SyncOpIn) toDomain() (domain.Operation, error) {
	out := domain.Operation{
		OpID:            op.OpID,
		Type:            domain.OpType(op.Type),
		EntityID:        op.EntityID,
		ClientUpdatedAt: time.UnixMilli(op.ClientUpdatedAt).UTC(),
	}

	if len(op.Payload) == 0 || !out.Type.IsUpsert() {
		return out, nil
	}

	switch out.Type {
	case domain.OpUpsertWorkout:
		var in workoutPayloadIn
		if err := json.Unmarshal(op.Payload, &in); err != nil {
			return domain.Operation{}, fmt.Errorf("op %s: malformed workout payload: %w", op.OpID, err)
		}
		payload := domain.WorkoutPayload{
			Type:      in.Type,
			Notes:     in.Notes,
			DistanceM: in.DistanceM,
			DurationS: in.DurationS,
			RPE:       in.RPE,
			Version:   in.Version,
		}
		if in.StartedAt != nil {
			payload.StartedAt = in.StartedAt.UTC()
		}
		out.Payload = payload
	case domain.OpUpsertSet:
		var in setPayloadIn
		if err := json.Unmarshal(op.Payload, &in); err != nil {
			return domain.Operation{}, fmt.Errorf("op %s: malformed set payload: %w", op.OpID, err)
		}
		out.Payload = domain.SetPayload{
			WorkoutID:    in.WorkoutID,
			Position:     in.Position,
			ExerciseName: in.ExerciseName,
			Reps:         in.Reps,
			WeightKg:     in.WeightKg,
			DistanceM:    in.DistanceM,
			DurationS:    in.DurationS,
			Notes:        in.Notes,
			Version:      in.Version,
		}
	}
	return out, nil
}

// WorkoutView is the canonical wire image of a workout.
type WorkoutView struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	StartedAt time.Time  `json:"started_at"`
	Notes     *string    `json:"notes,omitempty"`
	DistanceM *int       `json:"distance_m,omitempty"`
	DurationS *int       `json:"duration_s,omitempty"`
	RPE       *int       `json:"rpe,omitempty"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// SetView is the canonical wire image of a workout set.
type SetView struct {
	ID           string     `json:"id"`
	WorkoutID    string     `json:"workout_id"`
	Position     int        `json:"position"`
	ExerciseName *string    `json:"exercise_name,omitempty"`
	Reps         *int       `json:"reps,omitempty"`
	WeightKg     *float64   `json:"weight_kg,omitempty"`
	DistanceM    *int       `json:"distance_m,omitempty"`
	DurationS    *int       `json:"duration_s,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	Version      int64      `json:"version"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// EntityOut pairs an entity snapshot with its kind tag.
type EntityOut struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

// ConflictOut reports a lost-update conflict with the server snapshot the
// client should re-base on.
type ConflictOut struct {
	OpID   string    `json:"op_id"`
	Type   string    `json:"type"`
	Entity EntityOut `json:"entity"`
}

// RejectedOut reports an operation that failed validation.
type RejectedOut struct {
	OpID   string `json:"op_id"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// SyncPushResponse is the wire result of one reconciled batch.
type SyncPushResponse struct {
	AppliedOpIDs    []string      `json:"applied_op_ids"`
	UpdatedEntities []EntityOut   `json:"updated_entities"`
	Conflicts       []ConflictOut `json:"conflicts"`
	RejectedOps     []RejectedOut `json:"rejected_ops,omitempty"`
	ServerTimeMs    int64         `json:"server_time_ms"`
}

// SyncPullResponse carries entities changed since the client's watermark.
type SyncPullResponse struct {
	Entities     []EntityOut `json:"entities"`
	ServerTimeMs int64       `json:"server_time_ms"`
}

// ListWorkoutsResponse packages list results.
type ListWorkoutsResponse struct {
	Items      []WorkoutView `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// SignupRequest doubles as the login payload.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate ensures request correctness.
func (r SignupRequest) Validate() error {
	if !strings.Contains(r.Email, "@") {
		return errors.New("email is required")
	}
	if len(r.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

// TokenResponse carries a freshly minted access token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func toWorkoutView(w *domain.Workout) WorkoutView {
	return WorkoutView{
		ID:        w.ID,
		Type:      w.Type,
		StartedAt: w.StartedAt,
		Notes:     w.Notes,
		DistanceM: w.DistanceM,
		DurationS: w.DurationS,
		RPE:       w.RPE,
		Version:   w.Version,
		UpdatedAt: w.UpdatedAt,
		DeletedAt: w.DeletedAt,
	}
}

func toSetView(s *domain.WorkoutSet) SetView {
	return SetView{
		ID:           s.ID,
		WorkoutID:    s.WorkoutID,
		Position:     s.Position,
		ExerciseName: s.ExerciseName,
		Reps:         s.Reps,
		WeightKg:     s.WeightKg,
		DistanceM:    s.DistanceM,
		DurationS:    s.DurationS,
		Notes:        s.Notes,
		Version:      s.Version,
		UpdatedAt:    s.UpdatedAt,
		DeletedAt:    s.DeletedAt,
	}
}

func toEntityOut(e domain.Entity) EntityOut {
	switch v := e.(type) {
	case *domain.Workout:
		return EntityOut{Kind: string(domain.KindWorkout), Data: toWorkoutView(v)}
	case *domain.WorkoutSet:
		return EntityOut{Kind: string(domain.KindWorkoutSet), Data: toSetView(v)}
	default:
		return EntityOut{Kind: string(e.Kind())}
	}
}

func toPushResponse(res *domain.Result) SyncPushResponse {
	out := SyncPushResponse{
		AppliedOpIDs:    res.AppliedOpIDs,
		UpdatedEntities: make([]EntityOut, 0, len(res.Updated)),
		Conflicts:       make([]ConflictOut, 0, len(res.Conflicts)),
		ServerTimeMs:    res.ServerTime.UnixMilli(),
	}
	if out.AppliedOpIDs == nil {
		out.AppliedOpIDs = []string{}
	}
	for _, e := range res.Updated {
		out.UpdatedEntities = append(out.UpdatedEntities, toEntityOut(e))
	}
	for _, c := range res.Conflicts {
		out.Conflicts = append(out.Conflicts, ConflictOut{
			OpID:   c.OpID,
			Type:   string(c.Type),
			Entity: toEntityOut(c.Server),
		})
	}
	for _, rej := range res.Rejected {
		out.RejectedOps = append(out.RejectedOps, RejectedOut{
			OpID:   rej.OpID,
			Type:   string(rej.Type),
			Reason: rej.Reason.Error(),
		})
	}
	return out
}
