// Package api exposes HTTP handlers for the sync service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"example.com/fitlog/internal/auth"
	"example.com/fitlog/internal/domain"
	"example.com/fitlog/internal/observability"
	"example.com/fitlog/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.SyncService
	users   domain.UserStore
	authCfg auth.Config
}

// NewHandler builds a Handler.
func NewHandler(service *domain.SyncService, users domain.UserStore, authCfg auth.Config) *Handler {
	return &Handler{service: service, users: users, authCfg: authCfg}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/auth/signup", h.signup)
	mux.HandleFunc("/v1/auth/login", h.login)
	mux.HandleFunc("/v1/sync/push", h.push)
	mux.HandleFunc("/v1/sync/pull", h.pull)
	mux.HandleFunc("/v1/workouts", h.listWorkouts)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) push(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSyncWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope sync:write required")
		return
	}

	var req SyncPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	ops := make([]domain.Operation, 0, len(req.Ops))
	for _, in := range req.Ops {
		op, err := in.toDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		ops = append(ops, op)
	}

	start := time.Now()
	res, err := h.service.Push(r.Context(), claims.Subject, ops)
	if err != nil {
		// The transaction rolled back in full; the client retries the
		// whole batch, which is safe because every op is idempotent.
		writeError(w, http.StatusInternalServerError, "server_error", "sync push failed")
		return
	}

	observability.RecordPush(len(res.AppliedOpIDs), len(res.Conflicts), len(res.Rejected), time.Since(start), res.ServerTime)
	writeJSON(w, http.StatusOK, toPushResponse(res))
}

func (h *Handler) pull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSyncRead) && !claims.HasScope(auth.ScopeSyncWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope sync:read required")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "since must be a millisecond timestamp")
			return
		}
		since = time.UnixMilli(ms).UTC()
	}

	entities, serverTime, err := h.service.Pull(r.Context(), claims.Subject, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "sync pull failed")
		return
	}

	resp := SyncPullResponse{
		Entities:     make([]EntityOut, 0, len(entities)),
		ServerTimeMs: serverTime.UnixMilli(),
	}
	for _, e := range entities {
		resp.Entities = append(resp.Entities, toEntityOut(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listWorkouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSyncRead) && !claims.HasScope(auth.ScopeSyncWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope sync:read required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	workouts, next, err := h.service.ListWorkouts(r.Context(), claims.Subject, cursor, limit, includeDeleted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "listing workouts failed")
		return
	}

	resp := ListWorkoutsResponse{
		Items:      make([]WorkoutView, 0, len(workouts)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, workout := range workouts {
		resp.Items = append(resp.Items, toWorkoutView(workout))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "signup failed")
		return
	}

	user := domain.User{
		ID:             uuid.NewString(),
		Email:          req.Email,
		HashedPassword: hashed,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			writeError(w, http.StatusBadRequest, "email_taken", "email already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", "signup failed")
		return
	}

	h.issueToken(w, user.ID)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	user, err := h.users.FindUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "login failed")
		return
	}
	if user == nil || !auth.VerifyPassword(req.Password, user.HashedPassword) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	h.issueToken(w, user.ID)
}

func (h *Handler) issueToken(w http.ResponseWriter, ownerID string) {
	token, err := auth.IssueToken(ownerID, h.authCfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
