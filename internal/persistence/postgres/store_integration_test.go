//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/fitlog/internal/domain"
)

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("fitness"),
		postgrescontainer.WithUsername("fitness"),
		postgrescontainer.WithPassword("fitness"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func createAccount(t *testing.T, ctx context.Context, store *Store) string {
	t.Helper()
	user := domain.User{
		ID:             uuid.NewString(),
		Email:          uuid.NewString() + "@example.com",
		HashedPassword: "irrelevant",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateUser(ctx, user))
	return user.ID
}

func workoutUpsert(entityID string, version int64) domain.Operation {
	return domain.Operation{
		OpID:     uuid.NewString(),
		Type:     domain.OpUpsertWorkout,
		EntityID: entityID,
		Payload: domain.WorkoutPayload{
			Type:      "run",
			StartedAt: time.Date(2026, 2, 1, 7, 0, 0, 0, time.UTC),
			Version:   version,
		},
		ClientUpdatedAt: time.Now().UTC(),
	}
}

func TestStoreReplaysBatchWithoutDoubleApply(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)
	service := domain.NewSyncService(store)

	ownerID := createAccount(t, ctx, store)
	entityID := uuid.NewString()
	op := workoutUpsert(entityID, 0)

	first, err := service.Push(ctx, ownerID, []domain.Operation{op})
	require.NoError(t, err)
	require.Equal(t, []string{op.OpID}, first.AppliedOpIDs)
	require.Len(t, first.Updated, 1)
	require.Equal(t, int64(1), first.Updated[0].Meta().Version)

	replay, err := service.Push(ctx, ownerID, []domain.Operation{op})
	require.NoError(t, err)
	require.Equal(t, []string{op.OpID}, replay.AppliedOpIDs)
	require.Empty(t, replay.Conflicts)

	var version int64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT version FROM workouts WHERE user_id=$1 AND id=$2`, ownerID, entityID).Scan(&version))
	require.Equal(t, int64(1), version)

	var ledgerRows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_ops WHERE user_id=$1`, ownerID).Scan(&ledgerRows))
	require.Equal(t, 1, ledgerRows)
}

func TestStoreReportsStaleWriteAsConflict(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)
	service := domain.NewSyncService(store)

	ownerID := createAccount(t, ctx, store)
	entityID := uuid.NewString()

	_, err := service.Push(ctx, ownerID, []domain.Operation{workoutUpsert(entityID, 0)})
	require.NoError(t, err)

	stale := domain.Operation{
		OpID:     uuid.NewString(),
		Type:     domain.OpUpsertWorkout,
		EntityID: entityID,
		Payload: domain.WorkoutPayload{
			Type:      "bike",
			StartedAt: time.Date(2026, 2, 2, 7, 0, 0, 0, time.UTC),
			Version:   0,
		},
	}
	res, err := service.Push(ctx, ownerID, []domain.Operation{stale})
	require.NoError(t, err)
	require.Empty(t, res.AppliedOpIDs)
	require.Len(t, res.Conflicts, 1)
	require.Equal(t, stale.OpID, res.Conflicts[0].OpID)

	var storedType string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT type FROM workouts WHERE user_id=$1 AND id=$2`, ownerID, entityID).Scan(&storedType))
	require.Equal(t, "run", storedType)

	// Conflicted op ids are never ledgered, so a corrected retry succeeds.
	var ledgered int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_ops WHERE user_id=$1 AND op_id=$2`, ownerID, stale.OpID).Scan(&ledgered))
	require.Equal(t, 0, ledgered)
}

func TestStoreDeleteWritesTombstoneVisibleInPull(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)
	service := domain.NewSyncService(store)

	ownerID := createAccount(t, ctx, store)
	entityID := uuid.NewString()

	_, err := service.Push(ctx, ownerID, []domain.Operation{workoutUpsert(entityID, 0)})
	require.NoError(t, err)

	del := domain.Operation{OpID: uuid.NewString(), Type: domain.OpDeleteWorkout, EntityID: entityID}
	res, err := service.Push(ctx, ownerID, []domain.Operation{del})
	require.NoError(t, err)
	require.Equal(t, []string{del.OpID}, res.AppliedOpIDs)

	changed, err := store.ChangedSince(ctx, ownerID, time.Time{})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.True(t, changed[0].Meta().Deleted())
	require.Equal(t, int64(2), changed[0].Meta().Version)
}

func TestRecordOpConflictLeavesTransactionUsable(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)
	service := domain.NewSyncService(store)

	ownerID := createAccount(t, ctx, store)
	entityID := uuid.NewString()
	op := workoutUpsert(entityID, 0)

	_, err := service.Push(ctx, ownerID, []domain.Operation{op})
	require.NoError(t, err)

	// Re-recording an already-ledgered op must report ErrDuplicateOp
	// without aborting the transaction: later statements and the final
	// commit still succeed.
	err = store.RunInTx(ctx, func(tx domain.TxAccess) error {
		recordErr := tx.RecordOp(ctx, ownerID, op.OpID, time.Now().UTC())
		require.ErrorIs(t, recordErr, domain.ErrDuplicateOp)

		e, getErr := tx.Get(ctx, domain.KindWorkout, ownerID, entityID)
		require.NoError(t, getErr)
		require.NotNil(t, e)
		return nil
	})
	require.NoError(t, err)

	var ledgerRows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_ops WHERE user_id=$1`, ownerID).Scan(&ledgerRows))
	require.Equal(t, 1, ledgerRows)
}

func TestConcurrentPushesOfSameOpBothSucceed(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)
	service := domain.NewSyncService(store)

	ownerID := createAccount(t, ctx, store)
	entityID := uuid.NewString()

	_, err := service.Push(ctx, ownerID, []domain.Operation{workoutUpsert(entityID, 0)})
	require.NoError(t, err)

	// Two devices retransmit the same op concurrently. The loser of the
	// ledger insert race must still see the op counted as applied, never
	// an error. The declared version is ahead so neither push conflicts
	// on the entity row itself.
	op := workoutUpsert(entityID, 5)
	op.OpID = uuid.NewString()

	var wg sync.WaitGroup
	results := make([]*domain.Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = service.Push(ctx, ownerID, []domain.Operation{op})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, []string{op.OpID}, results[i].AppliedOpIDs)
	}

	var ledgerRows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_ops WHERE user_id=$1 AND op_id=$2`, ownerID, op.OpID).Scan(&ledgerRows))
	require.Equal(t, 1, ledgerRows)
}

func TestStoreScopesEntitiesByOwner(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)
	service := domain.NewSyncService(store)

	ownerA := createAccount(t, ctx, store)
	ownerB := createAccount(t, ctx, store)
	entityID := uuid.NewString()

	_, err := service.Push(ctx, ownerA, []domain.Operation{workoutUpsert(entityID, 0)})
	require.NoError(t, err)

	changed, err := store.ChangedSince(ctx, ownerB, time.Time{})
	require.NoError(t, err)
	require.Empty(t, changed)

	workouts, next, err := store.ListWorkouts(ctx, ownerB, nil, 20, false)
	require.NoError(t, err)
	require.Empty(t, workouts)
	require.Nil(t, next)
}

func TestStoreWritesOutboxRowPerMutation(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)
	service := domain.NewSyncService(store)

	ownerID := createAccount(t, ctx, store)
	entityID := uuid.NewString()

	_, err := service.Push(ctx, ownerID, []domain.Operation{workoutUpsert(entityID, 0)})
	require.NoError(t, err)

	del := domain.Operation{OpID: uuid.NewString(), Type: domain.OpDeleteWorkout, EntityID: entityID}
	_, err = service.Push(ctx, ownerID, []domain.Operation{del})
	require.NoError(t, err)

	rows, err := pool.Query(ctx,
		`SELECT event_type, topic, partition_key FROM outbox WHERE owner_id=$1 ORDER BY event_id`, ownerID)
	require.NoError(t, err)
	defer rows.Close()

	var count int
	for rows.Next() {
		var eventType, topic, partitionKey string
		require.NoError(t, rows.Scan(&eventType, &topic, &partitionKey))
		require.Equal(t, "sync.entity_changed", eventType)
		require.Equal(t, "sync_entity_events", topic)
		require.Equal(t, ownerID, partitionKey)
		count++
	}
	require.NoError(t, rows.Err())
	require.Equal(t, 2, count)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	path := resolvePath(t, "../../../db/postgres/migrations/0001_init.up.sql")
	contents, readErr := os.ReadFile(path)
	require.NoError(t, readErr)

	_, execErr := pool.Exec(ctx, string(contents))
	require.NoError(t, execErr)
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
