package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL with a fresh schema and skips
// the test when the variable is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.EnsureSchema(ctx))
	_, err = db.pool.Exec(ctx, "TRUNCATE deals, outbox_event RESTART IDENTITY")
	require.NoError(t, err)

	return db
}

func insertEvent(t *testing.T, db *DB, repo *OutboxRepository, event *OutboxEvent) {
	t.Helper()
	err := db.Transaction(context.Background(), func(tx pgx.Tx) error {
		return repo.InsertWithTx(context.Background(), tx, event)
	})
	require.NoError(t, err)
}

func newEvent(aggregateID string) *OutboxEvent {
	return &OutboxEvent{
		AggregateType: AggregateDeal,
		AggregateID:   aggregateID,
		EventType:     EventDealCreated,
		Payload:       json.RawMessage(`{"deal_id":` + aggregateID + `}`),
	}
}

func TestOutboxEvent_Validate(t *testing.T) {
	testCases := []struct {
		name  string
		event *OutboxEvent
	}{
		{
			name:  "missing aggregate type",
			event: &OutboxEvent{AggregateID: "1", EventType: EventDealCreated, Payload: json.RawMessage(`{}`)},
		},
		{
			name:  "missing aggregate id",
			event: &OutboxEvent{AggregateType: AggregateDeal, EventType: EventDealCreated, Payload: json.RawMessage(`{}`)},
		},
		{
			name:  "missing event type",
			event: &OutboxEvent{AggregateType: AggregateDeal, AggregateID: "1", Payload: json.RawMessage(`{}`)},
		},
		{
			name:  "missing payload",
			event: &OutboxEvent{AggregateType: AggregateDeal, AggregateID: "1", EventType: EventDealCreated},
		},
		{
			name:  "malformed payload",
			event: &OutboxEvent{AggregateType: AggregateDeal, AggregateID: "1", EventType: EventDealCreated, Payload: json.RawMessage(`{`)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.event.validate(), ErrInvalidEvent)
		})
	}

	assert.NoError(t, newEvent("1").validate())
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	t.Run("defaults are applied", func(t *testing.T) {
		event := newEvent("1")
		insertEvent(t, db, repo, event)

		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, DefaultStream, event.TargetStream)
		assert.Zero(t, event.RetryCount)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rollback discards the event", func(t *testing.T) {
		event := newEvent("2")
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return pgx.ErrTxClosed
		})
		assert.Error(t, err)

		events, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range events {
			assert.NotEqual(t, "2", e.AggregateID)
		}
	})
}

func TestOutboxRepository_GetPending(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	now := time.Now()
	seed := []struct {
		id     string
		status string
	}{
		{"1", OutboxStatusPending},
		{"2", OutboxStatusProcessed},
		{"3", OutboxStatusPending},
		{"4", OutboxStatusFailed},
	}
	for _, s := range seed {
		event := newEvent(s.id)
		event.Status = s.status
		event.NextRetryAt = &now
		insertEvent(t, db, repo, event)
	}

	t.Run("limit", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, pending, 2)
		for _, e := range pending {
			assert.Contains(t, []string{OutboxStatusPending, OutboxStatusFailed}, e.Status)
		}
	})

	t.Run("ordered by created_at", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 3)
		for i := 1; i < len(pending); i++ {
			assert.False(t, pending[i].CreatedAt.Before(pending[i-1].CreatedAt))
		}
	})

	t.Run("respects next_retry_at", func(t *testing.T) {
		_, err := db.pool.Exec(ctx,
			"UPDATE outbox_event SET next_retry_at = $1 WHERE aggregate_id = $2",
			time.Now().Add(time.Hour), "4")
		require.NoError(t, err)

		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range pending {
			assert.NotEqual(t, "4", e.AggregateID)
		}
	})

	t.Run("backlog", func(t *testing.T) {
		backlog, err := repo.Backlog(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), backlog.Pending)
		assert.Zero(t, backlog.DeadLetter)
	})
}

func TestOutboxRepository_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	event := newEvent("1")
	insertEvent(t, db, repo, event)

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))

	var status string
	var processedAt *time.Time
	err := db.pool.QueryRow(ctx,
		"SELECT status, processed_at FROM outbox_event WHERE id = $1",
		event.ID).Scan(&status, &processedAt)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusProcessed, status)
	require.NotNil(t, processedAt)

	assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))

	t.Run("purge processed", func(t *testing.T) {
		n, err := repo.DeleteProcessedBefore(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	t.Run("increments retry count and schedules retry", func(t *testing.T) {
		event := newEvent("1")
		insertEvent(t, db, repo, event)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		var status string
		var retryCount int
		var errorMsg *string
		var nextRetry *time.Time
		err := db.pool.QueryRow(ctx,
			"SELECT status, retry_count, error_message, next_retry_at FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &retryCount, &errorMsg, &nextRetry)
		require.NoError(t, err)

		assert.Equal(t, OutboxStatusFailed, status)
		assert.Equal(t, 1, retryCount)
		require.NotNil(t, errorMsg)
		assert.Contains(t, *errorMsg, "assert.AnError")
		require.NotNil(t, nextRetry)
		assert.True(t, nextRetry.After(time.Now()))
	})

	t.Run("dead letter after max retries", func(t *testing.T) {
		event := newEvent("2")
		event.RetryCount = MaxRetryCount - 1
		insertEvent(t, db, repo, event)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		var status string
		var retryCount int
		err := db.pool.QueryRow(ctx,
			"SELECT status, retry_count FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &retryCount)
		require.NoError(t, err)

		assert.Equal(t, OutboxStatusDeadLetter, status)
		assert.Equal(t, MaxRetryCount, retryCount)

		backlog, err := repo.Backlog(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), backlog.DeadLetter)
	})
}
