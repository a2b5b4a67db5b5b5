package pii

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- InMemoryAuditStore tests ---

func TestInMemoryAuditStore_RecordAndRecent(t *testing.T) {
	store := NewInMemoryAuditStore(3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Record(ctx, AuditEvent{RequestID: id, Operation: "anonymize", Outcome: "success"}))
	}

	events, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "d", events[0].RequestID)
	assert.Equal(t, "c", events[1].RequestID)
	assert.Equal(t, "b", events[2].RequestID)
	assert.Equal(t, int64(4), events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())

	events, err = store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "d", events[0].RequestID)
}

func TestInMemoryAuditStore_Empty(t *testing.T) {
	events, err := NewInMemoryAuditStore(0).Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestInMemoryAuditStore_Cleanup(t *testing.T) {
	store := NewInMemoryAuditStore(5)
	ctx := context.Background()
	old := time.Now().UTC().Add(-2 * time.Hour)

	require.NoError(t, store.Record(ctx, AuditEvent{RequestID: "old-1", CreatedAt: old}))
	require.NoError(t, store.Record(ctx, AuditEvent{RequestID: "new-1"}))
	require.NoError(t, store.Record(ctx, AuditEvent{RequestID: "old-2", CreatedAt: old}))
	require.NoError(t, store.Record(ctx, AuditEvent{RequestID: "new-2"}))

	removed, err := store.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	events, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "new-2", events[0].RequestID)
	assert.Equal(t, "new-1", events[1].RequestID)

	require.NoError(t, store.Record(ctx, AuditEvent{RequestID: "new-3"}))
	events, err = store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "new-3", events[0].RequestID)
	assert.Len(t, events, 3)
}

func TestCountEntities(t *testing.T) {
	counts := CountEntities([]Entity{{Type: "PERSON"}, {Type: "EMAIL_ADDRESS"}, {Type: "PERSON"}})

	assert.Equal(t, map[string]int{"PERSON": 2, "EMAIL_ADDRESS": 1}, counts)
}

// --- PostgresAuditStore tests ---

func newMockAuditStore(t *testing.T) (*PostgresAuditStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS anonymization_audit").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresAuditStoreFromDB(context.Background(), db)
	require.NoError(t, err)
	return store, mock
}

func TestPostgresAuditStore_Record(t *testing.T) {
	store, mock := newMockAuditStore(t)
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO anonymization_audit")).
		WithArgs("req-1", "anonymize", "success", 42, `{"PERSON":2}`, 1.5, createdAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Record(context.Background(), AuditEvent{
		RequestID:    "req-1",
		Operation:    "anonymize",
		Outcome:      "success",
		TextLength:   42,
		EntityCounts: map[string]int{"PERSON": 2},
		DurationMS:   1.5,
		CreatedAt:    createdAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_Recent(t *testing.T) {
	store, mock := newMockAuditStore(t)
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "request_id", "operation", "outcome", "text_length", "entity_counts", "duration_ms", "created_at"}).
		AddRow(int64(7), "req-7", "anonymize", "success", 10, []byte(`{"EMAIL_ADDRESS":1}`), 2.5, createdAt).
		AddRow(int64(6), "req-6", "analyze", "recognition_failed", 5, []byte(`{}`), 0.5, createdAt)
	mock.ExpectQuery(regexp.QuoteMeta("FROM anonymization_audit")).
		WithArgs(2).
		WillReturnRows(rows)

	events, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, int64(7), events[0].ID)
	assert.Equal(t, map[string]int{"EMAIL_ADDRESS": 1}, events[0].EntityCounts)
	assert.Equal(t, "recognition_failed", events[1].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_Cleanup(t *testing.T) {
	store, mock := newMockAuditStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM anonymization_audit WHERE created_at < $1")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := store.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_Close(t *testing.T) {
	store, mock := newMockAuditStore(t)
	mock.ExpectClose()

	require.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
