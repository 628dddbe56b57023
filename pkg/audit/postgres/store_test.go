package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoramesh/facilitator/pkg/audit"
)

func newTestEvent() audit.Event {
	return audit.Event{
		ID:         "evt-123",
		Timestamp:  time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
		EntityKind: audit.EntitySession,
		EntityID:   "sess-789",
		Action:     audit.ActionAdmit,
		Actor:      "agora1clientaddr",
		Amount:     500_000,
		Success:    true,
		Detail:     "",
	}
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	t.Run("custom retention", func(t *testing.T) {
		store := New(db, Config{RetentionDays: 30})
		assert.Equal(t, 30, store.retentionDays)
	})

	t.Run("default retention when zero", func(t *testing.T) {
		store := New(db, Config{})
		assert.Equal(t, defaultRetentionDays, store.retentionDays)
	})
}

func TestStore_Log(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	event := newTestEvent()

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(
			event.ID, event.Timestamp, string(event.EntityKind), event.EntityID,
			event.Action, event.Actor, event.Amount, event.Success, event.Detail,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Log(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LogError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnError(errors.New("connection refused"))

	err = store.Log(context.Background(), newTestEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting audit event")
}

func TestStore_Query(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	event := newTestEvent()

	rows := sqlmock.NewRows(eventColumns).AddRow(
		event.ID, event.Timestamp, string(event.EntityKind), event.EntityID,
		event.Action, event.Actor, event.Amount, event.Success, event.Detail,
	)

	mock.ExpectQuery("SELECT .+ FROM audit_events WHERE entity_id = .+ ORDER BY timestamp DESC LIMIT 10").
		WithArgs("sess-789").
		WillReturnRows(rows)

	events, err := store.Query(context.Background(), audit.QueryFilter{
		EntityID: "sess-789",
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, audit.EntitySession, events[0].EntityKind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QueryFilterConditions(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	success := false
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM audit_events WHERE entity_kind = .+ AND action = .+ AND actor = .+ AND timestamp >= .+ AND success = .+").
		WithArgs(string(audit.EntityEscrow), audit.ActionApprove, "agora1signeraddr", start, success).
		WillReturnRows(sqlmock.NewRows(eventColumns))

	events, err := store.Query(context.Background(), audit.QueryFilter{
		EntityKind: audit.EntityEscrow,
		Action:     audit.ActionApprove,
		Actor:      "agora1signeraddr",
		StartTime:  &start,
		Success:    &success,
	})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Cleanup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 30})

	mock.ExpectExec("DELETE FROM audit_events").
		WithArgs("30 days").
		WillReturnResult(sqlmock.NewResult(0, 5))

	require.NoError(t, store.Cleanup(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CloseWithoutRoutine(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	assert.NoError(t, store.Close())
}
