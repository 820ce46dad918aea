package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryColumns = []string{
	"id", "user_id", "action", "resource_type", "resource_id",
	"old_values", "new_values",
	"ip_address", "user_agent", "method", "path",
	"response_status", "execution_time_ms", "session_key", "request_id",
	"timestamp",
}

func newMockWriter(t *testing.T) (*DBWriter, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	w, err := NewDBWriter(db, nil)
	require.NoError(t, err)
	return w, mock
}

func TestNewDBWriter_RequiresDB(t *testing.T) {
	_, err := NewDBWriter(nil, nil)
	assert.Error(t, err)
}

func TestDBWriter_EnsureTable(t *testing.T) {
	w, mock := newMockWriter(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, w.EnsureTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriter_Write(t *testing.T) {
	w, mock := newMockWriter(t)
	uid := int64(7)
	ts := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	entry := &Entry{
		UserID:         &uid,
		Action:         ActionUpdate,
		ResourceType:   "demandes",
		ResourceID:     "42",
		OldValues:      map[string]interface{}{"statut": "EN_ATTENTE"},
		IPAddress:      "192.168.1.1",
		Method:         "PUT",
		Path:           "/api/demandes/42/",
		ResponseStatus: 200,
		ExecutionTime:  1500 * time.Microsecond,
		RequestID:      "req-1",
		Timestamp:      ts,
	}

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(
			int64(7), ActionUpdate, "demandes", "42",
			`{"statut":"EN_ATTENTE"}`, nil,
			"192.168.1.1", "", "PUT", "/api/demandes/42/",
			200, 1.5, "", "req-1",
			ts,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	require.NoError(t, w.Write(context.Background(), entry))
	assert.Equal(t, int64(11), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriter_WriteAnonymous(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(nil, ActionLoginFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), nil, nil,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	require.NoError(t, w.Write(context.Background(), &Entry{Action: ActionLoginFailed, Timestamp: time.Now()}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriter_WriteError(t *testing.T) {
	w, mock := newMockWriter(t)
	mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(errors.New("connection reset"))

	err := w.Write(context.Background(), &Entry{Action: ActionView, Timestamp: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestDBWriter_WriteUnmarshalableValues(t *testing.T) {
	w, _ := newMockWriter(t)

	err := w.Write(context.Background(), &Entry{Action: ActionCreate, NewValues: map[string]interface{}{"ch": make(chan int)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "new values")
}

func TestDBWriter_List(t *testing.T) {
	w, mock := newMockWriter(t)
	ts := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	uid := int64(7)

	mock.ExpectQuery(`FROM audit_logs WHERE 1=1 AND user_id = \$1 AND action = \$2 ORDER BY timestamp DESC, id DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(int64(7), ActionUpdate, 100, 0).
		WillReturnRows(sqlmock.NewRows(entryColumns).
			AddRow(int64(2), int64(7), ActionUpdate, "demandes", "42",
				[]byte(`{"statut":"EN_ATTENTE"}`), []byte(`{"statut":"VALIDEE"}`),
				"192.168.1.1", "curl/8", "PUT", "/api/demandes/42/",
				int64(200), 2.0, "tok12345", "req-2", ts).
			AddRow(int64(1), int64(7), ActionUpdate, nil, nil,
				nil, nil,
				nil, nil, nil, nil,
				nil, nil, nil, nil, ts))

	entries, err := w.List(context.Background(), Filter{UserID: &uid, Action: ActionUpdate})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, "demandes", first.ResourceType)
	assert.Equal(t, map[string]interface{}{"statut": "VALIDEE"}, first.NewValues)
	assert.Equal(t, 2*time.Millisecond, first.ExecutionTime)
	assert.Equal(t, 200, first.ResponseStatus)

	second := entries[1]
	assert.Empty(t, second.ResourceType)
	assert.Nil(t, second.OldValues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriter_ListTimeRangeAndPaging(t *testing.T) {
	w, mock := newMockWriter(t)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	mock.ExpectQuery(`AND resource_type = \$1 AND resource_id = \$2 AND timestamp >= \$3 AND timestamp <= \$4 ORDER BY .* LIMIT \$5 OFFSET \$6`).
		WithArgs("demandes", "42", since, until, maxListLimit, 20).
		WillReturnRows(sqlmock.NewRows(entryColumns))

	entries, err := w.List(context.Background(), Filter{
		ResourceType: "demandes",
		ResourceID:   "42",
		Since:        &since,
		Until:        &until,
		Limit:        5000,
		Offset:       20,
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriter_Get(t *testing.T) {
	w, mock := newMockWriter(t)
	ts := time.Now().UTC()

	mock.ExpectQuery(`FROM audit_logs WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(entryColumns).
			AddRow(int64(5), nil, ActionLogin, "auth", nil, nil, nil,
				"10.0.0.1", nil, "POST", "/api/auth/login", int64(200), 0.5, nil, nil, ts))

	entry, err := w.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, ActionLogin, entry.Action)
	assert.Nil(t, entry.UserID)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)

	mock.ExpectQuery(`FROM audit_logs WHERE id = \$1`).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows(entryColumns))

	_, err = w.Get(context.Background(), 6)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
