package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rhdesk/hrcore/pkg/contextkeys"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/rhdesk/hrcore/pkg/rbac"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = &rbac.User{ID: 7, Username: "alice", IsActive: true}

func TestLogAction_Sync(t *testing.T) {
	writer := &memWriter{}
	rec := NewRecorder(writer, nil, nil, nil)
	fixed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("WAT", 3600))
	rec.now = func() time.Time { return fixed }

	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	entry := rec.LogAction(ctx, Action{
		User:         alice,
		Action:       ActionUpdate,
		ResourceType: "demandes",
		ResourceID:   "42",
		OldValues:    map[string]interface{}{"statut": "EN_ATTENTE"},
		NewValues:    map[string]interface{}{"statut": "VALIDEE", "password": "x"},
	})

	require.NotNil(t, entry)
	assert.Equal(t, int64(1), entry.ID)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, int64(7), *entry.UserID)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, fixed.UTC(), entry.Timestamp)
	assert.Equal(t, Mask, entry.NewValues.(map[string]interface{})["password"])
	assert.Equal(t, []string{ActionUpdate}, writer.actions())
}

func TestLogAction_NilUserAndEmptyAction(t *testing.T) {
	writer := &memWriter{}
	log, hook := test.NewNullLogger()
	rec := NewRecorder(writer, nil, log, nil)

	assert.NotPanics(t, func() {
		assert.Nil(t, rec.LogAction(context.Background(), Action{}))
	})
	assert.Empty(t, writer.all())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	entry := rec.LogAction(context.Background(), Action{Action: ActionView})
	require.NotNil(t, entry)
	assert.Nil(t, entry.UserID)
}

func TestLogAction_ClampsColumnWidths(t *testing.T) {
	writer := &memWriter{}
	rec := NewRecorder(writer, nil, nil, nil)

	entry := rec.LogAction(context.Background(), Action{
		Action:       strings.Repeat("A", 150),
		ResourceType: strings.Repeat("é", 120),
		IPAddress:    strings.Repeat("9", 80),
		Method:       "PROPPATCHING",
		SessionKey:   strings.Repeat("s", 70),
		RequestID:    strings.Repeat("r", 130),
	})

	require.NotNil(t, entry)
	assert.Len(t, entry.Action, 100)
	assert.Equal(t, strings.Repeat("é", 100), entry.ResourceType)
	assert.Len(t, entry.IPAddress, 45)
	assert.Equal(t, "PROPPATCHI", entry.Method)
	assert.Len(t, entry.SessionKey, 64)
	assert.Len(t, entry.RequestID, 100)
	assert.Len(t, writer.all(), 1)
}

func TestLogAction_WriterErrorSwallowed(t *testing.T) {
	writer := &memWriter{err: errBoom}
	log, hook := test.NewNullLogger()
	rec := NewRecorder(writer, nil, log, nil)

	assert.Nil(t, rec.LogAction(context.Background(), Action{Action: ActionDelete}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "failed to write audit entry", hook.LastEntry().Message)
	assert.Equal(t, errBoom, hook.LastEntry().Data[logrus.ErrorKey])
}

func TestLogAction_WriterPanicSwallowed(t *testing.T) {
	log, hook := test.NewNullLogger()
	rec := NewRecorder(&memWriter{panics: true}, nil, log, nil)

	assert.NotPanics(t, func() {
		assert.Nil(t, rec.LogAction(context.Background(), Action{Action: ActionCreate}))
	})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "panic while recording audit entry", hook.LastEntry().Message)
}

func TestLogAction_Async(t *testing.T) {
	writer := &memWriter{}
	var queued []*Entry
	queue := queueFunc(func(ctx context.Context, entry *Entry) error {
		queued = append(queued, entry)
		return nil
	})
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	rec := NewRecorder(writer, queue, nil, metrics)

	assert.Nil(t, rec.LogAction(context.Background(), Action{Action: ActionCreate, User: alice}))
	require.Len(t, queued, 1)
	assert.Equal(t, ActionCreate, queued[0].Action)
	assert.Empty(t, writer.all(), "queued entries are not written inline")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditEventsTotal.WithLabelValues("enqueued")))

	entry := rec.LogAction(context.Background(), Action{Action: ActionView}, Sync())
	require.NotNil(t, entry)
	assert.Len(t, queued, 1, "Sync bypasses the queue")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditEventsTotal.WithLabelValues("written")))
}

func TestLogAction_EnqueueFailureFallsBack(t *testing.T) {
	writer := &memWriter{}
	log, hook := test.NewNullLogger()
	queue := queueFunc(func(ctx context.Context, entry *Entry) error { return errBoom })
	rec := NewRecorder(writer, queue, log, nil)

	entry := rec.LogAction(context.Background(), Action{Action: ActionDelete})
	require.NotNil(t, entry)
	assert.Equal(t, []string{ActionDelete}, writer.actions())

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "audit enqueue failed, writing synchronously" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestLogLoginAndLogout(t *testing.T) {
	writer := &memWriter{}
	rec := NewRecorder(writer, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("User-Agent", "curl/8")
	req.Header.Set("Authorization", "Bearer hrc_abcdefgh1234")

	rec.LogLogin(req.Context(), alice, req, true)
	rec.LogLogin(req.Context(), nil, req, false)
	ctx := contextkeys.WithSessionKey(req.Context(), "sess1234")
	rec.LogLogout(ctx, alice, req)

	assert.Equal(t, []string{ActionLogin, ActionLoginFailed, ActionLogout}, writer.actions())

	entries := writer.all()
	assert.Equal(t, "10.1.2.3", entries[0].IPAddress)
	assert.Equal(t, "curl/8", entries[0].UserAgent)
	assert.Equal(t, "hrc_abcdefgh", entries[0].SessionKey)
	assert.Nil(t, entries[1].UserID)
	assert.Equal(t, "sess1234", entries[2].SessionKey)
}

func TestObserve_Success(t *testing.T) {
	writer := &memWriter{}
	rec := NewRecorder(writer, nil, nil, nil)

	var ran atomic.Bool
	err := Observe(context.Background(), rec, Scope{User: alice, Action: "PAYROLL_CLOSE", ResourceType: "paie"},
		func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})

	require.NoError(t, err)
	assert.True(t, ran.Load())
	assert.Equal(t, []string{"PAYROLL_CLOSE_STARTED", "PAYROLL_CLOSE"}, writer.actions())
}

func TestObserve_ReturnsExactError(t *testing.T) {
	writer := &memWriter{}
	rec := NewRecorder(writer, nil, nil, nil)

	err := Observe(context.Background(), rec, Scope{Action: "IMPORT"}, func(ctx context.Context) error {
		return errBoom
	})

	assert.Same(t, errBoom, err)
	assert.Equal(t, []string{"IMPORT_STARTED", "IMPORT_FAILED"}, writer.actions())
	assert.Equal(t, "boom", writer.last().NewValues.(map[string]interface{})["error"])
}

func TestObserve_RePanics(t *testing.T) {
	writer := &memWriter{}
	rec := NewRecorder(writer, nil, nil, nil)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = Observe(context.Background(), rec, Scope{Action: "EXPORT"}, func(ctx context.Context) error {
			panic("kaboom")
		})
	})
	assert.Equal(t, []string{"EXPORT_STARTED", "EXPORT_FAILED"}, writer.actions())
}

func TestObserve_WriterFailureDoesNotMaskResult(t *testing.T) {
	rec := NewRecorder(&memWriter{err: errBoom}, nil, nil, nil)

	err := Observe(context.Background(), rec, Scope{Action: "SYNC"}, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}
