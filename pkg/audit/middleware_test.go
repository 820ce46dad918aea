package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhdesk/hrcore/pkg/httputil"
	"github.com/rhdesk/hrcore/pkg/rbac"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware(writer Writer) *Middleware {
	return NewMiddleware(NewRecorder(writer, nil, nil, nil), nil)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		method       string
		status       int
		path         string
		action       string
		resourceType string
		resourceID   string
	}{
		{http.MethodPut, 200, "/api/demandes/42/", ActionUpdate, "demandes", "42"},
		{http.MethodGet, 200, "/api/type_conge/", ActionView, "type_conge", ""},
		{http.MethodGet, 404, "/api/type_conge/", "VIEW_FAILED", "type_conge", ""},
		{http.MethodPost, 201, "/api/employes", ActionCreate, "employes", ""},
		{http.MethodPatch, 400, "/admin//users//9/edit", "UPDATE_FAILED", "users", "9"},
		{http.MethodDelete, 204, "/api/demandes/abc", ActionDelete, "demandes", "abc"},
		{http.MethodOptions, 200, "/api/demandes/", "OPTIONS", "demandes", ""},
		{http.MethodGet, 200, "/api/", ActionView, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			action, resourceType, resourceID := Classify(tt.method, tt.status, tt.path)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.resourceType, resourceType)
			assert.Equal(t, tt.resourceID, resourceID)
		})
	}
}

func TestAuditable(t *testing.T) {
	assert.True(t, Auditable("/api/demandes/42/"))
	assert.True(t, Auditable("/admin/users/"))
	assert.False(t, Auditable("/static/app.css"))
	assert.False(t, Auditable("/media/cv.pdf"))
	assert.False(t, Auditable("/health"))
	assert.False(t, Auditable("/metrics"))
	assert.False(t, Auditable("/api/schema/"))
	assert.False(t, Auditable("/api/docs/index.html"))
	assert.False(t, Auditable("/api/schema"))
	assert.False(t, Auditable("/api/docs"))
	assert.False(t, Auditable("/static"))
	assert.True(t, Auditable("/api/schemas/3/"))
	assert.False(t, Auditable("/"))
}

func TestMiddleware_UpdateRecordsRequestAndResponse(t *testing.T) {
	writer := &memWriter{}
	var handlerBody string
	handler := newTestMiddleware(writer).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, httputil.ParseJSON(r, &body))
		handlerBody = body["statut"].(string)
		AttachUser(r.Context(), alice, "tok12345")
		httputil.WriteSuccess(w, map[string]interface{}{"id": 42, "statut": "VALIDEE"})
	}))

	req := httptest.NewRequest(http.MethodPut, "/api/demandes/42/",
		strings.NewReader(`{"statut":"VALIDEE","password":"p"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "VALIDEE", handlerBody)

	entry := writer.last()
	require.NotNil(t, entry)
	assert.Equal(t, ActionUpdate, entry.Action)
	assert.Equal(t, "demandes", entry.ResourceType)
	assert.Equal(t, "42", entry.ResourceID)
	assert.Equal(t, "192.168.1.1", entry.IPAddress)
	assert.Equal(t, http.MethodPut, entry.Method)
	assert.Equal(t, 200, entry.ResponseStatus)
	assert.Equal(t, "req-42", entry.RequestID)
	assert.Equal(t, "tok12345", entry.SessionKey)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, alice.ID, *entry.UserID)

	old := entry.OldValues.(map[string]interface{})
	assert.Equal(t, "VALIDEE", old["statut"])
	assert.Equal(t, Mask, old["password"])
	assert.Equal(t, float64(42), entry.NewValues.(map[string]interface{})["id"])
}

func TestMiddleware_ViewAndFailure(t *testing.T) {
	writer := &memWriter{}
	status := http.StatusOK
	handler := newTestMiddleware(writer).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, status, []string{"annuel", "maladie"})
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/type_conge/?page=2", nil))
	require.Len(t, writer.all(), 1)
	view := writer.last()
	assert.Equal(t, ActionView, view.Action)
	assert.Equal(t, "type_conge", view.ResourceType)
	assert.Equal(t, map[string]interface{}{"page": "2"}, view.NewValues)
	assert.NotEmpty(t, view.RequestID)

	status = http.StatusInternalServerError
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/type_conge/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "VIEW_FAILED", writer.last().Action)
}

func TestMiddleware_CreateAndDeleteValues(t *testing.T) {
	writer := &memWriter{}
	handler := newTestMiddleware(writer).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": 5})
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/employes/", nil))
	created := writer.last()
	assert.Equal(t, ActionCreate, created.Action)
	assert.Nil(t, created.OldValues)
	assert.Equal(t, map[string]interface{}{"id": float64(5)}, created.NewValues)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/employes/5/", nil))
	deleted := writer.last()
	assert.Equal(t, ActionDelete, deleted.Action)
	assert.Equal(t, "5", deleted.ResourceID)
	assert.Equal(t, map[string]interface{}{"id": float64(5)}, deleted.OldValues)
	assert.Nil(t, deleted.NewValues)
}

func TestMiddleware_SkipsStatic(t *testing.T) {
	writer := &memWriter{}
	called := false
	handler := newTestMiddleware(writer).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("body{}"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
	assert.True(t, called)
	assert.Empty(t, writer.all())
}

func TestMiddleware_UserFromContext(t *testing.T) {
	writer := &memWriter{}
	handler := newTestMiddleware(writer).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me/permissions", nil)
	req = req.WithContext(rbac.WithUser(req.Context(), alice))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, writer.last().UserID)
	assert.Equal(t, alice.ID, *writer.last().UserID)
}

func TestMiddleware_RecorderFailureKeepsResponse(t *testing.T) {
	log, hook := test.NewNullLogger()
	m := NewMiddleware(NewRecorder(&memWriter{panics: true}, nil, log, nil), log)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"ok": "yes"})
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/demandes/", nil))

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"ok":"yes"}`, rr.Body.String())
	assert.NotEmpty(t, hook.AllEntries())
}

func TestMiddleware_LargeResponseNotCaptured(t *testing.T) {
	writer := &memWriter{}
	big := strings.Repeat("x", maxResponseCapture+1)
	handler := newTestMiddleware(writer).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"blob": big})
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/documents/", nil))

	assert.Greater(t, rr.Body.Len(), maxResponseCapture)
	assert.Nil(t, writer.last().NewValues)
}

func TestAttachUser_OutsideMiddleware(t *testing.T) {
	assert.NotPanics(t, func() {
		AttachUser(context.Background(), alice, "x")
	})
}
