package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rhdesk/hrcore/pkg/contextkeys"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/rhdesk/hrcore/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// maxResponseCapture bounds the response bytes kept for the audit trail
const maxResponseCapture = 64 * 1024

// auditedPrefixes are the trees whose requests are recorded
var auditedPrefixes = []string{"/api/", "/admin/"}

// skippedPrefixes are never recorded, even under an audited tree. A prefix
// ending in "/" also skips the bare directory path.
var skippedPrefixes = []string{
	"/static/",
	"/media/",
	"/health",
	"/metrics",
	"/favicon",
	"/api/schema/",
	"/api/docs/",
}

// Auditable reports whether requests to path are recorded
func Auditable(path string) bool {
	for _, p := range skippedPrefixes {
		if strings.HasPrefix(path, p) || path == strings.TrimSuffix(p, "/") {
			return false
		}
	}
	for _, p := range auditedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Classify derives the action name and the resource addressed by a request.
// The resource type and id are the first two non-empty path segments after
// /api/ or /admin/.
func Classify(method string, status int, path string) (action, resourceType, resourceID string) {
	switch method {
	case http.MethodGet:
		action = ActionView
	case http.MethodPost:
		action = ActionCreate
	case http.MethodPut, http.MethodPatch:
		action = ActionUpdate
	case http.MethodDelete:
		action = ActionDelete
	default:
		action = strings.ToUpper(method)
	}
	if status >= 400 {
		action += FailedSuffix
	}

	for _, p := range auditedPrefixes {
		rest, ok := strings.CutPrefix(path, p)
		if !ok {
			continue
		}
		segments := make([]string, 0, 2)
		for _, s := range strings.Split(rest, "/") {
			if s == "" {
				continue
			}
			segments = append(segments, s)
			if len(segments) == 2 {
				break
			}
		}
		if len(segments) > 0 {
			resourceType = segments[0]
		}
		if len(segments) > 1 {
			resourceID = segments[1]
		}
		break
	}
	return action, resourceType, resourceID
}

// capture is the per-request state shared between the interceptor and the
// authentication layer
type capture struct {
	user       *rbac.User
	sessionKey string
}

// AttachUser records the authenticated principal for the current request's
// audit entry. It is a no-op outside the audit middleware.
func AttachUser(ctx context.Context, user *rbac.User, sessionKey string) {
	c, ok := ctx.Value(contextkeys.AuditCaptureKey).(*capture)
	if !ok || c == nil {
		return
	}
	c.user = user
	c.sessionKey = sessionKey
}

// Middleware records one audit entry per auditable HTTP request
type Middleware struct {
	recorder *Recorder
	log      logrus.FieldLogger
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(recorder *Recorder, log logrus.FieldLogger) *Middleware {
	return &Middleware{
		recorder: recorder,
		log:      observability.OrDefault(log),
	}
}

// responseWriter captures the status code and a bounded copy of the body
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	body       bytes.Buffer
	truncated  bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	if !rw.truncated {
		if room := maxResponseCapture - rw.body.Len(); len(b) <= room {
			rw.body.Write(b)
		} else {
			rw.truncated = true
		}
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// inbound is what the interceptor knows before the handler runs
type inbound struct {
	start     time.Time
	ip        string
	userAgent string
	method    string
	path      string
	query     map[string]interface{}
	data      interface{}
	requestID string
}

// Handler wraps an HTTP handler with audit recording
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Auditable(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		in := m.inbound(r)
		c := &capture{}
		ctx := context.WithValue(r.Context(), contextkeys.AuditCaptureKey, c)
		if contextkeys.GetRequestID(ctx) == "" {
			ctx = contextkeys.WithRequestID(ctx, in.requestID)
		}

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		m.outbound(ctx, in, c, wrapped)
	})
}

// inbound never fails: a malformed body becomes a placeholder
func (m *Middleware) inbound(r *http.Request) (in inbound) {
	in = inbound{
		start:     time.Now(),
		ip:        ClientIP(r),
		userAgent: r.UserAgent(),
		method:    r.Method,
		path:      r.URL.Path,
	}

	defer func() {
		if rec := recover(); rec != nil {
			m.log.WithFields(logrus.Fields{
				"path":  r.URL.Path,
				"panic": rec,
			}).Error("panic while reading request for audit")
		}
	}()

	in.requestID = r.Header.Get("X-Request-ID")
	if in.requestID == "" {
		in.requestID = contextkeys.GetRequestID(r.Context())
	}
	if in.requestID == "" {
		in.requestID = uuid.NewString()
	}
	if q := r.URL.Query(); len(q) > 0 {
		in.query = flattenValues(q)
	}
	in.data = requestData(r)
	return in
}

// outbound records the entry; nothing here may alter the response
func (m *Middleware) outbound(ctx context.Context, in inbound, c *capture, rw *responseWriter) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.WithFields(logrus.Fields{
				"path":  in.path,
				"panic": rec,
				"stack": string(debug.Stack()),
			}).Error("panic while recording request audit")
		}
	}()

	action, resourceType, resourceID := Classify(in.method, rw.statusCode, in.path)

	var response interface{}
	if !rw.truncated && rw.body.Len() > 0 && isJSON(rw.Header().Get("Content-Type")) {
		if err := json.Unmarshal(rw.body.Bytes(), &response); err != nil {
			response = nil
		}
	}

	var oldValues, newValues interface{}
	switch strings.TrimSuffix(action, FailedSuffix) {
	case ActionCreate:
		newValues = response
	case ActionUpdate:
		oldValues = in.data
		newValues = response
	case ActionDelete:
		oldValues = response
	case ActionView:
		if in.query != nil {
			newValues = in.query
		}
	}

	user := c.user
	if user == nil {
		user = rbac.UserFromContext(ctx)
	}

	m.recorder.LogAction(context.WithoutCancel(ctx), Action{
		User:           user,
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		OldValues:      oldValues,
		NewValues:      newValues,
		IPAddress:      in.ip,
		UserAgent:      in.userAgent,
		Method:         in.method,
		Path:           in.path,
		ResponseStatus: rw.statusCode,
		ExecutionTime:  time.Since(in.start),
		SessionKey:     c.sessionKey,
		RequestID:      in.requestID,
	})
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}
