package audit

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rhdesk/hrcore/pkg/contextkeys"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/rhdesk/hrcore/pkg/rbac"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rhdesk/hrcore/pkg/audit"

// sessionKeyLen is the length of a token's public prefix ("hrc_" and 8 characters)
const sessionKeyLen = 12

// Recorder builds audit entries and hands them to a queue or a writer.
// Recording never fails the caller: every error is logged and swallowed.
type Recorder struct {
	writer  Writer
	queue   Queue
	log     logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewRecorder creates a recorder. With a nil queue every entry is written
// synchronously.
func NewRecorder(writer Writer, queue Queue, log logrus.FieldLogger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		writer:  writer,
		queue:   queue,
		log:     observability.OrDefault(log),
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

type logOptions struct {
	sync bool
}

// LogOption tunes a single LogAction call
type LogOption func(*logOptions)

// Sync writes the entry before LogAction returns, bypassing the queue
func Sync() LogOption {
	return func(o *logOptions) { o.sync = true }
}

// LogAction records one event. It returns the persisted entry for synchronous
// writes and nil when the entry was queued or could not be recorded.
func (r *Recorder) LogAction(ctx context.Context, action Action, opts ...LogOption) (entry *Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(logrus.Fields{
				"action": action.Action,
				"panic":  rec,
				"stack":  string(debug.Stack()),
			}).Error("panic while recording audit entry")
			r.metrics.AuditEvent("failed")
			entry = nil
		}
	}()

	if action.Action == "" {
		r.log.WithField("resource_type", action.ResourceType).Warn("audit action without a name, ignoring")
		r.metrics.AuditEvent("dropped")
		return nil
	}

	o := logOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	e := r.build(ctx, action)

	if !o.sync && r.queue != nil {
		err := r.queue.Enqueue(ctx, e)
		if err == nil {
			r.metrics.AuditEvent("enqueued")
			return nil
		}
		r.log.WithError(err).WithField("action", e.Action).Warn("audit enqueue failed, writing synchronously")
	}

	if r.writer == nil {
		r.log.WithField("action", e.Action).Error("no audit writer configured")
		r.metrics.AuditEvent("dropped")
		return nil
	}

	if err := r.write(ctx, e); err != nil {
		observability.WithTraceContext(ctx, r.log).WithError(err).WithFields(logrus.Fields{
			"action":        e.Action,
			"resource_type": e.ResourceType,
			"resource_id":   e.ResourceID,
		}).Error("failed to write audit entry")
		r.metrics.AuditEvent("failed")
		return nil
	}
	r.metrics.AuditEvent("written")
	return e
}

func (r *Recorder) build(ctx context.Context, action Action) *Entry {
	e := &Entry{
		Action:         clamp(action.Action, 100),
		ResourceType:   clamp(action.ResourceType, 100),
		ResourceID:     clamp(action.ResourceID, 255),
		OldValues:      Sanitize(action.OldValues),
		NewValues:      Sanitize(action.NewValues),
		IPAddress:      clamp(action.IPAddress, 45),
		UserAgent:      action.UserAgent,
		Method:         clamp(action.Method, 10),
		Path:           action.Path,
		ResponseStatus: action.ResponseStatus,
		ExecutionTime:  action.ExecutionTime,
		SessionKey:     clamp(action.SessionKey, 64),
		RequestID:      clamp(action.RequestID, 100),
		Timestamp:      r.now().UTC(),
	}
	if action.User != nil {
		id := action.User.ID
		e.UserID = &id
	}
	if e.RequestID == "" {
		e.RequestID = clamp(contextkeys.GetRequestID(ctx), 100)
	}
	if e.SessionKey == "" {
		e.SessionKey = clamp(contextkeys.GetSessionKey(ctx), 64)
	}
	return e
}

// clamp cuts s to at most n runes so it fits its audit_logs column
func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func (r *Recorder) write(ctx context.Context, e *Entry) error {
	ctx, span := r.tracer.Start(ctx, "audit.Write",
		trace.WithAttributes(
			attribute.String("audit.action", e.Action),
			attribute.String("audit.resource_type", e.ResourceType),
		))
	defer span.End()

	if err := r.writer.Write(ctx, e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write")
		return err
	}
	return nil
}

// LogLogin records a LOGIN or LOGIN_FAILED event for r
func (r *Recorder) LogLogin(ctx context.Context, user *rbac.User, req *http.Request, success bool) *Entry {
	action := ActionLogin
	if !success {
		action = ActionLoginFailed
	}
	return r.LogAction(ctx, requestAction(ctx, user, req, action))
}

// LogLogout records a LOGOUT event for r
func (r *Recorder) LogLogout(ctx context.Context, user *rbac.User, req *http.Request) *Entry {
	return r.LogAction(ctx, requestAction(ctx, user, req, ActionLogout))
}

func requestAction(ctx context.Context, user *rbac.User, req *http.Request, action string) Action {
	a := Action{User: user, Action: action, ResourceType: "auth"}
	if req == nil {
		return a
	}
	a.IPAddress = ClientIP(req)
	a.UserAgent = req.UserAgent()
	a.Method = req.Method
	a.Path = req.URL.Path
	a.SessionKey = contextkeys.GetSessionKey(ctx)
	if a.SessionKey == "" {
		a.SessionKey = bearerSessionKey(req)
	}
	return a
}

// bearerSessionKey returns the leading characters of the request's bearer token
func bearerSessionKey(req *http.Request) string {
	header := req.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	token = strings.TrimSpace(token)
	if len(token) > sessionKeyLen {
		token = token[:sessionKeyLen]
	}
	return token
}
