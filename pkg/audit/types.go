package audit

import (
	"errors"
	"time"

	"github.com/rhdesk/hrcore/pkg/rbac"
)

// ErrNotFound is returned when an audit entry does not exist
var ErrNotFound = errors.New("audit: entry not found")

// Action names written by the interceptor and the login helpers
const (
	ActionView        = "VIEW"
	ActionCreate      = "CREATE"
	ActionUpdate      = "UPDATE"
	ActionDelete      = "DELETE"
	ActionLogin       = "LOGIN"
	ActionLoginFailed = "LOGIN_FAILED"
	ActionLogout      = "LOGOUT"

	// FailedSuffix marks a request answered with status >= 400, or a failed scope
	FailedSuffix = "_FAILED"
	// StartedSuffix marks the opening event of an observed scope
	StartedSuffix = "_STARTED"
)

// Entry is one persisted audit row. It is created once and never updated.
type Entry struct {
	ID             int64         `json:"id"`
	UserID         *int64        `json:"user_id,omitempty"`
	Action         string        `json:"action"`
	ResourceType   string        `json:"resource_type,omitempty"`
	ResourceID     string        `json:"resource_id,omitempty"`
	OldValues      interface{}   `json:"old_values,omitempty"`
	NewValues      interface{}   `json:"new_values,omitempty"`
	IPAddress      string        `json:"ip_address,omitempty"`
	UserAgent      string        `json:"user_agent,omitempty"`
	Method         string        `json:"method,omitempty"`
	Path           string        `json:"path,omitempty"`
	ResponseStatus int           `json:"response_status,omitempty"`
	ExecutionTime  time.Duration `json:"execution_time,omitempty"`
	SessionKey     string        `json:"session_key,omitempty"`
	RequestID      string        `json:"request_id,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Action describes one event handed to Recorder.LogAction. User may be nil
// for anonymous requests. OldValues and NewValues are sanitized before they
// are stored.
type Action struct {
	User           *rbac.User
	Action         string
	ResourceType   string
	ResourceID     string
	OldValues      interface{}
	NewValues      interface{}
	IPAddress      string
	UserAgent      string
	Method         string
	Path           string
	ResponseStatus int
	ExecutionTime  time.Duration
	SessionKey     string
	RequestID      string
}

// Filter narrows an audit log listing
type Filter struct {
	UserID       *int64
	Action       string
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// normalize clamps the pagination fields
func (f Filter) normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ExportFormat is the encoding of an audit export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)
