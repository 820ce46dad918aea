package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rhdesk/hrcore/pkg/httputil"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/rhdesk/hrcore/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// Reader queries persisted audit entries
type Reader interface {
	List(ctx context.Context, filter Filter) ([]*Entry, error)
	Get(ctx context.Context, id int64) (*Entry, error)
}

// Handlers provides the read-only audit log API
type Handlers struct {
	reader Reader
	log    logrus.FieldLogger
}

// NewHandlers creates new audit handlers
func NewHandlers(reader Reader, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		reader: reader,
		log:    observability.OrDefault(log),
	}
}

// RegisterRoutes registers audit log routes behind audit_log permissions
func (h *Handlers) RegisterRoutes(router *mux.Router, pm *rbac.PermissionMiddleware) {
	guard := pm.MustGuard(rbac.ModelPermission(rbac.ResourceAuditLog))

	router.Handle("/api/audit-logs", guard(http.HandlerFunc(h.ListEntries))).Methods(http.MethodGet)
	router.Handle("/api/audit-logs/export", guard(http.HandlerFunc(h.ExportEntries))).Methods(http.MethodGet)
	router.Handle("/api/audit-logs/{id:[0-9]+}", guard(http.HandlerFunc(h.GetEntry))).Methods(http.MethodGet)
}

// ListEntries handles GET /api/audit-logs
func (h *Handlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.reader.List(r.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("failed to list audit entries")
		httputil.WriteInternalError(w)
		return
	}

	filter = filter.normalize()
	httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// GetEntry handles GET /api/audit-logs/{id}
func (h *Handlers) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.reader.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "audit entry not found")
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("id", id).Error("failed to get audit entry")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, entry)
}

// ExportEntries handles GET /api/audit-logs/export?format=json|csv|ndjson
func (h *Handlers) ExportEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Limit == 0 {
		filter.Limit = maxListLimit
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}
	switch format {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unsupported export format: %s", format))
		return
	}

	entries, err := h.reader.List(r.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("failed to list audit entries for export")
		httputil.WriteInternalError(w)
		return
	}

	data, err := Export(entries, format)
	if err != nil {
		h.log.WithError(err).WithField("format", format).Error("failed to export audit entries")
		httputil.WriteInternalError(w)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}

	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// parseFilter parses the listing filter from query parameters
func parseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	filter := Filter{
		Action:       query.Get("action"),
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
	}

	userID, ok, err := httputil.ParseQueryInt64(r, "user_id")
	if err != nil {
		return filter, err
	}
	if ok {
		filter.UserID = &userID
	}

	for key, dest := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		str := query.Get(key)
		if str == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return filter, fmt.Errorf("invalid RFC3339 time for query param %s: %s", key, str)
		}
		*dest = &t
	}

	for key, dest := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		str := query.Get(key)
		if str == "" {
			continue
		}
		n, err := strconv.Atoi(str)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid %s: %s", key, str)
		}
		*dest = n
	}

	return filter, nil
}
