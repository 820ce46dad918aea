package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rhdesk/hrcore/pkg/observability"
)

// Writer persists a single audit entry, setting its ID when the backend has one
type Writer interface {
	Write(ctx context.Context, entry *Entry) error
}

// DBWriter writes audit entries to the audit_logs table
type DBWriter struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewDBWriter creates a database-backed audit writer
func NewDBWriter(db *sql.DB, metrics *observability.Metrics) (*DBWriter, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBWriter{db: db, metrics: metrics}, nil
}

// EnsureTable creates the audit_logs table if it doesn't exist (PostgreSQL dialect)
func (w *DBWriter) EnsureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT,
		action VARCHAR(100) NOT NULL,
		resource_type VARCHAR(100),
		resource_id VARCHAR(255),
		old_values JSONB,
		new_values JSONB,
		ip_address VARCHAR(45),
		user_agent TEXT,
		method VARCHAR(10),
		path TEXT,
		response_status INTEGER,
		execution_time_ms DOUBLE PRECISION,
		session_key VARCHAR(64),
		request_id VARCHAR(100),
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	`

	if _, err := w.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return nil
}

// Write inserts the entry and sets its ID
func (w *DBWriter) Write(ctx context.Context, entry *Entry) error {
	start := time.Now()
	defer func() { w.metrics.ObserveAuditWrite(time.Since(start)) }()

	oldJSON, err := jsonColumn(entry.OldValues)
	if err != nil {
		return fmt.Errorf("failed to marshal old values: %w", err)
	}
	newJSON, err := jsonColumn(entry.NewValues)
	if err != nil {
		return fmt.Errorf("failed to marshal new values: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			user_id, action, resource_type, resource_id,
			old_values, new_values,
			ip_address, user_agent, method, path,
			response_status, execution_time_ms, session_key, request_id,
			timestamp
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15
		) RETURNING id
	`

	err = w.db.QueryRowContext(ctx, query,
		entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID,
		oldJSON, newJSON,
		entry.IPAddress, entry.UserAgent, entry.Method, entry.Path,
		entry.ResponseStatus, durationMillis(entry.ExecutionTime), entry.SessionKey, entry.RequestID,
		entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, user_id, action, resource_type, resource_id,
		old_values, new_values,
		ip_address, user_agent, method, path,
		response_status, execution_time_ms, session_key, request_id,
		timestamp
	FROM audit_logs`

// List returns entries matching filter, newest first
func (w *DBWriter) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	filter = filter.normalize()

	query := selectColumns + " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, filter.Action)
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, filter.ResourceType)
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.Since)
		argCount++
	}

	if filter.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.Until)
		argCount++
	}

	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return entries, nil
}

// Get returns one entry by ID
func (w *DBWriter) Get(ctx context.Context, id int64) (*Entry, error) {
	entry, err := scanEntry(w.db.QueryRowContext(ctx, selectColumns+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

func scanEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (*Entry, error) {
	var (
		entry                              Entry
		userID                             sql.NullInt64
		resourceType, resourceID           sql.NullString
		oldJSON, newJSON                   []byte
		ipAddress, userAgent, method, path sql.NullString
		responseStatus                     sql.NullInt64
		executionMillis                    sql.NullFloat64
		sessionKey, requestID              sql.NullString
	)

	err := scanner.Scan(
		&entry.ID, &userID, &entry.Action, &resourceType, &resourceID,
		&oldJSON, &newJSON,
		&ipAddress, &userAgent, &method, &path,
		&responseStatus, &executionMillis, &sessionKey, &requestID,
		&entry.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	if userID.Valid {
		id := userID.Int64
		entry.UserID = &id
	}
	entry.ResourceType = resourceType.String
	entry.ResourceID = resourceID.String
	entry.IPAddress = ipAddress.String
	entry.UserAgent = userAgent.String
	entry.Method = method.String
	entry.Path = path.String
	entry.ResponseStatus = int(responseStatus.Int64)
	entry.ExecutionTime = time.Duration(executionMillis.Float64 * float64(time.Millisecond))
	entry.SessionKey = sessionKey.String
	entry.RequestID = requestID.String

	if len(oldJSON) > 0 {
		if err := json.Unmarshal(oldJSON, &entry.OldValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal old values: %w", err)
		}
	}
	if len(newJSON) > 0 {
		if err := json.Unmarshal(newJSON, &entry.NewValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal new values: %w", err)
		}
	}
	return &entry, nil
}

// jsonColumn encodes v for a JSONB column; nil stays NULL. Strings are sent
// rather than []byte, which lib/pq would encode as bytea.
func jsonColumn(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
