package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Export encodes entries in the given format
func Export(entries []*Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON, "":
		return exportJSON(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	case ExportFormatCSV:
		return exportCSV(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// exportJSON exports audit entries as a JSON array
func exportJSON(entries []*Entry) ([]byte, error) {
	if entries == nil {
		entries = []*Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports audit entries as newline-delimited JSON
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

var csvHeader = []string{
	"ID",
	"Timestamp",
	"UserID",
	"Action",
	"ResourceType",
	"ResourceID",
	"OldValues",
	"NewValues",
	"IPAddress",
	"UserAgent",
	"Method",
	"Path",
	"ResponseStatus",
	"ExecutionTimeMs",
	"SessionKey",
	"RequestID",
}

// exportCSV exports audit entries as CSV; old and new values are JSON cells
func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		oldValues, err := jsonCell(entry.OldValues)
		if err != nil {
			return nil, err
		}
		newValues, err := jsonCell(entry.NewValues)
		if err != nil {
			return nil, err
		}

		row := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.Timestamp.UTC().Format(time.RFC3339),
			formatInt64Ptr(entry.UserID),
			entry.Action,
			entry.ResourceType,
			entry.ResourceID,
			oldValues,
			newValues,
			entry.IPAddress,
			entry.UserAgent,
			entry.Method,
			entry.Path,
			strconv.Itoa(entry.ResponseStatus),
			strconv.FormatFloat(durationMillis(entry.ExecutionTime), 'f', 3, 64),
			entry.SessionKey,
			entry.RequestID,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func jsonCell(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode values: %w", err)
	}
	return string(data), nil
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}
