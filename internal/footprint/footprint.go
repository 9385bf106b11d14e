// Package footprint models captured request/response records and derives
// stable fingerprints for error deduplication.
package footprint

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Frame is one entry of a captured stack trace.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
	Code     string `json:"code,omitempty"`
}

// Footprint is one captured request/response cycle. It is immutable once
// captured; the pipeline only reads it.
type Footprint struct {
	ID            string          `json:"id"`
	RequestID     string          `json:"requestId"`
	RequestUser   string          `json:"requestUser"`
	RequestPath   string          `json:"requestPath"`
	RequestMethod string          `json:"requestMethod"`
	RequestBody   json.RawMessage `json:"requestBody,omitempty"`
	ResponseBody  json.RawMessage `json:"responseBody,omitempty"`
	ResponseTime  float64         `json:"responseTime"` // milliseconds
	StatusCode    int             `json:"statusCode"`
	ExceptionName string          `json:"exceptionName,omitempty"`
	StackTrace    []Frame         `json:"stackTrace,omitempty"`
	SystemLogs    []string        `json:"systemLogs,omitempty"`
	IPAddress     string          `json:"ipAddress,omitempty"`
	UserAgent     string          `json:"userAgent,omitempty"`
	DBQueryCount  int             `json:"dbQueryCount"`
	IncidenceID   int64           `json:"incidenceId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// IsError reports whether the footprint records an error condition that
// warrants incidence tracking.
func (f *Footprint) IsError() bool {
	return f.StatusCode >= 400
}

// IsServerFault reports whether the footprint qualifies for the issue
// publication phase.
func (f *Footprint) IsServerFault() bool {
	return f.StatusCode >= 500
}

// Title derives the human summary used for a new incidence.
func (f *Footprint) Title() string {
	if f.ExceptionName != "" {
		return fmt.Sprintf("%s at %s", f.ExceptionName, f.RequestPath)
	}
	return fmt.Sprintf("Error %d at %s", f.StatusCode, f.RequestPath)
}

// FormatStackTrace flattens the captured frames into a display string.
func (f *Footprint) FormatStackTrace() string {
	if len(f.StackTrace) == 0 {
		return "No stack trace available."
	}
	lines := make([]string, 0, len(f.StackTrace))
	for _, frame := range f.StackTrace {
		lines = append(lines, fmt.Sprintf("%s:%d in %s\n    %s",
			frame.File, frame.Line, frame.Function, strings.TrimSpace(frame.Code)))
	}
	return strings.Join(lines, "\n")
}

// FromPayload builds a Footprint from the raw capture payload, applying the
// documented defaults for missing optional keys.
func FromPayload(payload map[string]any) *Footprint {
	fp := &Footprint{
		ID:            ulid.Make().String(),
		RequestUser:   "anonymous",
		ResponseTime:  0.0,
		StatusCode:    200,
		RequestMethod: "get",
		CreatedAt:     time.Now().UTC(),
	}

	if v, ok := stringValue(payload, "request_id"); ok {
		fp.RequestID = v
	} else {
		fp.RequestID = uuid.NewString()
	}
	if v, ok := stringValue(payload, "request_user"); ok {
		fp.RequestUser = v
	}
	if v, ok := stringValue(payload, "request_path"); ok {
		fp.RequestPath = v
	}
	if v, ok := stringValue(payload, "request_method"); ok {
		fp.RequestMethod = strings.ToLower(v)
	}
	if v, ok := numberValue(payload, "response_time"); ok {
		fp.ResponseTime = v
	}
	if v, ok := numberValue(payload, "status_code"); ok {
		fp.StatusCode = int(v)
	}
	if v, ok := stringValue(payload, "exception_name"); ok {
		fp.ExceptionName = v
	}
	if v, ok := stringValue(payload, "ip_address"); ok {
		fp.IPAddress = v
	}
	if v, ok := stringValue(payload, "user_agent"); ok {
		fp.UserAgent = v
	}
	if v, ok := numberValue(payload, "db_query_count"); ok {
		fp.DBQueryCount = int(v)
	}
	if v, ok := payload["request_body"]; ok {
		fp.RequestBody = marshalRaw(v)
	}
	if v, ok := payload["response_body"]; ok {
		fp.ResponseBody = marshalRaw(v)
	}
	if v, ok := payload["system_logs"]; ok {
		fp.SystemLogs = stringSlice(v)
	}
	if v, ok := payload["stack_trace"]; ok {
		fp.StackTrace = frameSlice(v)
	}

	return fp
}

func stringValue(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func numberValue(payload map[string]any, key string) (float64, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func marshalRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{vals}
	}
	return nil
}

func frameSlice(v any) []Frame {
	switch frames := v.(type) {
	case []Frame:
		return frames
	case []any:
		out := make([]Frame, 0, len(frames))
		for _, item := range frames {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			frame := Frame{}
			if s, ok := entry["file"].(string); ok {
				frame.File = s
			}
			if n, ok := entry["line"].(float64); ok {
				frame.Line = int(n)
			} else if n, ok := entry["line"].(int); ok {
				frame.Line = n
			}
			if s, ok := entry["function"].(string); ok {
				frame.Function = s
			}
			if s, ok := entry["code"].(string); ok {
				frame.Code = s
			}
			out = append(out, frame)
		}
		return out
	}
	return nil
}
