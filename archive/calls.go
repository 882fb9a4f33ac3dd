package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/expscope/internal/kit"
)

// maxParams bounds the request JSON kept per call. Scan requests may
// carry a whole HTML document.
const maxParams = 4 << 10

// CallEntry is one audited API call.
type CallEntry struct {
	ID         string          `json:"id"`
	At         time.Time       `json:"at"`
	Op         string          `json:"op"`
	Transport  string          `json:"transport"`
	TraceID    string          `json:"trace_id,omitempty"`
	Params     json.RawMessage `json:"params"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// LogCall appends c to the call log.
func (a *Archive) LogCall(ctx context.Context, c kit.Call) error {
	params, err := json.Marshal(c.Request)
	if err != nil || string(params) == "null" {
		params = []byte("{}")
	}
	if len(params) > maxParams {
		params = fmt.Appendf(nil, `{"truncated":true,"bytes":%d}`, len(params))
	}
	status, msg := "success", ""
	if c.Err != nil {
		status, msg = "error", c.Err.Error()
	}
	_, err = a.DB.ExecContext(ctx, `
		INSERT INTO call_log (id, at, op, transport, trace_id, params, status, error, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.newCallID(), time.Now().UnixMilli(), c.Op, c.Transport, c.TraceID,
		string(params), status, msg, c.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("archive: log call %s: %w", c.Op, err)
	}
	return nil
}

// Calls returns the most recent calls, newest first. Limit defaults to 100.
func (a *Archive) Calls(ctx context.Context, limit int) ([]CallEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.DB.QueryContext(ctx, `
		SELECT id, at, op, transport, trace_id, params, status, error, duration_ms
		FROM call_log ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: calls: %w", err)
	}
	defer rows.Close()

	out := []CallEntry{}
	for rows.Next() {
		var (
			e      CallEntry
			at     int64
			params string
		)
		if err := rows.Scan(&e.ID, &at, &e.Op, &e.Transport, &e.TraceID, &params, &e.Status, &e.Error, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("archive: calls: %w", err)
		}
		e.At = time.UnixMilli(at).UTC()
		e.Params = json.RawMessage(params)
		out = append(out, e)
	}
	return out, rows.Err()
}
