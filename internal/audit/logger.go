package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/launch-control/lcc/internal/auth"
	"github.com/launch-control/lcc/internal/config"
	"github.com/launch-control/lcc/internal/dispatch"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/plan"
	"github.com/launch-control/lcc/internal/supervisor"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	User      string                 `json:"user"`
	MissionID string                 `json:"missionId"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
	LatencyMs int64                  `json:"latencyMs"`
}

// Logger writes append-only audit records as JSON lines.
type Logger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewLogger creates an audit logger writing to audit.jsonl under cfg.Dir,
// rotated by lumberjack per the configured limits.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &Logger{
		w: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "audit.jsonl"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		},
	}, nil
}

// NewLoggerWithWriter creates a logger on an arbitrary writer. Used by
// tests to capture records without touching the filesystem.
func NewLoggerWithWriter(w io.WriteCloser) *Logger {
	return &Logger{w: w}
}

// LogAction records one mission action. The acting user comes from the
// request context's verified claims; err determines outcome and code.
func (l *Logger) LogAction(ctx context.Context, action, missionID string, params map[string]interface{}, err error, latency time.Duration) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		User:      userFrom(ctx),
		MissionID: missionID,
		Action:    action,
		Params:    params,
		Outcome:   "success",
		Code:      "SUCCESS",
		LatencyMs: latency.Milliseconds(),
	}
	if err != nil {
		entry.Outcome = "error"
		entry.Code = codeFrom(err)
	}
	l.write(entry)
}

// Close flushes and closes the underlying writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}

func (l *Logger) write(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: marshal entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write entry: %v\n", err)
	}
}

// userFrom extracts the authenticated subject, or "anonymous" when the API
// runs without auth.
func userFrom(ctx context.Context) string {
	if claims := auth.ClaimsFromContext(ctx); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}

// codeFrom maps domain errors to stable audit codes.
func codeFrom(err error) string {
	switch {
	case errors.Is(err, supervisor.ErrVehicleBusy):
		return "VEHICLE_BUSY"
	case errors.Is(err, supervisor.ErrVehicleNotFound):
		return "VEHICLE_NOT_FOUND"
	case errors.Is(err, supervisor.ErrMissionTerminal):
		return "MISSION_TERMINAL"
	case errors.Is(err, supervisor.ErrMissionRunning):
		return "MISSION_RUNNING"
	case errors.Is(err, eventlog.ErrMissionNotFound):
		return "NOT_FOUND"
	case errors.Is(err, eventlog.ErrPersistenceUnavailable):
		return "PERSISTENCE_UNAVAILABLE"
	case errors.Is(err, plan.ErrInvalidPlan):
		return "INVALID_PLAN"
	case errors.Is(err, dispatch.ErrCommandFailed):
		return "COMMAND_FAILED"
	default:
		return "ERROR"
	}
}
