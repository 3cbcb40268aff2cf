package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/launch-control/lcc/internal/auth"
	"github.com/launch-control/lcc/internal/config"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/supervisor"
)

// captureWriter collects written bytes; Close is a no-op.
type captureWriter struct {
	buf bytes.Buffer
}

func (c *captureWriter) Write(p []byte) (int, error) { return c.buf.Write(p) }
func (c *captureWriter) Close() error                { return nil }

func lastEntry(t *testing.T, c *captureWriter) Entry {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(c.buf.String()), "\n")
	var e Entry
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &e); err != nil {
		t.Fatalf("audit line is not valid JSON: %v\n%s", err, lines[len(lines)-1])
	}
	return e
}

func TestLogActionSuccess(t *testing.T) {
	w := &captureWriter{}
	l := NewLoggerWithWriter(w)

	ctx := auth.ContextWithClaims(context.Background(), &auth.Claims{Subject: "operator-7"})
	l.LogAction(ctx, "mission.start", "m-1", map[string]interface{}{"vehicleId": "v1"}, nil, 12*time.Millisecond)

	e := lastEntry(t, w)
	if e.User != "operator-7" {
		t.Errorf("user = %q", e.User)
	}
	if e.Action != "mission.start" || e.MissionID != "m-1" {
		t.Errorf("action/mission = %q/%q", e.Action, e.MissionID)
	}
	if e.Outcome != "success" || e.Code != "SUCCESS" {
		t.Errorf("outcome = %s/%s", e.Outcome, e.Code)
	}
	if e.LatencyMs != 12 {
		t.Errorf("latency = %d", e.LatencyMs)
	}
	if e.Params["vehicleId"] != "v1" {
		t.Errorf("params = %v", e.Params)
	}
}

func TestLogActionAnonymousWithoutClaims(t *testing.T) {
	w := &captureWriter{}
	l := NewLoggerWithWriter(w)

	l.LogAction(context.Background(), "mission.abort", "m-1", nil, nil, 0)

	if e := lastEntry(t, w); e.User != "anonymous" {
		t.Errorf("user = %q, want anonymous", e.User)
	}
}

func TestLogActionErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{supervisor.ErrVehicleBusy, "VEHICLE_BUSY"},
		{fmt.Errorf("wrap: %w", supervisor.ErrMissionTerminal), "MISSION_TERMINAL"},
		{eventlog.ErrMissionNotFound, "NOT_FOUND"},
		{eventlog.ErrPersistenceUnavailable, "PERSISTENCE_UNAVAILABLE"},
		{fmt.Errorf("something else"), "ERROR"},
	}
	for _, tt := range tests {
		w := &captureWriter{}
		l := NewLoggerWithWriter(w)
		l.LogAction(context.Background(), "mission.start", "m-1", nil, tt.err, 0)

		e := lastEntry(t, w)
		if e.Outcome != "error" || e.Code != tt.code {
			t.Errorf("%v: outcome=%s code=%s, want error/%s", tt.err, e.Outcome, e.Code, tt.code)
		}
	}
}

func TestWriteAfterCloseIsDropped(t *testing.T) {
	w := &captureWriter{}
	l := NewLoggerWithWriter(w)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	l.LogAction(context.Background(), "mission.start", "m-1", nil, nil, 0)
	if w.buf.Len() != 0 {
		t.Error("entry written after Close")
	}
}

func TestNewLoggerCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := NewLogger(config.AuditConfig{Dir: dir, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	l.LogAction(context.Background(), "mission.start", "m-1", nil, nil, 0)

	data, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("audit file not written: %v", err)
	}
	if !strings.Contains(string(data), `"mission.start"`) {
		t.Errorf("audit file content: %s", data)
	}
}
