package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"testing"

	"github.com/unkn0wn-root/nodeflight"
)

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))}

	l.Warn("lock wait timed out", nodeflight.Fields{"key": "openid:svcA:access_token"})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["level"] != "WARN" || rec["msg"] != "lock wait timed out" || rec["key"] != "openid:svcA:access_token" {
		t.Fatalf("record = %v", rec)
	}
}
