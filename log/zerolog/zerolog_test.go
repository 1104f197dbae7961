package zerolog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/unkn0wn-root/nodeflight"
)

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: zerolog.New(&buf).Level(zerolog.InfoLevel)}

	l.Debug("filtered", nodeflight.Fields{"key": "x"})
	if buf.Len() != 0 {
		t.Fatalf("debug must be filtered at info level: %s", buf.String())
	}

	l.Error("open connection failed", nodeflight.Fields{"router": "lms", "mode": "write"})
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["level"] != "error" || rec["message"] != "open connection failed" || rec["router"] != "lms" {
		t.Fatalf("record = %v", rec)
	}
}
