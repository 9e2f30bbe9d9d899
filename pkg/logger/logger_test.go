package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevelAndService(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, Config{Service: "orders"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("level = %s, want info", logger.GetLevel())
	}

	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %s", buf.String())
	}

	logger.Info().Str("call_id", "c1").Msg("call started")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}
	if line["service"] != "orders" || line["call_id"] != "c1" || line["message"] != "call started" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if _, ok := line["caller"]; !ok {
		t.Fatal("caller field missing")
	}
}

func TestNewDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, Config{Debug: true})
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %s, want debug", logger.GetLevel())
	}
	logger.Debug().Msg("visible")
	if buf.Len() == 0 {
		t.Fatal("debug line not written")
	}
}
