package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("info", "text", &buf)
	if err != nil {
		t.Fatal(err)
	}

	logger.Info().Str("key", "value").Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected 'test message' in output, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected 'key=value' in output, got: %s", output)
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug", "json", &buf)
	if err != nil {
		t.Fatal(err)
	}

	logger.Debug().Str("job", "a").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["message"] != "hello" || entry["job"] != "a" || entry["level"] != "debug" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger("warn", "json", &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message written at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message missing")
	}
}

func TestNewLogger_Errors(t *testing.T) {
	if _, err := NewLogger("loud", "json", nil); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := NewLogger("info", "xml", nil); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger("info", "json", &buf)

	c := Component(&logger, "runner")
	c.Info().Msg("x")
	if !strings.Contains(buf.String(), `"component":"runner"`) {
		t.Errorf("component field missing: %s", buf.String())
	}

	nop := Component(nil, "runner")
	nop.Info().Msg("nothing")
}
