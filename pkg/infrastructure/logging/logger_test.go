package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(level LogLevel, format LogFormat) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewLogger(&Config{
		Level:            level,
		Format:           format,
		Output:           buf,
		EnableSanitizing: true,
	}), buf
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"WARN", WarnLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(WarnLevel, TextFormat)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("messages below the level should be dropped, got %q", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("warn message missing from output: %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(InfoLevel, JSONFormat)

	logger.Info("structured entry", map[string]interface{}{
		"verdict": "v-123",
	})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Message != "structured entry" {
		t.Errorf("unexpected message: %q", entry.Message)
	}
	if entry.Level != "INFO" {
		t.Errorf("unexpected level: %q", entry.Level)
	}
	if entry.Fields["verdict"] != "v-123" {
		t.Errorf("field missing: %+v", entry.Fields)
	}
}

func TestComponentField(t *testing.T) {
	logger, buf := newBufferLogger(InfoLevel, JSONFormat)
	logger = logger.WithComponent("matcher")

	logger.Info("component entry")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Fields["component"] != "matcher" {
		t.Errorf("component field missing: %+v", entry.Fields)
	}
}

func TestSensitiveFieldsRedacted(t *testing.T) {
	logger, buf := newBufferLogger(InfoLevel, JSONFormat)

	logger.Info("connecting", map[string]interface{}{
		"connection_string": "postgres://user:hunter2@db/audit",
		"host":              "db.internal",
	})

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked into log output: %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output: %q", out)
	}
	if !strings.Contains(out, "db.internal") {
		t.Errorf("non-sensitive field should survive: %q", out)
	}
}

func TestInlineSecretsRedacted(t *testing.T) {
	logger, buf := newBufferLogger(InfoLevel, TextFormat)

	logger.Info("submission text mentions password=swordfish in passing")

	out := buf.String()
	if strings.Contains(out, "swordfish") {
		t.Errorf("inline secret leaked: %q", out)
	}
	if !strings.Contains(out, "password=[REDACTED]") {
		t.Errorf("expected inline redaction: %q", out)
	}
}

func TestIsEnabled(t *testing.T) {
	logger, _ := newBufferLogger(WarnLevel, TextFormat)

	if logger.IsEnabled(DebugLevel) {
		t.Error("debug should be disabled at warn level")
	}
	if !logger.IsEnabled(ErrorLevel) {
		t.Error("error should be enabled at warn level")
	}

	logger.SetLevel(DebugLevel)
	if !logger.IsEnabled(DebugLevel) {
		t.Error("debug should be enabled after SetLevel")
	}
}
