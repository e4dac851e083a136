package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-og/types"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARNING", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFileOutputWritesStackField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "engine.log")

	l, err := NewLogger(&types.LoggerConfig{Level: "debug", Format: "json", Output: "file", File: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.ErrorWithErrStack("pipeline failed", errors.New("boom"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"error":"boom"`) {
		t.Fatalf("log missing error field: %s", data)
	}
	if !strings.Contains(string(data), `"stack"`) {
		t.Fatalf("log missing stack field: %s", data)
	}
}

func TestFileOutputRequiresPath(t *testing.T) {
	if _, err := NewLogger(&types.LoggerConfig{Output: "file"}); err == nil {
		t.Fatal("expected error for file output without path")
	}
}
