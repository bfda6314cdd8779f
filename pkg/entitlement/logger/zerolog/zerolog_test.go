package zerolog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

func TestZerologLogger_NewLogger(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestZerologLogger_Levels(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Debug("debug message", entitlement.Field{Key: "key", Value: "value"})
	logger.Info("info message", entitlement.Field{Key: "key", Value: "value"})
	logger.Warn("warn message", entitlement.Field{Key: "key", Value: "value"})
	logger.Error("error message", entitlement.Field{Key: "key", Value: "value"})

	lines := strings.Count(strings.TrimSpace(output.String()), "\n") + 1
	if lines != 4 {
		t.Errorf("Expected 4 log lines, got %d", lines)
	}
}

func TestZerologLogger_LogLevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("debug message")
	logger.Info("info message")

	if output.Len() != 0 {
		t.Error("Expected debug and info to be filtered out")
	}

	logger.Warn("warn message")
	logger.Error("error message")

	if output.Len() == 0 {
		t.Error("Expected warn and error to be logged")
	}
}

func TestZerologLogger_Fields(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("profile patched",
		entitlement.Field{Key: "email", Value: "a@b.com"},
		entitlement.Field{Key: "credits", Value: 20},
	)

	got := output.String()
	if !strings.Contains(got, `"email":"a@b.com"`) {
		t.Errorf("Expected email field in output, got %s", got)
	}
	if !strings.Contains(got, `"credits":20`) {
		t.Errorf("Expected credits field in output, got %s", got)
	}
}
