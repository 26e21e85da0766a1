package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestInfoLogging(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Info("Test message: %s", "info")
	output := buf.String()

	if !strings.Contains(output, "Test message: info") {
		t.Errorf("Expected log to contain 'Test message: info', got: %s", output)
	}
}

func TestInfoTagged(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	InfoTagged([]string{"GoogleDrive", "test@example.com"}, "Test message")
	output := buf.String()

	if !strings.Contains(output, "[GoogleDrive][test@example.com]") {
		t.Errorf("Expected log to contain tags, got: %s", output)
	}
	if !strings.Contains(output, "Test message") {
		t.Errorf("Expected log to contain message, got: %s", output)
	}
}

func TestWarningPrefix(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	WarningTagged([]string{"Dropbox"}, "quota query failed")
	output := buf.String()

	if !strings.Contains(output, "WARNING: [Dropbox] quota query failed") {
		t.Errorf("Expected warning prefix and tags, got: %s", output)
	}
}

func TestDryRun(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	DryRun("Test action")
	output := buf.String()

	if !strings.Contains(output, "[DRY RUN]") {
		t.Errorf("Expected log to contain '[DRY RUN]', got: %s", output)
	}
}

func TestLogLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	// Set level to Error
	SetLevel(LogLevelError)

	// Info should not log
	Info("This should not appear")
	if buf.Len() > 0 {
		t.Error("Info logged when level was set to Error")
	}

	Error("This should appear")
	if !strings.Contains(buf.String(), "ERROR: This should appear") {
		t.Errorf("Expected error line, got: %s", buf.String())
	}

	// Reset to Info for other tests
	SetLevel(LogLevelInfo)
}

func TestMain(m *testing.M) {
	code := m.Run()
	SetOutput(os.Stdout)
	os.Exit(code)
}
