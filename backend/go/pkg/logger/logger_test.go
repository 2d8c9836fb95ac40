package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"LegisGraph/backend/go/internal/models"

	"github.com/sirupsen/logrus"
)

func TestDerivedLoggersDoNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput(logrus.DebugLevel, &buf)
	defer Init(logrus.InfoLevel)

	base := New("kg-test", "trace-1", "")
	base.WithError(models.ErrorInfo{Message: "boom"}).Error("first")
	base.Info("second")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	var first, second map[string]interface{}
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("first line is not JSON: %v", err)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("second line is not JSON: %v", err)
	}
	if _, ok := first["error"]; !ok {
		t.Errorf("expected error field on first line")
	}
	if _, ok := second["error"]; ok {
		t.Errorf("error field leaked into the base logger")
	}
	if second["message"] != "second" || second["service_name"] != "kg-test" {
		t.Errorf("unexpected second line: %v", second)
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if ParseLevel("debug") != logrus.DebugLevel {
		t.Errorf("expected debug level")
	}
	if ParseLevel("loud") != logrus.InfoLevel {
		t.Errorf("expected info fallback")
	}
}
