package logging

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestAuditRecordsEvents(t *testing.T) {
	audit, err := OpenAudit(t.TempDir())
	if err != nil {
		t.Fatalf("OpenAudit failed: %v", err)
	}
	defer audit.Close()

	audit.UserEvent(AuditUserLogin, "ivanov", true)
	audit.DocumentEvent(AuditDocCreate, "ivanov", 7, "АБВГ.301241.001")
	audit.AdminEvent(AuditUserDelete, "admin", "ivanov")

	data, err := os.ReadFile(audit.Path())
	if err != nil {
		t.Fatalf("reading audit file failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected header plus 3 events, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "#") {
		t.Errorf("Expected a header comment, got %q", lines[0])
	}

	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[2]), &ev); err != nil {
		t.Fatalf("event line is not valid JSON: %v", err)
	}
	if ev.EventType != AuditDocCreate {
		t.Errorf("Expected doc_create, got %s", ev.EventType)
	}
	if ev.Target != "doc:7" {
		t.Errorf("Expected target doc:7, got %q", ev.Target)
	}
	if ev.Detail != "АБВГ.301241.001" {
		t.Errorf("Expected designation detail, got %q", ev.Detail)
	}
	if ev.Timestamp == 0 {
		t.Error("Expected a timestamp to be filled in")
	}
}

func TestAuditAppendsAcrossOpens(t *testing.T) {
	dir := t.TempDir()

	first, err := OpenAudit(dir)
	if err != nil {
		t.Fatalf("OpenAudit failed: %v", err)
	}
	first.UserEvent(AuditUserLogin, "ivanov", true)
	path := first.Path()
	first.Close()

	second, err := OpenAudit(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()
	if second.Path() != path {
		t.Fatalf("Expected the same daily file, got %q and %q", path, second.Path())
	}
	second.UserEvent(AuditUserLogout, "ivanov", true)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit file failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Errorf("Expected header plus 2 events after reopen, got %d lines", len(lines))
	}
	if strings.Count(string(data), "#") != 1 {
		t.Error("Header should be written only once per file")
	}
}

func TestAuditNilIsSafe(t *testing.T) {
	var audit *AuditLog

	audit.UserEvent(AuditUserLogin, "ivanov", true)
	audit.DocumentEvent(AuditDocDelete, "admin", 1, "")
	if audit.Path() != "" {
		t.Error("nil audit log should have no path")
	}
	if err := audit.Close(); err != nil {
		t.Errorf("nil Close should be a no-op, got %v", err)
	}
}

func TestAuditRecordAfterClose(t *testing.T) {
	audit, err := OpenAudit(t.TempDir())
	if err != nil {
		t.Fatalf("OpenAudit failed: %v", err)
	}
	audit.Close()

	// Must not panic.
	audit.UserEvent(AuditUserLogin, "ivanov", false)
}
