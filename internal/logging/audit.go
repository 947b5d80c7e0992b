package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names a registry operation worth a trail entry.
type AuditEventType string

const (
	// Account events
	AuditUserRegister AuditEventType = "user_register"
	AuditUserLogin    AuditEventType = "user_login"
	AuditUserLogout   AuditEventType = "user_logout"
	AuditUserUpdate   AuditEventType = "user_update"
	AuditUserDelete   AuditEventType = "user_delete"

	// Registry card events
	AuditDocCreate AuditEventType = "doc_create"
	AuditDocUpdate AuditEventType = "doc_update"
	AuditDocDelete AuditEventType = "doc_delete"

	// Stored file events
	AuditFileUpload   AuditEventType = "file_upload"
	AuditFileDownload AuditEventType = "file_download"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Timestamp int64          `json:"ts"` // Unix milliseconds
	EventType AuditEventType `json:"event"`
	Actor     string         `json:"actor,omitempty"`  // login of the acting user
	Target    string         `json:"target,omitempty"` // document id, designation or login acted on
	Success   bool           `json:"success"`
	Detail    string         `json:"detail,omitempty"`
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditLog appends registry events to a daily JSON lines file. A nil
// *AuditLog is valid and records nothing, so callers never guard.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenAudit opens (or creates) today's audit file under dir.
func OpenAudit(dir string) (*AuditLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	info, err := file.Stat()
	if err == nil && info.Size() == 0 {
		header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
		file.WriteString(header)
	}

	return &AuditLog{file: file, path: path}, nil
}

// Path returns the file the trail is written to.
func (a *AuditLog) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Record appends one event. Marshal or write failures are swallowed; the
// audit trail must never take the registry down.
func (a *AuditLog) Record(event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	a.file.Write(append(data, '\n'))
}

// UserEvent records an account operation.
func (a *AuditLog) UserEvent(t AuditEventType, actor string, success bool) {
	a.Record(AuditEvent{EventType: t, Actor: actor, Success: success})
}

// DocumentEvent records an operation on a registry card.
func (a *AuditLog) DocumentEvent(t AuditEventType, actor string, docID int64, detail string) {
	a.Record(AuditEvent{
		EventType: t,
		Actor:     actor,
		Target:    fmt.Sprintf("doc:%d", docID),
		Success:   true,
		Detail:    detail,
	})
}

// AdminEvent records an operation one account performed on another.
func (a *AuditLog) AdminEvent(t AuditEventType, actor, target string) {
	a.Record(AuditEvent{EventType: t, Actor: actor, Target: target, Success: true})
}

// Close closes the audit file.
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
