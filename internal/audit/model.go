// Package audit provides a tamper-evident audit trail for governance
// actions: policy activations and optimizer triggers. Entries form a
// hash chain so after-the-fact edits are detectable.
package audit

import (
	"time"
)

// Outcome values for audit entries.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditLog represents a single recorded governance action.
type AuditLog struct {
	ID         string
	UserID     string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string
	CreatedAt  time.Time

	// Optional metadata
	RequestID string
	IPAddress string
	UserAgent string

	// PreviousHash is the SHA-256 hash of the previous entry, chaining
	// entries for tamper detection. Empty on the first entry.
	PreviousHash string
}

// LogEntry represents the input for creating an audit log entry.
type LogEntry struct {
	UserID     string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string

	// Optional metadata
	RequestID string
	IPAddress string
	UserAgent string
}
