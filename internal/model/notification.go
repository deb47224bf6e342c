package model

import "time"

// Notification is an inbox item owned by exactly one recipient.
// Only Read changes after creation.
type Notification struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	Document  DocumentRef `json:"document"`
	Action    Action      `json:"action"`
	Read      bool        `json:"read"`
	CreatedAt time.Time   `json:"created_at"`
}

// AuditEntry is a global, immutable record of a completed user action.
type AuditEntry struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Action    Action    `json:"action"`
	Result    string    `json:"result"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
}

// Audit results.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
)
