package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action names a user-initiated operation recorded in history and audit.
type Action string

const (
	ActionRequested   Action = "requested"
	ActionAccepted    Action = "accepted"
	ActionReturned    Action = "returned"
	ActionModified    Action = "modified"
	ActionDeleted     Action = "deleted"
	ActionFavorited   Action = "favorited"
	ActionUnfavorited Action = "unfavorited"
	ActionOrgCreated  Action = "organization_created"
	ActionMemberAdded Action = "member_added"
	ActionMemberMoved Action = "member_moved"
)

// Marker is the idempotency marker of one action instance.
// Retrying with the same marker never duplicates history, notifications or audit.
type Marker struct {
	FileName  string    `json:"file_name"`
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMarker builds a marker with the timestamp normalised to UTC.
func NewMarker(fileName string, action Action, ts time.Time) Marker {
	return Marker{FileName: fileName, Action: action, Timestamp: ts.UTC()}
}

// String renders the marker as a stable key.
func (m Marker) String() string {
	return fmt.Sprintf("%s|%s|%s", m.FileName, m.Action, m.Timestamp.UTC().Format(time.RFC3339Nano))
}

// DeriveID returns a deterministic UUIDv5 for the marker and the given parts.
func (m Marker) DeriveID(parts ...string) string {
	name := m.String()
	for _, p := range parts {
		name += "|" + p
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// HistoryEntry is one append-only record in a document's version history.
type HistoryEntry struct {
	Action       Action    `json:"action"`
	ActingUser   string    `json:"acting_user"`
	Organization string    `json:"organization"`
	Timestamp    time.Time `json:"timestamp"`
	Marker       string    `json:"marker"`
}

// DocumentHistory holds the ordered history of one (fileName, organization) pair.
type DocumentHistory struct {
	OrganizationID string         `json:"organization_id"`
	FileName       string         `json:"file_name"`
	History        []HistoryEntry `json:"history"`
}
