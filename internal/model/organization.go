package model

import "time"

// Organization owns a roster of members and a set of documents.
// A user belongs to at most one organization at a time.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Members     []string  `json:"members"`
	Docs        []string  `json:"docs"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasMember reports whether userID is on the roster.
func (o Organization) HasMember(userID string) bool {
	for _, m := range o.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Actor is the explicit identity of the user performing an operation.
type Actor struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Name returns the display name, falling back to the user id.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.UserID
}
