package model

import "time"

// Label classifies a document.
type Label string

const (
	LabelReport       Label = "report"
	LabelInvoice      Label = "invoice"
	LabelContract     Label = "contract"
	LabelPresentation Label = "presentation"
	LabelMemo         Label = "memo"
)

// Labels lists every accepted label.
var Labels = []Label{LabelReport, LabelInvoice, LabelContract, LabelPresentation, LabelMemo}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a document.
//
// Pending and returned documents live in the organization's request queue;
// active and deleted documents live in its document collection.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusActive   Status = "active"
	StatusReturned Status = "returned"
	StatusDeleted  Status = "deleted"
)

// DocumentRef identifies a document inside its organization.
// FileName is human-assigned and only unique within the organization.
type DocumentRef struct {
	OrganizationID string `json:"organization_id"`
	FileName       string `json:"file_name"`
}

// Document is a controlled document, either as a request or as an accepted record.
// This is a pure domain model; stores persist it as JSON.
type Document struct {
	OrganizationID string    `json:"organization_id"`
	FileName       string    `json:"file_name"`
	Title          string    `json:"title"`
	Label          Label     `json:"label"`
	Summary        string    `json:"summary"`
	FileType       string    `json:"file_type"`
	FileURL        string    `json:"file_url"`
	Status         Status    `json:"status"`
	RequestedBy    string    `json:"requested_by"`
	ReviewNote     string    `json:"review_note,omitempty"`
	FavoritedBy    []string  `json:"favorited_by"`
	Revision       int       `json:"revision"`
	LastChange     string    `json:"last_change,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Ref returns the document's (organization, fileName) identity.
func (d Document) Ref() DocumentRef {
	return DocumentRef{OrganizationID: d.OrganizationID, FileName: d.FileName}
}

// IsFavoritedBy reports whether userID is in the favorite set.
func (d Document) IsFavoritedBy(userID string) bool {
	for _, u := range d.FavoritedBy {
		if u == userID {
			return true
		}
	}
	return false
}

// DocumentVersion is the editable part of a document replaced by a modification.
type DocumentVersion struct {
	Title   string `json:"title"`
	Label   Label  `json:"label"`
	Summary string `json:"summary"`
}

// Empty reports whether no field of the version is set.
func (v DocumentVersion) Empty() bool {
	return v.Title == "" && v.Label == "" && v.Summary == ""
}
