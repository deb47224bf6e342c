package lifecycle

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"doccontrol/internal/apperr"
	"doccontrol/internal/model"
)

const maxFileNameLength = 255

// Transition is a validated request for one lifecycle operation.
// The set of implementations is closed: AcceptRequest, ReturnRequest,
// ModifyRequest and DeleteRequest.
type Transition interface {
	Action() model.Action
	Ref() model.DocumentRef
	// At is the caller's timestamp for the idempotency marker; zero means now.
	At() time.Time
	Validate() error

	transition()
}

// AcceptRequest moves a pending request into the organization's documents.
type AcceptRequest struct {
	OrganizationID string    `json:"organization_id"`
	FileName       string    `json:"file_name"`
	ReviewerNote   string    `json:"reviewer_note,omitempty"`
	RequestedAt    time.Time `json:"requested_at,omitempty"`
}

// ReturnRequest sends a pending request back to its requester with a note.
type ReturnRequest struct {
	OrganizationID string    `json:"organization_id"`
	FileName       string    `json:"file_name"`
	Note           string    `json:"note"`
	RequestedAt    time.Time `json:"requested_at,omitempty"`
}

// ModifyRequest replaces the editable fields of an active document.
type ModifyRequest struct {
	OrganizationID string                 `json:"organization_id"`
	FileName       string                 `json:"file_name"`
	Version        *model.DocumentVersion `json:"version"`
	RequestedAt    time.Time              `json:"requested_at,omitempty"`
}

// DeleteRequest marks an active document deleted.
type DeleteRequest struct {
	OrganizationID string    `json:"organization_id"`
	FileName       string    `json:"file_name"`
	RequestedAt    time.Time `json:"requested_at,omitempty"`
}

// SubmitRequest files a new document request. It creates the state the
// transitions start from and is therefore not a Transition itself.
type SubmitRequest struct {
	OrganizationID string      `json:"organization_id"`
	FileName       string      `json:"file_name"`
	Title          string      `json:"title"`
	Label          model.Label `json:"label"`
	Summary        string      `json:"summary"`
	FileType       string      `json:"file_type"`
	FileURL        string      `json:"file_url"`
	RequestedAt    time.Time   `json:"requested_at,omitempty"`
}

func (AcceptRequest) transition() {}
func (ReturnRequest) transition() {}
func (ModifyRequest) transition() {}
func (DeleteRequest) transition() {}

func (r AcceptRequest) Action() model.Action { return model.ActionAccepted }
func (r ReturnRequest) Action() model.Action { return model.ActionReturned }
func (r ModifyRequest) Action() model.Action { return model.ActionModified }
func (r DeleteRequest) Action() model.Action { return model.ActionDeleted }

func (r AcceptRequest) Ref() model.DocumentRef { return ref(r.OrganizationID, r.FileName) }
func (r ReturnRequest) Ref() model.DocumentRef { return ref(r.OrganizationID, r.FileName) }
func (r ModifyRequest) Ref() model.DocumentRef { return ref(r.OrganizationID, r.FileName) }
func (r DeleteRequest) Ref() model.DocumentRef { return ref(r.OrganizationID, r.FileName) }

func (r AcceptRequest) At() time.Time { return r.RequestedAt }
func (r ReturnRequest) At() time.Time { return r.RequestedAt }
func (r ModifyRequest) At() time.Time { return r.RequestedAt }
func (r DeleteRequest) At() time.Time { return r.RequestedAt }

func ref(orgID, fileName string) model.DocumentRef {
	return model.DocumentRef{OrganizationID: orgID, FileName: fileName}
}

func (r AcceptRequest) Validate() error {
	return wrap("invalid accept request", validation.ValidateStruct(&r,
		validation.Field(&r.OrganizationID, validation.Required),
		validation.Field(&r.FileName, validation.Required, validation.Length(1, maxFileNameLength)),
		validation.Field(&r.ReviewerNote, validation.Length(0, 2000)),
	))
}

func (r ReturnRequest) Validate() error {
	return wrap("invalid return request", validation.ValidateStruct(&r,
		validation.Field(&r.OrganizationID, validation.Required),
		validation.Field(&r.FileName, validation.Required, validation.Length(1, maxFileNameLength)),
		validation.Field(&r.Note, validation.Required, validation.Length(1, 2000)),
	))
}

func (r ModifyRequest) Validate() error {
	return wrap("invalid modify request", validation.ValidateStruct(&r,
		validation.Field(&r.OrganizationID, validation.Required),
		validation.Field(&r.FileName, validation.Required, validation.Length(1, maxFileNameLength)),
		validation.Field(&r.Version, validation.NotNil, validation.By(validVersion)),
	))
}

func (r DeleteRequest) Validate() error {
	return wrap("invalid delete request", validation.ValidateStruct(&r,
		validation.Field(&r.OrganizationID, validation.Required),
		validation.Field(&r.FileName, validation.Required, validation.Length(1, maxFileNameLength)),
	))
}

func (r SubmitRequest) Validate() error {
	return wrap("invalid document request", validation.ValidateStruct(&r,
		validation.Field(&r.OrganizationID, validation.Required),
		validation.Field(&r.FileName, validation.Required, validation.Length(1, maxFileNameLength)),
		validation.Field(&r.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Label, validation.Required, validation.By(validLabel)),
		validation.Field(&r.FileType, validation.Required),
	))
}

func validVersion(value any) error {
	v, _ := value.(*model.DocumentVersion)
	if v == nil || v.Empty() {
		return errors.New("must not be empty")
	}
	if len(v.Title) > 200 {
		return errors.New("title must be at most 200 characters")
	}
	if v.Label != "" && !v.Label.Valid() {
		return errors.New("label is not recognised")
	}
	return nil
}

func validLabel(value any) error {
	l, _ := value.(model.Label)
	if l != "" && !l.Valid() {
		return errors.New("is not a recognised label")
	}
	return nil
}

func wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Validation(msg, err)
}
