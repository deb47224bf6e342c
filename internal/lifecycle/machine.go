// Package lifecycle applies document state transitions and their side effects
// (history, notifications, audit) as one logical operation over a store that
// only guarantees per-record atomicity.
//
// States: Requested -> {Accepted, Returned}; Accepted -> Active;
// Active -> {Modified, Deleted}. Deleted is terminal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"doccontrol/internal/apperr"
	"doccontrol/internal/audit"
	"doccontrol/internal/model"
	"doccontrol/internal/notify"
	"doccontrol/internal/repository"
	"doccontrol/internal/retry"
)

const (
	fieldDocs        = "docs"
	fieldFavoritedBy = "favorited_by"
	tracerName       = "doccontrol/lifecycle"
)

// Machine validates transition requests, re-reads the current state and plans
// the side effects the Coordinator applies.
type Machine struct {
	store  repository.EntityStore
	coord  *Coordinator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the clock used for markers when a request carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithRetryPolicy bounds retries of the history step.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Machine) { m.coord.policy = p }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Machine) { m.coord.metrics = metrics }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Machine) { m.coord.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l == nil {
			return
		}
		m.logger = l
		m.coord.logger = l
	}
}

// New creates a Machine writing through store and fanning out through dispatcher.
func New(store repository.EntityStore, dispatcher *notify.Dispatcher, recorder *audit.Recorder, opts ...Option) *Machine {
	m := &Machine{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
		coord: &Coordinator{
			store:      store,
			dispatcher: dispatcher,
			recorder:   recorder,
			policy:     retry.DefaultPolicy,
			tracer:     otel.Tracer(tracerName),
			logger:     slog.Default(),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply dispatches a transition to its operation.
func (m *Machine) Apply(ctx context.Context, actor model.Actor, t Transition) (*Outcome, error) {
	switch req := t.(type) {
	case AcceptRequest:
		return m.Accept(ctx, actor, req)
	case ReturnRequest:
		return m.Return(ctx, actor, req)
	case ModifyRequest:
		return m.Modify(ctx, actor, req)
	case DeleteRequest:
		return m.Delete(ctx, actor, req)
	case nil:
		return nil, apperr.Validation("transition is required", nil)
	default:
		return nil, apperr.Validation(fmt.Sprintf("unsupported transition %T", t), nil)
	}
}

// Submit files a pending request. The fileName must be unused in the
// organization, by requests and documents alike, including deleted ones.
func (m *Machine) Submit(ctx context.Context, actor model.Actor, req SubmitRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	org, err := m.organization(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !org.HasMember(actor.UserID) {
		return nil, apperr.Validation(fmt.Sprintf("user %s is not a member of organization %s", actor.UserID, org.ID), nil)
	}

	r := ref(req.OrganizationID, req.FileName)
	key := repository.DocumentKey(r)
	conflict := &apperr.ConflictError{
		Resource: "document",
		Key:      req.FileName,
		Message:  fmt.Sprintf("file name %q is already used in organization %s", req.FileName, req.OrganizationID),
	}

	var existing model.Document
	switch err := m.store.Get(ctx, repository.Documents, key, &existing); {
	case err == nil:
		return nil, conflict
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	marker := model.NewMarker(req.FileName, model.ActionRequested, m.at(req.RequestedAt))
	doc := model.Document{
		OrganizationID: req.OrganizationID,
		FileName:       req.FileName,
		Title:          req.Title,
		Label:          req.Label,
		Summary:        req.Summary,
		FileType:       req.FileType,
		FileURL:        req.FileURL,
		Status:         model.StatusPending,
		RequestedBy:    actor.UserID,
		FavoritedBy:    []string{},
		Revision:       1,
		LastChange:     marker.String(),
		CreatedAt:      marker.Timestamp,
		UpdatedAt:      marker.Timestamp,
	}

	// The claim is written with the request and never released, so the name
	// stays taken even if an Accept lands after the lookup above.
	claim := nameClaim{
		OrganizationID: req.OrganizationID,
		FileName:       req.FileName,
		ClaimedBy:      actor.UserID,
		Marker:         marker.String(),
		ClaimedAt:      marker.Timestamp,
	}

	return m.coord.Execute(ctx, Plan{
		Action: model.ActionRequested,
		Actor:  actor,
		Marker: marker,
		Ref:    r,
		Ops: []repository.Op{
			{Kind: repository.OpCreate, Collection: repository.FileNames, Key: key, Record: claim},
			{Kind: repository.OpCreate, Collection: repository.DocumentRequests, Key: key, Record: doc},
		},
		Rollback: []repository.Op{
			{Kind: repository.OpDelete, Collection: repository.FileNames, Key: key},
		},
		Conflict: conflict,
		Document: doc,
		Audit:    auditEntry(actor, marker, repository.DocumentRequests, key),
	})
}

// nameClaim reserves a fileName inside an organization.
type nameClaim struct {
	OrganizationID string    `json:"organization_id"`
	FileName       string    `json:"file_name"`
	ClaimedBy      string    `json:"claimed_by"`
	Marker         string    `json:"marker"`
	ClaimedAt      time.Time `json:"claimed_at"`
}

// Accept moves a pending request into the organization's documents as active
// and seeds its history. Losing a race to another reviewer yields an
// AlreadyTransitionedError, which also matches apperr.ErrNotFound.
func (m *Machine) Accept(ctx context.Context, actor model.Actor, req AcceptRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	r := req.Ref()
	key := repository.DocumentKey(r)
	marker := model.NewMarker(req.FileName, model.ActionAccepted, m.at(req.RequestedAt))

	var pending model.Document
	err := m.store.Get(ctx, repository.DocumentRequests, key, &pending)
	if errors.Is(err, repository.ErrNotFound) {
		if doc, ok := m.committed(ctx, repository.Documents, key, marker); ok {
			return m.coord.Execute(ctx, m.acceptPlan(actor, marker, doc, doc, true))
		}
		return nil, &apperr.NotFoundError{Resource: "request", Key: req.FileName}
	}
	if err != nil {
		return nil, err
	}
	if pending.Status != model.StatusPending {
		return nil, &apperr.AlreadyTransitionedError{Resource: "request", Key: req.FileName, Status: string(pending.Status)}
	}
	if err := requireFields(pending); err != nil {
		return nil, err
	}
	if _, err := m.organization(ctx, req.OrganizationID); err != nil {
		return nil, err
	}

	doc := pending
	doc.Status = model.StatusActive
	doc.ReviewNote = req.ReviewerNote
	doc.Revision = pending.Revision + 1
	doc.LastChange = marker.String()
	doc.UpdatedAt = marker.Timestamp
	if doc.FavoritedBy == nil {
		doc.FavoritedBy = []string{}
	}

	return m.coord.Execute(ctx, m.acceptPlan(actor, marker, pending, doc, false))
}

func (m *Machine) acceptPlan(actor model.Actor, marker model.Marker, pending, doc model.Document, replay bool) Plan {
	r := doc.Ref()
	key := repository.DocumentKey(r)
	return Plan{
		Action: model.ActionAccepted,
		Actor:  actor,
		Marker: marker,
		Ref:    r,
		Ops: []repository.Op{
			{Kind: repository.OpDelete, Collection: repository.DocumentRequests, Key: key, Expect: map[string]any{
				"status":   model.StatusPending,
				"revision": pending.Revision,
			}},
			{Kind: repository.OpCreate, Collection: repository.Documents, Key: key, Record: doc},
			{Kind: repository.OpAppend, Collection: repository.Organizations, Key: r.OrganizationID, Field: fieldDocs, Value: r.FileName},
		},
		Rollback: []repository.Op{
			{Kind: repository.OpPut, Collection: repository.DocumentRequests, Key: key, Record: pending},
			{Kind: repository.OpDelete, Collection: repository.Documents, Key: key, Expect: map[string]any{"last_change": marker.String()}},
			{Kind: repository.OpRemove, Collection: repository.Organizations, Key: r.OrganizationID, Field: fieldDocs, Value: r.FileName},
		},
		Replay:   replay,
		Conflict: &apperr.AlreadyTransitionedError{Resource: "request", Key: r.FileName},
		Document: doc,
		History:  historyEntry(actor, marker, r),
		Notice: &notify.Notice{
			Marker:     marker,
			Document:   r,
			Action:     model.ActionAccepted,
			Actor:      actor,
			Title:      "Request accepted",
			Message:    fmt.Sprintf("%s accepted your request %q", actor.Name(), r.FileName),
			Recipients: []string{doc.RequestedBy},
		},
		Audit: auditEntry(actor, marker, repository.Documents, key),
	}
}

// Return marks a pending request returned with the reviewer's note. The
// request stays in the request queue, out of the active document set.
func (m *Machine) Return(ctx context.Context, actor model.Actor, req ReturnRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	r := req.Ref()
	key := repository.DocumentKey(r)
	marker := model.NewMarker(req.FileName, model.ActionReturned, m.at(req.RequestedAt))

	var pending model.Document
	if err := m.store.Get(ctx, repository.DocumentRequests, key, &pending); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &apperr.NotFoundError{Resource: "request", Key: req.FileName}
		}
		return nil, err
	}

	replay := pending.Status == model.StatusReturned && pending.LastChange == marker.String()
	if !replay && pending.Status != model.StatusPending {
		return nil, &apperr.AlreadyTransitionedError{Resource: "request", Key: req.FileName, Status: string(pending.Status)}
	}

	returned := pending
	if !replay {
		returned.Status = model.StatusReturned
		returned.ReviewNote = req.Note
		returned.Revision = pending.Revision + 1
		returned.LastChange = marker.String()
		returned.UpdatedAt = marker.Timestamp
	}

	return m.coord.Execute(ctx, Plan{
		Action: model.ActionReturned,
		Actor:  actor,
		Marker: marker,
		Ref:    r,
		Ops: []repository.Op{{
			Kind:       repository.OpPatch,
			Collection: repository.DocumentRequests,
			Key:        key,
			Record: map[string]any{
				"status":      returned.Status,
				"review_note": returned.ReviewNote,
				"revision":    returned.Revision,
				"last_change": returned.LastChange,
				"updated_at":  returned.UpdatedAt,
			},
			Expect: map[string]any{"status": model.StatusPending, "revision": pending.Revision},
		}},
		Replay:          replay,
		Conflict:        &apperr.AlreadyTransitionedError{Resource: "request", Key: req.FileName},
		Document:        returned,
		History:         historyEntry(actor, marker, r),
		HistoryIfExists: true,
		Notice: &notify.Notice{
			Marker:     marker,
			Document:   r,
			Action:     model.ActionReturned,
			Actor:      actor,
			Title:      "Request returned",
			Message:    fmt.Sprintf("%s returned your request %q: %s", actor.Name(), r.FileName, req.Note),
			Recipients: []string{pending.RequestedBy},
		},
		Audit: auditEntry(actor, marker, repository.DocumentRequests, key),
	})
}

// Modify replaces the title, label and summary of an active document. Empty
// fields of the version keep their current value. Every favoriter at the time
// of the call is notified.
func (m *Machine) Modify(ctx context.Context, actor model.Actor, req ModifyRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	r := req.Ref()
	key := repository.DocumentKey(r)
	marker := model.NewMarker(req.FileName, model.ActionModified, m.at(req.RequestedAt))

	current, err := m.activeDocument(ctx, r)
	if err != nil {
		return nil, err
	}
	replay := current.LastChange == marker.String()

	doc := current
	if !replay {
		v := req.Version
		if v.Title != "" {
			doc.Title = v.Title
		}
		if v.Label != "" {
			doc.Label = v.Label
		}
		if v.Summary != "" {
			doc.Summary = v.Summary
		}
		doc.Revision = current.Revision + 1
		doc.LastChange = marker.String()
		doc.UpdatedAt = marker.Timestamp
	}

	return m.coord.Execute(ctx, Plan{
		Action: model.ActionModified,
		Actor:  actor,
		Marker: marker,
		Ref:    r,
		Ops: []repository.Op{{
			Kind:       repository.OpPatch,
			Collection: repository.Documents,
			Key:        key,
			Record: map[string]any{
				"title":       doc.Title,
				"label":       doc.Label,
				"summary":     doc.Summary,
				"revision":    doc.Revision,
				"last_change": doc.LastChange,
				"updated_at":  doc.UpdatedAt,
			},
			Expect: map[string]any{"status": model.StatusActive, "revision": current.Revision},
		}},
		Replay:   replay,
		Conflict: &apperr.AlreadyTransitionedError{Resource: "document", Key: req.FileName},
		Document: doc,
		History:  historyEntry(actor, marker, r),
		Notice:   m.favoriterNotice(actor, marker, current, "Document modified", "%s modified %q"),
		Audit:    auditEntry(actor, marker, repository.Documents, key),
	})
}

// Delete marks an active document deleted. It stays addressable for audit but
// leaves every default listing. Deleting it again is a NotFoundError with no
// side effects.
func (m *Machine) Delete(ctx context.Context, actor model.Actor, req DeleteRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	r := req.Ref()
	key := repository.DocumentKey(r)
	marker := model.NewMarker(req.FileName, model.ActionDeleted, m.at(req.RequestedAt))

	var current model.Document
	if err := m.store.Get(ctx, repository.Documents, key, &current); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &apperr.NotFoundError{Resource: "document", Key: req.FileName}
		}
		return nil, err
	}
	replay := current.Status == model.StatusDeleted && current.LastChange == marker.String()
	if !replay && current.Status != model.StatusActive {
		return nil, &apperr.NotFoundError{Resource: "document", Key: req.FileName}
	}

	doc := current
	if !replay {
		doc.Status = model.StatusDeleted
		doc.Revision = current.Revision + 1
		doc.LastChange = marker.String()
		doc.UpdatedAt = marker.Timestamp
	}

	return m.coord.Execute(ctx, Plan{
		Action: model.ActionDeleted,
		Actor:  actor,
		Marker: marker,
		Ref:    r,
		Ops: []repository.Op{{
			Kind:       repository.OpPatch,
			Collection: repository.Documents,
			Key:        key,
			Record: map[string]any{
				"status":      doc.Status,
				"revision":    doc.Revision,
				"last_change": doc.LastChange,
				"updated_at":  doc.UpdatedAt,
			},
			Expect: map[string]any{"status": model.StatusActive, "revision": current.Revision},
		}},
		Replay:   replay,
		Conflict: &apperr.AlreadyTransitionedError{Resource: "document", Key: req.FileName},
		Document: doc,
		History:  historyEntry(actor, marker, r),
		Notice:   m.favoriterNotice(actor, marker, current, "Document deleted", "%s deleted %q"),
		Audit:    auditEntry(actor, marker, repository.Documents, key),
	})
}

// Favorite adds the actor to the document's favorite set. Only members of the
// document's organization may favorite it.
func (m *Machine) Favorite(ctx context.Context, actor model.Actor, r model.DocumentRef) (*model.Document, error) {
	return m.toggleFavorite(ctx, actor, r, model.ActionFavorited)
}

// Unfavorite removes the actor from the document's favorite set.
func (m *Machine) Unfavorite(ctx context.Context, actor model.Actor, r model.DocumentRef) (*model.Document, error) {
	return m.toggleFavorite(ctx, actor, r, model.ActionUnfavorited)
}

func (m *Machine) toggleFavorite(ctx context.Context, actor model.Actor, r model.DocumentRef, action model.Action) (*model.Document, error) {
	if r.OrganizationID == "" || r.FileName == "" {
		return nil, apperr.Validation("organization id and file name are required", nil)
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if _, err := m.activeDocument(ctx, r); err != nil {
		return nil, err
	}
	org, err := m.organization(ctx, r.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !org.HasMember(actor.UserID) {
		return nil, apperr.Validation(fmt.Sprintf("user %s is not a member of organization %s", actor.UserID, org.ID), nil)
	}

	key := repository.DocumentKey(r)
	if action == model.ActionFavorited {
		err = m.store.AppendToArray(ctx, repository.Documents, key, fieldFavoritedBy, actor.UserID)
	} else {
		err = m.store.RemoveFromArray(ctx, repository.Documents, key, fieldFavoritedBy, actor.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, key, err)
	}

	marker := model.NewMarker(r.FileName, action, m.now())
	if err := m.coord.recorder.Record(context.WithoutCancel(ctx), auditEntry(actor, marker, repository.Documents, key)); err != nil {
		m.coord.metrics.auditFailed()
		m.logger.Warn("audit write failed", "action", action, "target", key, "error", err)
	}

	var doc model.Document
	if err := m.store.Get(ctx, repository.Documents, key, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (m *Machine) activeDocument(ctx context.Context, r model.DocumentRef) (model.Document, error) {
	var doc model.Document
	if err := m.store.Get(ctx, repository.Documents, repository.DocumentKey(r), &doc); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return doc, &apperr.NotFoundError{Resource: "document", Key: r.FileName}
		}
		return doc, err
	}
	if doc.Status != model.StatusActive {
		return doc, &apperr.NotFoundError{Resource: "document", Key: r.FileName}
	}
	return doc, nil
}

// committed returns the record under key if its last committed change carries marker.
func (m *Machine) committed(ctx context.Context, c repository.Collection, key string, marker model.Marker) (model.Document, bool) {
	var doc model.Document
	if err := m.store.Get(ctx, c, key, &doc); err != nil {
		return doc, false
	}
	return doc, doc.LastChange == marker.String()
}

func (m *Machine) organization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	if err := m.store.Get(ctx, repository.Organizations, id, &org); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &apperr.NotFoundError{Resource: "organization", Key: id}
		}
		return nil, err
	}
	return &org, nil
}

func (m *Machine) favoriterNotice(actor model.Actor, marker model.Marker, doc model.Document, title, format string) *notify.Notice {
	recipients := make([]string, 0, len(doc.FavoritedBy))
	recipients = append(recipients, doc.FavoritedBy...)
	return &notify.Notice{
		Marker:     marker,
		Document:   doc.Ref(),
		Action:     marker.Action,
		Actor:      actor,
		Title:      title,
		Message:    fmt.Sprintf(format, actor.Name(), doc.FileName),
		Recipients: recipients,
	}
}

func (m *Machine) at(requested time.Time) time.Time {
	if requested.IsZero() {
		return m.now()
	}
	return requested
}

func requireActor(actor model.Actor) error {
	if actor.UserID == "" {
		return apperr.Validation("acting user is required", nil)
	}
	return nil
}

func requireFields(doc model.Document) error {
	var missing []string
	if doc.Title == "" {
		missing = append(missing, "title")
	}
	if doc.Label == "" {
		missing = append(missing, "label")
	}
	if doc.FileType == "" {
		missing = append(missing, "file_type")
	}
	if len(missing) > 0 {
		return apperr.Validation(fmt.Sprintf("request is missing required fields: %v", missing), nil)
	}
	return nil
}

func historyEntry(actor model.Actor, marker model.Marker, r model.DocumentRef) *model.HistoryEntry {
	return &model.HistoryEntry{
		Action:       marker.Action,
		ActingUser:   actor.Name(),
		Organization: r.OrganizationID,
		Timestamp:    marker.Timestamp,
		Marker:       marker.String(),
	}
}

func auditEntry(actor model.Actor, marker model.Marker, c repository.Collection, key string) model.AuditEntry {
	return model.AuditEntry{
		ID:        marker.DeriveID(key, "audit"),
		Author:    actor.Name(),
		Action:    marker.Action,
		Target:    string(c) + "/" + key,
		Timestamp: marker.Timestamp,
	}
}
