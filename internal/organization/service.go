// Package organization maintains organization rosters and their document index.
package organization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"doccontrol/internal/apperr"
	"doccontrol/internal/audit"
	"doccontrol/internal/model"
	"doccontrol/internal/repository"
	"doccontrol/internal/retry"
)

const (
	fieldMembers = "members"
	resource     = "organization"
)

// CreateRequest is the payload for creating an organization.
type CreateRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r *CreateRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Description, validation.Length(0, 1000)),
	)
}

// Service manages organizations.
type Service struct {
	store    repository.EntityStore
	recorder *audit.Recorder
	policy   retry.Policy
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service. recorder may be nil to skip auditing.
func NewService(store repository.EntityStore, recorder *audit.Recorder, policy retry.Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		recorder: recorder,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Create stores a new organization with the actor as its first member.
func (s *Service) Create(ctx context.Context, actor model.Actor, req CreateRequest) (*model.Organization, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation("invalid organization", err)
	}
	if actor.UserID == "" {
		return nil, apperr.Validation("actor is required", nil)
	}
	if current, err := s.OrgOf(ctx, actor.UserID); err == nil {
		return nil, &apperr.ConflictError{
			Resource: "member",
			Key:      actor.UserID,
			Message:  fmt.Sprintf("user %s already belongs to organization %s", actor.UserID, current.ID),
		}
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	org := model.Organization{
		ID:          req.ID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Members:     []string{actor.UserID},
		Docs:        []string{},
		CreatedAt:   s.now(),
	}
	if org.ID == "" {
		org.ID = uuid.NewString()
	}

	err := s.store.BatchWrite(ctx, []repository.Op{
		s.claimOp(actor.UserID, org.ID),
		{Kind: repository.OpCreate, Collection: repository.Organizations, Key: org.ID, Record: org},
	})
	if err != nil {
		var be *repository.BatchError
		if errors.As(err, &be) {
			s.releaseClaim(ctx, actor.UserID, be)
			if errors.Is(err, repository.ErrAlreadyExists) {
				if be.Index == 0 {
					return nil, memberConflict(actor.UserID)
				}
				return nil, &apperr.ConflictError{Resource: resource, Key: org.ID}
			}
		}
		return nil, fmt.Errorf("create organization: %w", err)
	}

	s.audit(ctx, actor, model.ActionOrgCreated, "org/"+org.ID)
	return &org, nil
}

// Get returns an organization by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Organization, error) {
	if id == "" {
		return nil, apperr.Validation("organization id is required", nil)
	}
	var org model.Organization
	if err := s.store.Get(ctx, repository.Organizations, id, &org); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &apperr.NotFoundError{Resource: resource, Key: id}
		}
		return nil, err
	}
	return &org, nil
}

// OrgOf returns the organization userID belongs to.
func (s *Service) OrgOf(ctx context.Context, userID string) (*model.Organization, error) {
	orgs, err := s.orgsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 {
		return nil, &apperr.NotFoundError{Resource: "membership", Key: userID}
	}
	return &orgs[0], nil
}

func (s *Service) orgsOf(ctx context.Context, userID string) ([]model.Organization, error) {
	var orgs []model.Organization
	q := repository.Query{Where: map[string]any{fieldMembers: []string{userID}}}
	if err := s.store.Query(ctx, repository.Organizations, q, &orgs); err != nil {
		return nil, fmt.Errorf("lookup membership: %w", err)
	}
	return orgs, nil
}

// AddMember puts userID on the roster of orgID. Adding an existing member is a
// no-op; a user who belongs to another organization must be moved instead.
func (s *Service) AddMember(ctx context.Context, actor model.Actor, orgID, userID string) (*model.Organization, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required", nil)
	}
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org.HasMember(userID) {
		return org, nil
	}

	current, err := s.OrgOf(ctx, userID)
	switch {
	case err == nil:
		return nil, &apperr.ConflictError{
			Resource: "member",
			Key:      userID,
			Message:  fmt.Sprintf("user %s already belongs to organization %s", userID, current.ID),
		}
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	err = s.store.BatchWrite(ctx, []repository.Op{
		s.claimOp(userID, orgID),
		{Kind: repository.OpAppend, Collection: repository.Organizations, Key: orgID, Field: fieldMembers, Value: userID},
	})
	if err != nil {
		var be *repository.BatchError
		if errors.As(err, &be) {
			s.releaseClaim(ctx, userID, be)
		}
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, memberConflict(userID)
		}
		return nil, fmt.Errorf("add member: %w", err)
	}
	s.audit(ctx, actor, model.ActionMemberAdded, "org/"+orgID+"/"+userID)
	return s.Get(ctx, orgID)
}

// MoveMember removes userID from fromOrg and adds it to toOrg, in that order,
// so the user is never on two rosters. If the add keeps failing after the
// remove landed the user is left without an organization, which is reported
// as a dangling reference for an operator to repair.
func (s *Service) MoveMember(ctx context.Context, actor model.Actor, fromOrg, userID, toOrg string) (*model.Organization, error) {
	if userID == "" || toOrg == "" {
		return nil, apperr.Validation("user id and target organization are required", nil)
	}
	if fromOrg == toOrg {
		return nil, apperr.Validation("target organization must differ from the current one", nil)
	}
	from, err := s.Get(ctx, fromOrg)
	if err != nil {
		return nil, err
	}
	if !from.HasMember(userID) {
		return nil, &apperr.NotFoundError{Resource: "member", Key: userID}
	}
	if _, err := s.Get(ctx, toOrg); err != nil {
		return nil, err
	}

	if err := s.store.RemoveFromArray(ctx, repository.Organizations, fromOrg, fieldMembers, userID); err != nil {
		return nil, fmt.Errorf("remove member: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.store.BatchWrite(ctx, []repository.Op{
			{Kind: repository.OpPut, Collection: repository.Memberships, Key: userID, Record: s.membership(userID, toOrg)},
			{Kind: repository.OpAppend, Collection: repository.Organizations, Key: toOrg, Field: fieldMembers, Value: userID},
		})
	})
	if err != nil {
		fault := &apperr.DanglingReferenceFault{Kind: "member", From: userID, To: toOrg}
		s.logger.Error("member removed but not re-added",
			"user_id", userID,
			"from", fromOrg,
			"to", toOrg,
			"error", err,
		)
		// Free the user so an operator can add them back.
		if derr := s.store.Delete(ctx, repository.Memberships, userID); derr != nil && !errors.Is(derr, repository.ErrNotFound) {
			s.logger.Error("membership claim not released", "user_id", userID, "error", derr)
		}
		return nil, fmt.Errorf("%w: %v", fault, err)
	}

	s.audit(ctx, actor, model.ActionMemberMoved, "org/"+fromOrg+"->"+toOrg+"/"+userID)
	return s.Get(ctx, toOrg)
}

// Verify reports references of orgID that point nowhere: indexed documents
// without a record and members that appear on several rosters.
func (s *Service) Verify(ctx context.Context, orgID string) ([]apperr.DanglingReferenceFault, error) {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	faults := []apperr.DanglingReferenceFault{}
	for _, fileName := range org.Docs {
		var doc model.Document
		ref := model.DocumentRef{OrganizationID: orgID, FileName: fileName}
		err := s.store.Get(ctx, repository.Documents, repository.DocumentKey(ref), &doc)
		if errors.Is(err, repository.ErrNotFound) {
			faults = append(faults, apperr.DanglingReferenceFault{Kind: "document", From: orgID, To: fileName})
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	for _, member := range org.Members {
		orgs, err := s.orgsOf(ctx, member)
		if err != nil {
			return nil, err
		}
		for _, other := range orgs {
			if other.ID != orgID {
				faults = append(faults, apperr.DanglingReferenceFault{Kind: "membership", From: member, To: other.ID})
			}
		}
	}

	for _, f := range faults {
		s.logger.Warn("dangling reference", "organization_id", orgID, "kind", f.Kind, "from", f.From, "to", f.To)
	}
	return faults, nil
}

// membership records which organization a user belongs to. It is written in
// the same batch as the roster change.
type membership struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

func (s *Service) membership(userID, orgID string) membership {
	return membership{UserID: userID, OrganizationID: orgID, JoinedAt: s.now()}
}

func (s *Service) claimOp(userID, orgID string) repository.Op {
	return repository.Op{Kind: repository.OpCreate, Collection: repository.Memberships, Key: userID, Record: s.membership(userID, orgID)}
}

// releaseClaim undoes a membership claim that a store without transactions
// left applied when a later op of the batch failed.
func (s *Service) releaseClaim(ctx context.Context, userID string, be *repository.BatchError) {
	if be.Index == 0 || be.Applied == 0 {
		return
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), repository.Memberships, userID); err != nil {
		s.logger.Error("membership claim not released", "user_id", userID, "error", err)
	}
}

func memberConflict(userID string) error {
	return &apperr.ConflictError{
		Resource: "member",
		Key:      userID,
		Message:  fmt.Sprintf("user %s already belongs to another organization", userID),
	}
}

func (s *Service) audit(ctx context.Context, actor model.Actor, action model.Action, target string) {
	if s.recorder == nil {
		return
	}
	entry := model.AuditEntry{
		Author:    actor.Name(),
		Action:    action,
		Result:    model.ResultSuccess,
		Target:    target,
		Timestamp: s.now(),
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("audit write failed", "action", action, "target", target, "error", err)
	}
}
