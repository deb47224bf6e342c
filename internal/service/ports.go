package service

import (
	"context"

	"doccontrol/internal/apperr"
	"doccontrol/internal/model"
	"doccontrol/internal/organization"
)

// OrganizationService is the roster surface the HTTP layer uses.
// *organization.Service implements it.
type OrganizationService interface {
	Create(ctx context.Context, actor model.Actor, req organization.CreateRequest) (*model.Organization, error)
	Get(ctx context.Context, id string) (*model.Organization, error)
	AddMember(ctx context.Context, actor model.Actor, orgID, userID string) (*model.Organization, error)
	MoveMember(ctx context.Context, actor model.Actor, fromOrg, userID, toOrg string) (*model.Organization, error)
	Verify(ctx context.Context, orgID string) ([]apperr.DanglingReferenceFault, error)
}

// InboxService reads and updates notifications. *notify.Inbox implements it.
type InboxService interface {
	List(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) (*model.Notification, error)
	Subscribe(ctx context.Context, userID string) (<-chan model.Notification, error)
}

// AuditService reads the audit log. *audit.Recorder implements it.
type AuditService interface {
	List(ctx context.Context, limit int) ([]model.AuditEntry, error)
}
