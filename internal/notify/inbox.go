package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"doccontrol/internal/apperr"
	"doccontrol/internal/model"
	"doccontrol/internal/repository"
)

// ErrNoBroker is returned by Subscribe when live delivery is not configured.
var ErrNoBroker = errors.New("notification streaming is not configured")

// Inbox reads and updates a user's notifications.
type Inbox struct {
	store  repository.EntityStore
	broker Broker
}

// NewInbox creates an Inbox. broker may be nil.
func NewInbox(store repository.EntityStore, broker Broker) *Inbox {
	return &Inbox{store: store, broker: broker}
}

// List returns the user's notifications, newest first.
func (i *Inbox) List(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required", nil)
	}
	q := repository.Query{Prefix: repository.InboxPrefix(userID)}
	if unreadOnly {
		q.Where = map[string]any{"read": false}
	}

	var items []model.Notification
	if err := i.store.Query(ctx, repository.Notifications, q, &items); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].CreatedAt.After(items[b].CreatedAt)
	})
	return items, nil
}

// UnreadCount drives the unread indicator.
func (i *Inbox) UnreadCount(ctx context.Context, userID string) (int, error) {
	items, err := i.List(ctx, userID, true)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// MarkRead flips the read flag. Marking an already read notification is a no-op.
func (i *Inbox) MarkRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	if userID == "" || id == "" {
		return nil, apperr.Validation("user id and notification id are required", nil)
	}
	key := repository.NotificationKey(userID, id)

	var n model.Notification
	if err := i.store.Get(ctx, repository.Notifications, key, &n); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &apperr.NotFoundError{Resource: "notification", Key: id}
		}
		return nil, err
	}
	if n.Read {
		return &n, nil
	}

	n.Read = true
	if err := i.store.Put(ctx, repository.Notifications, key, n); err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return &n, nil
}

// Subscribe streams new notifications for userID until ctx is done.
func (i *Inbox) Subscribe(ctx context.Context, userID string) (<-chan model.Notification, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required", nil)
	}
	if i.broker == nil {
		return nil, ErrNoBroker
	}
	return i.broker.Subscribe(ctx, userID)
}
