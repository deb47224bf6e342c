// Package notify writes one inbox notification per recipient of a lifecycle
// event and pushes it to live subscribers.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"doccontrol/internal/apperr"
	"doccontrol/internal/model"
	"doccontrol/internal/repository"
	"doccontrol/internal/retry"
)

// DefaultWidth bounds concurrent recipient writes when no width is configured.
const DefaultWidth = 8

// StepNotify names the fan-out step in failure reports.
const StepNotify = "notify"

// Notice is one fan-out event. Recipients is the snapshot taken when the
// triggering transition was planned.
type Notice struct {
	Marker     model.Marker
	Document   model.DocumentRef
	Action     model.Action
	Actor      model.Actor
	Title      string
	Message    string
	Recipients []string
}

// FanoutResult collects per-recipient outcomes. Failures never cancel siblings.
type FanoutResult struct {
	Delivered []string
	Failed    []apperr.StepFailure
	Dangling  []apperr.DanglingReferenceFault
}

// Complete reports whether every eligible recipient got its notification.
func (r FanoutResult) Complete() bool {
	return len(r.Failed) == 0
}

// Dispatcher performs notification fan-out.
type Dispatcher struct {
	store  repository.EntityStore
	broker Broker
	width  int
	policy retry.Policy
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBroker publishes every newly written notification to b.
func WithBroker(b Broker) Option {
	return func(d *Dispatcher) { d.broker = b }
}

// WithWidth bounds the number of concurrent recipient writes.
func WithWidth(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.width = n
		}
	}
}

// WithRetryPolicy sets the per-recipient retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a Dispatcher writing to store.
func NewDispatcher(store repository.EntityStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		width:  DefaultWidth,
		policy: retry.DefaultPolicy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch writes one notification per distinct recipient and waits for all
// writes to finish or exhaust their retries. Recipients who are no longer
// members of the document's organization are skipped as dangling references.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notice) FanoutResult {
	var res FanoutResult

	recipients, dangling := d.eligible(ctx, n)
	res.Dangling = dangling
	if len(recipients) == 0 {
		return res
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.width)
	for _, uid := range recipients {
		g.Go(func() error {
			err := d.deliver(ctx, n, uid)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Warn("notification write failed",
					"recipient", uid,
					"marker", n.Marker.String(),
					"error", err,
				)
				res.Failed = append(res.Failed, apperr.StepFailure{Step: StepNotify, Recipient: uid, Err: err})
				return nil
			}
			res.Delivered = append(res.Delivered, uid)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Delivered)
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].Recipient < res.Failed[j].Recipient })
	return res
}

// eligible dedupes the recipients and drops those outside the organization.
// When the roster cannot be read the membership check is skipped.
func (d *Dispatcher) eligible(ctx context.Context, n Notice) ([]string, []apperr.DanglingReferenceFault) {
	seen := make(map[string]struct{}, len(n.Recipients))
	unique := make([]string, 0, len(n.Recipients))
	for _, uid := range n.Recipients {
		if uid == "" {
			continue
		}
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		unique = append(unique, uid)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	var org model.Organization
	err := d.store.Get(ctx, repository.Organizations, n.Document.OrganizationID, &org)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		faults := make([]apperr.DanglingReferenceFault, 0, len(unique))
		for _, uid := range unique {
			faults = append(faults, d.dangling("organization", uid, n.Document.OrganizationID))
		}
		return nil, faults
	case err != nil:
		d.logger.Warn("roster unavailable, skipping membership check",
			"organization_id", n.Document.OrganizationID,
			"error", err,
		)
		return unique, nil
	}

	var (
		members []string
		faults  []apperr.DanglingReferenceFault
	)
	for _, uid := range unique {
		if !org.HasMember(uid) {
			faults = append(faults, d.dangling("member", n.Document.OrganizationID, uid))
			continue
		}
		members = append(members, uid)
	}
	return members, faults
}

func (d *Dispatcher) dangling(kind, from, to string) apperr.DanglingReferenceFault {
	f := apperr.DanglingReferenceFault{Kind: kind, From: from, To: to}
	d.logger.Warn("skipping dangling reference", "kind", kind, "from", from, "to", to)
	return f
}

// deliver creates the recipient's notification under an id derived from the
// marker, so a retried fan-out finds the earlier write and does not duplicate it.
func (d *Dispatcher) deliver(ctx context.Context, n Notice, userID string) error {
	notif := model.Notification{
		ID:        n.Marker.DeriveID(userID),
		UserID:    userID,
		Title:     n.Title,
		Message:   n.Message,
		Document:  n.Document,
		Action:    n.Action,
		Read:      false,
		CreatedAt: n.Marker.Timestamp,
	}
	key := repository.NotificationKey(userID, notif.ID)

	created := false
	err := retry.Do(ctx, d.policy, func(ctx context.Context) error {
		err := d.store.Create(ctx, repository.Notifications, key, notif)
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil
		}
		if err == nil {
			created = true
		}
		return err
	})
	if err != nil {
		return err
	}

	if created && d.broker != nil {
		if err := d.broker.Publish(ctx, notif); err != nil {
			d.logger.Warn("notification publish failed", "recipient", userID, "notification_id", notif.ID, "error", err)
		}
	}
	return nil
}
