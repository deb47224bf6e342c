// Package audit appends immutable entries to the global audit log and mirrors
// them to optional sinks.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"doccontrol/internal/model"
	"doccontrol/internal/repository"
)

// Sink receives a copy of every recorded entry.
type Sink interface {
	Publish(ctx context.Context, entry model.AuditEntry) error
}

// Recorder writes audit entries to the store's audit collection.
type Recorder struct {
	store  repository.EntityStore
	sinks  []Sink
	logger *slog.Logger
}

// NewRecorder creates a Recorder. A nil logger falls back to slog.Default().
func NewRecorder(store repository.EntityStore, logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, sinks: sinks, logger: logger}
}

// Record stores the entry under its id, generating one when empty.
// Entries are immutable: recording an id that already exists keeps the first
// entry, reports success and publishes nothing. Sink failures are logged and
// never returned.
func (r *Recorder) Record(ctx context.Context, entry model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Result == "" {
		entry.Result = model.ResultSuccess
	}
	err := r.store.Create(ctx, repository.AuditLog, entry.ID, entry)
	if errors.Is(err, repository.ErrAlreadyExists) {
		r.logger.Debug("audit entry already recorded", "audit_id", entry.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("write audit entry %s: %w", entry.ID, err)
	}

	for _, s := range r.sinks {
		if err := s.Publish(ctx, entry); err != nil {
			r.logger.Warn("audit mirror failed",
				"audit_id", entry.ID,
				"action", entry.Action,
				"error", err,
			)
		}
	}
	return nil
}

// List returns up to limit entries, newest first. A non-positive limit returns all.
func (r *Recorder) List(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	if err := r.store.Query(ctx, repository.AuditLog, repository.Query{}, &entries); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
