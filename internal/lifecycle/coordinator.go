package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"doccontrol/internal/apperr"
	"doccontrol/internal/audit"
	"doccontrol/internal/model"
	"doccontrol/internal/notify"
	"doccontrol/internal/repository"
	"doccontrol/internal/retry"
)

// Step names used in PartialSuccess reports.
const (
	StepDocument = "document"
	StepHistory  = "history"
	StepNotify   = notify.StepNotify
	StepAudit    = "audit"
)

const fieldHistory = "history"

// Plan is the full side-effect set of one transition.
type Plan struct {
	Action model.Action
	Actor  model.Actor
	Marker model.Marker
	Ref    model.DocumentRef

	// Ops is the documentWrite. Rollback[i], when its Kind is set, undoes Ops[i]
	// and is applied if a store reports a partially applied batch.
	Ops      []repository.Op
	Rollback []repository.Op

	// Replay marks a transition whose documentWrite already committed under
	// the same marker; only the idempotent steps run again.
	Replay bool

	// Conflict is returned when documentWrite hits a precondition or key clash.
	Conflict error

	// Document is the state after documentWrite.
	Document model.Document

	// History is appended to the document's history. With HistoryIfExists the
	// entry is only added to an existing history record.
	History         *model.HistoryEntry
	HistoryIfExists bool

	Notice *notify.Notice
	Audit  model.AuditEntry
}

// Outcome reports what a transition did. It accompanies a PartialSuccessError
// when dependent steps did not all complete.
type Outcome struct {
	Action        model.Action                    `json:"action"`
	Marker        string                          `json:"marker"`
	Document      model.Document                  `json:"document"`
	Replayed      bool                            `json:"replayed"`
	Notified      []string                        `json:"notified,omitempty"`
	Dangling      []apperr.DanglingReferenceFault `json:"dangling,omitempty"`
	Incomplete    []apperr.StepFailure            `json:"incomplete,omitempty"`
	AuditRecorded bool                            `json:"audit_recorded"`
}

// Coordinator applies a Plan in the fixed order documentWrite, historyAppend,
// notification fan-out, auditWrite.
type Coordinator struct {
	store      repository.EntityStore
	dispatcher *notify.Dispatcher
	recorder   *audit.Recorder
	policy     retry.Policy
	metrics    *Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
}

// Execute runs the plan. Cancellation is honoured until documentWrite
// commits; afterwards the remaining steps run to completion regardless.
//
// Errors: the plan's Conflict or a TransitionFailedError when documentWrite
// fails (nothing else ran), a PartialSuccessError together with a non-nil
// Outcome when history or notification writes stayed incomplete.
func (c *Coordinator) Execute(ctx context.Context, p Plan) (*Outcome, error) {
	started := time.Now()
	action := string(p.Action)

	ctx, span := c.tracer.Start(ctx, "lifecycle."+action, trace.WithAttributes(
		attribute.String("doc.organization_id", p.Ref.OrganizationID),
		attribute.String("doc.file_name", p.Ref.FileName),
		attribute.String("lifecycle.marker", p.Marker.String()),
		attribute.Bool("lifecycle.replay", p.Replay),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		c.metrics.observe(action, outcomeRejected, started)
		return nil, err
	}

	if !p.Replay {
		if err := c.documentWrite(ctx, p); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "document write failed")
			outcome := outcomeFailed
			if p.Conflict != nil && errors.Is(err, p.Conflict) {
				outcome = outcomeRejected
			}
			c.metrics.observe(action, outcome, started)
			return nil, err
		}
	}

	// The transition is externally visible from here on.
	ctx = context.WithoutCancel(ctx)

	out := &Outcome{
		Action:   p.Action,
		Marker:   p.Marker.String(),
		Document: p.Document,
		Replayed: p.Replay,
	}

	if p.History != nil {
		if err := c.appendHistory(ctx, p); err != nil {
			c.logger.Error("history append failed",
				"marker", out.Marker,
				"error", err,
			)
			out.Incomplete = append(out.Incomplete, apperr.StepFailure{Step: StepHistory, Err: err})
		}
	}

	if p.Notice != nil {
		res := c.fanout(ctx, *p.Notice)
		out.Notified = res.Delivered
		out.Dangling = res.Dangling
		out.Incomplete = append(out.Incomplete, res.Failed...)
		c.metrics.fanout(len(res.Delivered), len(res.Failed), len(res.Dangling))
	}

	entry := p.Audit
	entry.Result = model.ResultSuccess
	if len(out.Incomplete) > 0 {
		entry.Result = model.ResultPartial
	}
	out.AuditRecorded = c.recordAudit(ctx, entry)

	if len(out.Incomplete) > 0 {
		span.SetStatus(codes.Error, "partial success")
		c.metrics.observe(action, outcomePartial, started)
		c.logger.Warn("transition partially applied",
			"action", action,
			"marker", out.Marker,
			"incomplete", len(out.Incomplete),
		)
		return out, &apperr.PartialSuccessError{Action: action, Incomplete: out.Incomplete}
	}

	c.metrics.observe(action, outcomeSuccess, started)
	return out, nil
}

func (c *Coordinator) documentWrite(ctx context.Context, p Plan) error {
	ctx, span := c.tracer.Start(ctx, "lifecycle.document_write")
	defer span.End()

	err := c.store.BatchWrite(ctx, p.Ops)
	if err == nil {
		return nil
	}
	span.RecordError(err)

	var be *repository.BatchError
	if errors.As(err, &be) && be.Applied > 0 {
		c.compensate(context.WithoutCancel(ctx), p, be.Applied)
	}

	if p.Conflict != nil && (errors.Is(err, repository.ErrPreconditionFailed) || errors.Is(err, repository.ErrAlreadyExists)) {
		return p.Conflict
	}
	return &apperr.TransitionFailedError{Action: string(p.Action), Err: err}
}

// compensate undoes the first applied ops in reverse order. Failures are
// logged for manual reconciliation.
func (c *Coordinator) compensate(ctx context.Context, p Plan, applied int) {
	for i := applied - 1; i >= 0; i-- {
		if i >= len(p.Rollback) || p.Rollback[i].Kind == "" {
			continue
		}
		undo := p.Rollback[i]
		if err := c.store.BatchWrite(ctx, []repository.Op{undo}); err != nil {
			c.logger.Error("rollback failed",
				"marker", p.Marker.String(),
				"op", undo.String(),
				"error", err,
			)
		}
	}
}

func (c *Coordinator) appendHistory(ctx context.Context, p Plan) error {
	ctx, span := c.tracer.Start(ctx, "lifecycle.history_append")
	defer span.End()

	key := repository.DocumentKey(p.Ref)
	entry := *p.History

	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var h model.DocumentHistory
		err := c.store.Get(ctx, repository.DocumentHistory, key, &h)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if p.HistoryIfExists {
				return nil
			}
			seed := model.DocumentHistory{
				OrganizationID: p.Ref.OrganizationID,
				FileName:       p.Ref.FileName,
				History:        []model.HistoryEntry{entry},
			}
			err := c.store.Create(ctx, repository.DocumentHistory, key, seed)
			if !errors.Is(err, repository.ErrAlreadyExists) {
				return err
			}
		case err != nil:
			return err
		default:
			for _, e := range h.History {
				if e.Marker == entry.Marker {
					return nil
				}
			}
		}
		return c.store.AppendToArray(ctx, repository.DocumentHistory, key, fieldHistory, entry)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("append history %s: %w", key, err)
	}
	return nil
}

func (c *Coordinator) fanout(ctx context.Context, n notify.Notice) notify.FanoutResult {
	ctx, span := c.tracer.Start(ctx, "lifecycle.notify", trace.WithAttributes(
		attribute.Int("notify.recipients", len(n.Recipients)),
	))
	defer span.End()
	return c.dispatcher.Dispatch(ctx, n)
}

func (c *Coordinator) recordAudit(ctx context.Context, entry model.AuditEntry) bool {
	ctx, span := c.tracer.Start(ctx, "lifecycle.audit_write")
	defer span.End()

	if err := c.recorder.Record(ctx, entry); err != nil {
		span.RecordError(err)
		c.metrics.auditFailed()
		c.logger.Error("audit write failed",
			"audit_id", entry.ID,
			"action", entry.Action,
			"target", entry.Target,
			"error", err,
		)
		return false
	}
	return true
}
