package client

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dormhub/dorm-portal-api/internal/dto"
	"github.com/dormhub/dorm-portal-api/internal/models"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
)

// Reconciler drives state-changing actions against the engine without ever
// acting on stale local state. Every action follows the same protocol:
// re-fetch, check the precondition, act with the fetched state as the
// compare-and-swap guard, and on conflict re-fetch once more before either a
// single retry or a terminal report. Nothing here retries indefinitely.
type Reconciler struct {
	engine Engine
	cache  *ActiveList
	logger *zap.Logger
	now    func() time.Time
}

// ReconcilerOption configures the reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReconciler constructs a reconciler around an engine.
func NewReconciler(engine Engine, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		engine: engine,
		cache:  NewActiveList(),
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Active exposes the local active-request cache.
func (r *Reconciler) Active() *ActiveList {
	return r.cache
}

// Submit files a new request and admits it into the active list.
func (r *Reconciler) Submit(ctx context.Context, payload dto.CreateRequestPayload) (*models.MaintenanceRequest, error) {
	req, err := r.engine.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	r.cache.Apply(req)
	return req, nil
}

// SubmitTransition advances a request to toState. The fetched state is passed
// as the compare-and-swap guard; a conflict triggers exactly one re-fetch and
// retry before the conflict is surfaced.
func (r *Reconciler) SubmitTransition(ctx context.Context, id string, toState models.RequestState, assignedStaff, rejectionReason string) (*Outcome, error) {
	current, err := r.engine.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if current.State == toState {
			r.cache.Apply(current)
			return &Outcome{Request: current, AlreadyDone: true, Message: "request is already " + strings.ToLower(string(toState))}, nil
		}
		if !models.CanTransition(current.State, toState) {
			return &Outcome{Request: current, Message: "cannot move a " + strings.ToLower(string(current.State)) + " request to " + strings.ToLower(string(toState))}, nil
		}

		updated, err := r.engine.ApplyTransition(ctx, id, dto.TransitionPayload{
			FromState:       current.State,
			ToState:         toState,
			AssignedStaff:   assignedStaff,
			RejectionReason: rejectionReason,
		})
		if err == nil {
			r.cache.Apply(updated)
			return &Outcome{Request: updated, Applied: true}, nil
		}

		if isAmbiguous(err) {
			return r.resolveAmbiguousTransition(ctx, id, toState, err)
		}
		if !appErrors.Is(err, appErrors.ErrStateConflict) {
			return nil, err
		}
		if attempt >= 1 {
			// Retry budget spent; surface the conflict.
			return nil, err
		}
		current, err = r.engine.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
	}
}

// resolveAmbiguousTransition re-fetches after a timeout to learn whether the
// write landed, so the caller never double-submits on retry.
func (r *Reconciler) resolveAmbiguousTransition(ctx context.Context, id string, toState models.RequestState, cause error) (*Outcome, error) {
	current, err := r.engine.Fetch(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(cause, appErrors.ErrAmbiguousFailure.Code, appErrors.ErrAmbiguousFailure.Status, appErrors.ErrAmbiguousFailure.Message)
	}
	r.cache.Apply(current)
	if current.State == toState {
		return &Outcome{Request: current, Applied: true}, nil
	}
	return nil, appErrors.Wrap(cause, appErrors.ErrAmbiguousFailure.Code, appErrors.ErrAmbiguousFailure.Status, appErrors.ErrAmbiguousFailure.Message)
}

// SubmitReview attaches the one-and-only review. Both precondition failures
// are terminal: they are reported as informational outcomes because the usual
// cause is a stale view, not a fault.
func (r *Reconciler) SubmitReview(ctx context.Context, id string, rating int, comment string) (*Outcome, error) {
	current, err := r.engine.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if outcome := reviewBlocked(current); outcome != nil {
		return outcome, nil
	}

	updated, err := r.engine.AttachReview(ctx, id, dto.ReviewPayload{Rating: rating, Comment: comment})
	if err == nil {
		r.cache.Apply(updated)
		return &Outcome{Request: updated, Applied: true}, nil
	}

	if isAmbiguous(err) {
		current, ferr := r.engine.Fetch(ctx, id)
		if ferr != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrAmbiguousFailure.Code, appErrors.ErrAmbiguousFailure.Status, appErrors.ErrAmbiguousFailure.Message)
		}
		r.cache.Apply(current)
		if current.Reviewed() {
			// Our write (or an identical earlier one) landed.
			return &Outcome{Request: current, Applied: true, AlreadyDone: true}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrAmbiguousFailure.Code, appErrors.ErrAmbiguousFailure.Status, appErrors.ErrAmbiguousFailure.Message)
	}

	if appErrors.Is(err, appErrors.ErrAlreadyReviewed) ||
		appErrors.Is(err, appErrors.ErrNotCompleted) ||
		appErrors.Is(err, appErrors.ErrStateConflict) {
		// The record moved between our fetch and the write. One re-fetch
		// decides the terminal outcome; reviews are never retried blind.
		current, ferr := r.engine.Fetch(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		r.cache.Apply(current)
		if outcome := reviewBlocked(current); outcome != nil {
			return outcome, nil
		}
		return nil, err
	}
	return nil, err
}

func reviewBlocked(req *models.MaintenanceRequest) *Outcome {
	if req.Reviewed() {
		return &Outcome{Request: req, AlreadyDone: true, Message: "request already has a review"}
	}
	if req.State != models.StateCompleted {
		return &Outcome{Request: req, Message: "request is not completed yet"}
	}
	return nil
}

// Reschedule supersedes a request with a new schedule window. On success the
// old request is dropped from the active list and the replacement admitted;
// the two are never both active.
func (r *Reconciler) Reschedule(ctx context.Context, id string, start, end time.Time) (*Outcome, error) {
	if !start.Before(end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "schedule start must be before end")
	}
	if !start.After(r.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "schedule start must be in the future")
	}

	current, err := r.engine.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if current.State.Terminal() {
			return rescheduleBlocked(current), nil
		}

		replacement, err := r.engine.Reschedule(ctx, id, dto.ReschedulePayload{
			FromState:     current.State,
			ScheduleStart: start,
			ScheduleEnd:   end,
		})
		if err == nil {
			r.cache.Swap(id, replacement)
			return &Outcome{Request: replacement, Applied: true}, nil
		}

		if isAmbiguous(err) {
			return r.resolveAmbiguousReschedule(ctx, id, err)
		}
		if appErrors.Is(err, appErrors.ErrTerminalState) || appErrors.Is(err, appErrors.ErrStateConflict) {
			current, err = r.engine.Fetch(ctx, id)
			if err != nil {
				return nil, err
			}
			if current.State.Terminal() {
				return rescheduleBlocked(current), nil
			}
			if attempt >= 1 {
				return nil, appErrors.Clone(appErrors.ErrStateConflict, "request keeps changing; try again")
			}
			continue
		}
		return nil, err
	}
}

// resolveAmbiguousReschedule checks whether the supersede landed: a retired
// original pointing at a replacement means the write applied and the
// replacement is fetched instead of submitting again.
func (r *Reconciler) resolveAmbiguousReschedule(ctx context.Context, id string, cause error) (*Outcome, error) {
	current, err := r.engine.Fetch(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(cause, appErrors.ErrAmbiguousFailure.Code, appErrors.ErrAmbiguousFailure.Status, appErrors.ErrAmbiguousFailure.Message)
	}
	if current.State == models.StateSuperseded && current.SupersededBy != nil {
		replacement, err := r.engine.Fetch(ctx, *current.SupersededBy)
		if err != nil {
			return nil, err
		}
		r.cache.Swap(id, replacement)
		return &Outcome{Request: replacement, Applied: true, AlreadyDone: true}, nil
	}
	r.cache.Apply(current)
	return nil, appErrors.Wrap(cause, appErrors.ErrAmbiguousFailure.Code, appErrors.ErrAmbiguousFailure.Status, appErrors.ErrAmbiguousFailure.Message)
}

func rescheduleBlocked(req *models.MaintenanceRequest) *Outcome {
	return &Outcome{
		Request: req,
		Message: "cannot reschedule a " + strings.ToLower(string(req.State)) + " request",
	}
}

// HandleEvent applies a broadcast event as a refresh hint. The payload is
// never trusted: the record is re-fetched. Events older than the cached copy
// are dropped, which guards against out-of-order delivery.
func (r *Reconciler) HandleEvent(ctx context.Context, event models.TransitionEvent) error {
	if cached, ok := r.cache.Get(event.RequestID); ok && !event.OccurredAt.After(cached.LastModified) {
		r.logger.Debug("stale event ignored",
			zap.String("request_id", event.RequestID),
			zap.Time("event_at", event.OccurredAt),
			zap.Time("cached_at", cached.LastModified))
		return nil
	}

	current, err := r.engine.Fetch(ctx, event.RequestID)
	if err != nil {
		return err
	}
	r.cache.Apply(current)

	if current.State == models.StateSuperseded && current.SupersededBy != nil {
		replacement, err := r.engine.Fetch(ctx, *current.SupersededBy)
		if err != nil {
			return err
		}
		r.cache.Swap(event.RequestID, replacement)
	}
	return nil
}

// Resync rebuilds the active list from the server. Called on every
// (re)connect, since any number of events may have been missed while away.
func (r *Reconciler) Resync(ctx context.Context) error {
	requests, err := r.engine.ListActive(ctx)
	if err != nil {
		return err
	}
	r.cache.Replace(requests)
	return nil
}
