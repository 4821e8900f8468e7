package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dormhub/dorm-portal-api/internal/dto"
	"github.com/dormhub/dorm-portal-api/internal/models"
	"github.com/dormhub/dorm-portal-api/internal/repository"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
	"github.com/dormhub/dorm-portal-api/pkg/storage"
)

type requestStore interface {
	Create(ctx context.Context, req *models.MaintenanceRequest) error
	GetByID(ctx context.Context, id string) (*models.MaintenanceRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.MaintenanceRequest, error)
	CompareAndSwapState(ctx context.Context, params repository.SwapStateParams) error
	AttachReview(ctx context.Context, id string, rating int, comment string, submittedAt time.Time) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// TransitionPublisher receives committed transition events for fan-out.
// Publishing is fire-and-forget; the lifecycle commit never waits on it.
type TransitionPublisher interface {
	PublishTransition(event models.TransitionEvent)
}

// TransitionPublisherFunc allows using plain functions.
type TransitionPublisherFunc func(event models.TransitionEvent)

// PublishTransition implements TransitionPublisher.
func (f TransitionPublisherFunc) PublishTransition(event models.TransitionEvent) {
	f(event)
}

// LifecycleService is the single writer of authoritative request state. All
// state changes go through the compare-and-swap guard in the store, so
// concurrent transition attempts are serialized and the loser sees a
// conflict rather than a silent overwrite.
type LifecycleService struct {
	repo        requestStore
	audit       auditLogger
	publisher   TransitionPublisher
	attachments *storage.SignedURLSigner
	logger      *zap.Logger
	now         func() time.Time
}

// LifecycleServiceOption configures the service.
type LifecycleServiceOption func(*LifecycleService)

// WithTransitionPublisher sets the post-commit event publisher.
func WithTransitionPublisher(p TransitionPublisher) LifecycleServiceOption {
	return func(s *LifecycleService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithAttachmentSigner enables signed attachment download links.
func WithAttachmentSigner(signer *storage.SignedURLSigner) LifecycleServiceOption {
	return func(s *LifecycleService) {
		s.attachments = signer
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) LifecycleServiceOption {
	return func(s *LifecycleService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewLifecycleService constructs the service with defaults.
func NewLifecycleService(repo requestStore, audit auditLogger, logger *zap.Logger, opts ...LifecycleServiceOption) *LifecycleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &LifecycleService{
		repo:      repo,
		audit:     audit,
		logger:    logger,
		publisher: TransitionPublisherFunc(func(models.TransitionEvent) {}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create files a new request in PENDING state for the acting student.
func (s *LifecycleService) Create(ctx context.Context, payload dto.CreateRequestPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	category := models.RequestCategory(strings.ToUpper(string(payload.Category)))
	if !models.ValidCategory(category) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported request category")
	}
	if strings.TrimSpace(payload.Title) == "" || strings.TrimSpace(payload.Description) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title and description are required")
	}
	if err := validateSchedule(payload.ScheduleStart, payload.ScheduleEnd, s.now()); err != nil {
		return nil, err
	}

	req := &models.MaintenanceRequest{
		RequesterID:   actor.UserID,
		Category:      category,
		Title:         strings.TrimSpace(payload.Title),
		Description:   strings.TrimSpace(payload.Description),
		ScheduleStart: payload.ScheduleStart.UTC(),
		ScheduleEnd:   payload.ScheduleEnd.UTC(),
		State:         models.StatePending,
		AttachmentRef: optionalString(payload.AttachmentRef),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestCreate, req.ID, nil, req)
	return req, nil
}

// Get returns a request enforcing scope constraints: students see only their
// own records, staff and admins see everything.
func (s *LifecycleService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent && req.RequesterID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return req, nil
}

// AttachmentLink signs the opaque attachment reference on a request so the
// caller can fetch the blob from the file gateway. Visibility follows Get.
func (s *LifecycleService) AttachmentLink(ctx context.Context, id string, actor *models.JWTClaims) (*dto.AttachmentLink, error) {
	if s.attachments == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "attachment links are not configured")
	}
	req, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if req.AttachmentRef == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "request has no attachment")
	}
	token, expiresAt, err := s.attachments.Generate(req.ID, *req.AttachmentRef)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign attachment link")
	}
	return &dto.AttachmentLink{Token: token, ExpiresAt: expiresAt}, nil
}

// List returns requests visible to the actor. Students are always scoped to
// their own records; ActiveOnly drops terminal states from the result.
func (s *LifecycleService) List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.RequestFilter{
		States:     query.States,
		Category:   query.Category,
		ActiveOnly: query.ActiveOnly,
		Limit:      query.Limit,
		Offset:     query.Offset,
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin, models.RoleStaff:
		// full visibility
	case models.RoleStudent:
		filter.RequesterID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, nil
}

// ApplyTransition advances a request along the lifecycle graph. The payload
// names the state the caller expects to transition from; a mismatch with the
// persisted state fails with STATE_CONFLICT and leaves the record untouched.
func (s *LifecycleService) ApplyTransition(ctx context.Context, id string, payload dto.TransitionPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	from := models.RequestState(strings.ToUpper(string(payload.FromState)))
	to := models.RequestState(strings.ToUpper(string(payload.ToState)))
	if !models.ValidState(from) || !models.ValidState(to) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown lifecycle state")
	}
	if !models.CanTransition(from, to) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			"cannot transition from "+string(from)+" to "+string(to))
	}
	if err := authorizeTransition(actor.Role, to); err != nil {
		return nil, err
	}

	params := repository.SwapStateParams{
		ID:            id,
		ExpectedState: from,
		NewState:      to,
		LastModified:  s.now(),
	}
	switch to {
	case models.StateAssigned:
		staff := strings.TrimSpace(payload.AssignedStaff)
		if staff == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "assignedStaff is required when assigning")
		}
		params.AssignedStaff = &staff
	case models.StateRejected:
		reason := strings.TrimSpace(payload.RejectionReason)
		if reason == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "rejectionReason is required when rejecting")
		}
		params.RejectionReason = &reason
	}

	req, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CompareAndSwapState(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStateConflict,
				"request is no longer in state "+string(from))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
	}

	prior := *req
	req.State = to
	req.LastModified = params.LastModified
	if params.AssignedStaff != nil {
		req.AssignedStaff = params.AssignedStaff
	}
	if params.RejectionReason != nil {
		req.RejectionReason = params.RejectionReason
	}

	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestTransition, req.ID, &prior, req)
	s.publisher.PublishTransition(models.TransitionEvent{
		RequestID:       req.ID,
		RequesterID:     req.RequesterID,
		FromState:       from,
		ToState:         to,
		AssignedStaff:   params.AssignedStaff,
		RejectionReason: params.RejectionReason,
		OccurredAt:      params.LastModified,
	})
	return req, nil
}

// AttachReview records the one-and-only review on a completed request. Both
// failure modes (not completed, already reviewed) are terminal outcomes the
// client surfaces instead of retrying.
func (s *LifecycleService) AttachReview(ctx context.Context, id string, payload dto.ReviewPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if payload.Rating < 1 || payload.Rating > 5 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rating must be between 1 and 5")
	}

	req, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester may review")
	}
	if err := reviewPrecondition(req); err != nil {
		return nil, err
	}

	submittedAt := s.now()
	comment := strings.TrimSpace(payload.Comment)
	if err := s.repo.AttachReview(ctx, id, payload.Rating, comment, submittedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The guard failed between our read and the write; re-fetch to
			// report the precise terminal outcome.
			current, ferr := s.fetch(ctx, id)
			if ferr != nil {
				return nil, ferr
			}
			if perr := reviewPrecondition(current); perr != nil {
				return nil, perr
			}
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "review could not be attached")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach review")
	}

	prior := *req
	req.ReviewRating = &payload.Rating
	req.ReviewComment = &comment
	req.ReviewSubmittedAt = &submittedAt
	req.LastModified = submittedAt

	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestReview, req.ID, &prior, req)
	return req, nil
}

// Reschedule supersedes a non-terminal request with a fresh PENDING one
// carrying the same category, title, description and attachment. The
// original is never mutated in place: it transitions to SUPERSEDED (terminal)
// and keeps any assignment for the audit trail.
func (s *LifecycleService) Reschedule(ctx context.Context, id string, payload dto.ReschedulePayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := validateSchedule(payload.ScheduleStart, payload.ScheduleEnd, s.now()); err != nil {
		return nil, err
	}
	from := models.RequestState(strings.ToUpper(string(payload.FromState)))
	if !models.ValidState(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown lifecycle state")
	}
	if from.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrTerminalState, "cannot reschedule a "+strings.ToLower(string(from))+" request")
	}

	req, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester may reschedule")
	}
	if req.State.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrTerminalState, "cannot reschedule a "+strings.ToLower(string(req.State))+" request")
	}

	replacement := &models.MaintenanceRequest{
		ID:            uuid.NewString(),
		RequesterID:   req.RequesterID,
		Category:      req.Category,
		Title:         req.Title,
		Description:   req.Description,
		ScheduleStart: payload.ScheduleStart.UTC(),
		ScheduleEnd:   payload.ScheduleEnd.UTC(),
		State:         models.StatePending,
		AttachmentRef: req.AttachmentRef,
		Supersedes:    &req.ID,
	}

	now := s.now()
	if err := s.repo.CompareAndSwapState(ctx, repository.SwapStateParams{
		ID:            req.ID,
		ExpectedState: from,
		NewState:      models.StateSuperseded,
		SupersededBy:  &replacement.ID,
		LastModified:  now,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStateConflict,
				"request is no longer in state "+string(from))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire request")
	}

	if err := s.repo.Create(ctx, replacement); err != nil {
		// The original is already retired; surface the failure rather than
		// leave the client guessing. The record stays superseded without a
		// replacement until the client retries.
		s.logger.Error("replacement create failed after supersede",
			zap.String("request_id", req.ID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create replacement request")
	}

	prior := *req
	req.State = models.StateSuperseded
	req.SupersededBy = &replacement.ID
	req.LastModified = now

	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestReschedule, req.ID, &prior, replacement)
	s.publisher.PublishTransition(models.TransitionEvent{
		RequestID:    req.ID,
		RequesterID:  req.RequesterID,
		FromState:    from,
		ToState:      models.StateSuperseded,
		SupersededBy: &replacement.ID,
		OccurredAt:   now,
	})
	return replacement, nil
}

// fetch loads a record mapping missing rows to NOT_FOUND.
func (s *LifecycleService) fetch(ctx context.Context, id string) (*models.MaintenanceRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return req, nil
}

func (s *LifecycleService) emitAudit(ctx context.Context, userID, action, resourceID string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "maintenance_request",
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "lifecycle-service",
	}
	if oldValue != nil {
		log.OldValues, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		log.NewValues, _ = json.Marshal(newValue)
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func reviewPrecondition(req *models.MaintenanceRequest) error {
	if req.Reviewed() {
		return appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
	}
	if req.State != models.StateCompleted {
		return appErrors.Clone(appErrors.ErrNotCompleted, "reviews require a completed request")
	}
	return nil
}

func authorizeTransition(role models.UserRole, to models.RequestState) error {
	switch to {
	case models.StateApproved, models.StateRejected, models.StateAssigned:
		if role != models.RoleAdmin && role != models.RoleSuperAdmin {
			return appErrors.Clone(appErrors.ErrForbidden, "only admins may approve, reject or assign")
		}
	case models.StateInProgress, models.StateInReview, models.StateCompleted:
		if role != models.RoleStaff && role != models.RoleAdmin && role != models.RoleSuperAdmin {
			return appErrors.Clone(appErrors.ErrForbidden, "only staff may progress a request")
		}
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "state cannot be entered directly")
	}
	return nil
}

func validateSchedule(start, end, now time.Time) error {
	if !start.Before(end) {
		return appErrors.Clone(appErrors.ErrValidation, "schedule start must be before end")
	}
	if !start.After(now) {
		return appErrors.Clone(appErrors.ErrValidation, "schedule start must be in the future")
	}
	return nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
