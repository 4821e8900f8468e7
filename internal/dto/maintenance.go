package dto

import (
	"time"

	"github.com/dormhub/dorm-portal-api/internal/models"
)

// CreateRequestPayload submits a new maintenance request (state PENDING).
type CreateRequestPayload struct {
	Category      models.RequestCategory `json:"category" binding:"required"`
	Title         string                 `json:"title" binding:"required"`
	Description   string                 `json:"description" binding:"required"`
	ScheduleStart time.Time              `json:"scheduleStart" binding:"required"`
	ScheduleEnd   time.Time              `json:"scheduleEnd" binding:"required"`
	AttachmentRef string                 `json:"attachmentRef"`
}

// TransitionPayload moves a request along the lifecycle graph. FromState is
// the compare-and-swap guard: the transition only applies if the persisted
// state still matches it.
type TransitionPayload struct {
	FromState       models.RequestState `json:"fromState" binding:"required"`
	ToState         models.RequestState `json:"toState" binding:"required"`
	AssignedStaff   string              `json:"assignedStaff"`
	RejectionReason string              `json:"rejectionReason"`
}

// ReviewPayload attaches the one-and-only review to a completed request.
type ReviewPayload struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

// ReschedulePayload supersedes a request with a new PENDING one carrying a
// different schedule window.
type ReschedulePayload struct {
	FromState     models.RequestState `json:"fromState" binding:"required"`
	ScheduleStart time.Time           `json:"scheduleStart" binding:"required"`
	ScheduleEnd   time.Time           `json:"scheduleEnd" binding:"required"`
}

// AttachmentLink is a short-lived signed pointer to an attachment blob. The
// blob gateway resolves the token; the portal never reads file contents.
type AttachmentLink struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RequestQuery constrains request listings.
type RequestQuery struct {
	States     []models.RequestState
	Category   models.RequestCategory
	ActiveOnly bool
	Limit      int
	Offset     int
}
