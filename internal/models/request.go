package models

import "time"

// RequestCategory enumerates the kinds of maintenance requests students may file.
type RequestCategory string

const (
	CategoryCleaning    RequestCategory = "CLEANING"
	CategoryRepair      RequestCategory = "REPAIR"
	CategoryMaintenance RequestCategory = "MAINTENANCE"
)

// ValidCategory reports whether the category is one of the supported values.
func ValidCategory(c RequestCategory) bool {
	switch c {
	case CategoryCleaning, CategoryRepair, CategoryMaintenance:
		return true
	}
	return false
}

// RequestState captures the lifecycle states of a maintenance request.
type RequestState string

const (
	StatePending    RequestState = "PENDING"
	StateApproved   RequestState = "APPROVED"
	StateRejected   RequestState = "REJECTED"
	StateAssigned   RequestState = "ASSIGNED"
	StateInProgress RequestState = "IN_PROGRESS"
	StateInReview   RequestState = "IN_REVIEW"
	StateCompleted  RequestState = "COMPLETED"
	StateSuperseded RequestState = "SUPERSEDED"
)

// transitions is the legal successor set for each state. Terminal states have
// no successors; SUPERSEDED is only ever reached through a reschedule.
var transitions = map[RequestState][]RequestState{
	StatePending:    {StateApproved, StateRejected},
	StateApproved:   {StateAssigned},
	StateAssigned:   {StateInProgress},
	StateInProgress: {StateInReview},
	StateInReview:   {StateCompleted},
}

// CanTransition reports whether to is a legal successor of from.
func CanTransition(from, to RequestState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state admits no further transitions.
func (s RequestState) Terminal() bool {
	return s == StateRejected || s == StateCompleted || s == StateSuperseded
}

// ValidState reports whether s names a known lifecycle state.
func ValidState(s RequestState) bool {
	switch s {
	case StatePending, StateApproved, StateRejected, StateAssigned,
		StateInProgress, StateInReview, StateCompleted, StateSuperseded:
		return true
	}
	return false
}

// MaintenanceRequest is the authoritative record of a student service request.
// State is mutated exclusively through the lifecycle service; records are
// never physically deleted.
type MaintenanceRequest struct {
	ID            string          `db:"id" json:"id"`
	RequesterID   string          `db:"requester_id" json:"requesterId"`
	Category      RequestCategory `db:"category" json:"category"`
	Title         string          `db:"title" json:"title"`
	Description   string          `db:"description" json:"description"`
	ScheduleStart time.Time       `db:"schedule_start" json:"scheduleStart"`
	ScheduleEnd   time.Time       `db:"schedule_end" json:"scheduleEnd"`
	State         RequestState    `db:"state" json:"state"`

	AssignedStaff   *string `db:"assigned_staff" json:"assignedStaff,omitempty"`
	RejectionReason *string `db:"rejection_reason" json:"rejectionReason,omitempty"`
	AttachmentRef   *string `db:"attachment_ref" json:"attachmentRef,omitempty"`

	ReviewRating      *int       `db:"review_rating" json:"reviewRating,omitempty"`
	ReviewComment     *string    `db:"review_comment" json:"reviewComment,omitempty"`
	ReviewSubmittedAt *time.Time `db:"review_submitted_at" json:"reviewSubmittedAt,omitempty"`

	Supersedes   *string `db:"supersedes" json:"supersedes,omitempty"`
	SupersededBy *string `db:"superseded_by" json:"supersededBy,omitempty"`

	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	LastModified time.Time `db:"last_modified" json:"lastModified"`
}

// Reviewed reports whether a review has been attached.
func (r *MaintenanceRequest) Reviewed() bool {
	return r.ReviewRating != nil
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	RequesterID   string
	States        []RequestState
	Category      RequestCategory
	AssignedStaff string
	ActiveOnly    bool
	Limit         int
	Offset        int
}
