package models

import "time"

// TransitionEvent is the payload broadcast to a student's session channel
// after a lifecycle commit. Clients treat it as a hint to re-fetch, never as
// the new state itself.
type TransitionEvent struct {
	RequestID       string       `json:"requestId"`
	RequesterID     string       `json:"requesterId"`
	FromState       RequestState `json:"fromState"`
	ToState         RequestState `json:"toState"`
	AssignedStaff   *string      `json:"assignedStaff,omitempty"`
	RejectionReason *string      `json:"rejectionReason,omitempty"`
	SupersededBy    *string      `json:"supersededBy,omitempty"`
	OccurredAt      time.Time    `json:"occurredAt"`
}
