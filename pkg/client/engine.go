// Package client is the reconciling SDK for the maintenance request API. It
// never trusts cached state: every state-changing action re-fetches the
// authoritative record first, passes the fetched state as the compare-and-swap
// guard, and resolves conflicts and ambiguous failures by re-fetching again
// instead of blind retry.
package client

import (
	"context"
	"errors"
	"net"

	"github.com/dormhub/dorm-portal-api/internal/dto"
	"github.com/dormhub/dorm-portal-api/internal/models"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
)

// Engine is the server surface the reconciler drives.
type Engine interface {
	Fetch(ctx context.Context, id string) (*models.MaintenanceRequest, error)
	ListActive(ctx context.Context) ([]models.MaintenanceRequest, error)
	Create(ctx context.Context, payload dto.CreateRequestPayload) (*models.MaintenanceRequest, error)
	ApplyTransition(ctx context.Context, id string, payload dto.TransitionPayload) (*models.MaintenanceRequest, error)
	AttachReview(ctx context.Context, id string, payload dto.ReviewPayload) (*models.MaintenanceRequest, error)
	Reschedule(ctx context.Context, id string, payload dto.ReschedulePayload) (*models.MaintenanceRequest, error)
}

// Outcome is the result of a reconciled action. Precondition failures caused
// by a stale local view (already reviewed, not completed, terminal state) are
// reported here rather than as errors: the likely cause is the user's own
// stale screen, not a fault.
type Outcome struct {
	// Request is the freshest known record; after a reschedule it is the
	// replacement, not the retired original.
	Request *models.MaintenanceRequest
	// Applied is true when the action took effect in this call.
	Applied bool
	// AlreadyDone is true when the action had already been performed,
	// possibly by an earlier attempt whose response was lost.
	AlreadyDone bool
	// Message carries the human-readable explanation when Applied is false.
	Message string
}

// isAmbiguous reports whether an action error leaves the write outcome
// unknown. Timeouts after the request may have reached the server must be
// resolved by re-fetch-and-compare, never by retrying the write.
func isAmbiguous(err error) bool {
	if err == nil {
		return false
	}
	if appErrors.Is(err, appErrors.ErrAmbiguousFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
