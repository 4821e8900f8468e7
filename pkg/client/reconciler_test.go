package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dormhub/dorm-portal-api/internal/dto"
	"github.com/dormhub/dorm-portal-api/internal/models"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
)

type engineStub struct {
	fetchFn      func(id string) (*models.MaintenanceRequest, error)
	listFn       func() ([]models.MaintenanceRequest, error)
	transitionFn func(id string, payload dto.TransitionPayload) (*models.MaintenanceRequest, error)
	reviewFn     func(id string, payload dto.ReviewPayload) (*models.MaintenanceRequest, error)
	rescheduleFn func(id string, payload dto.ReschedulePayload) (*models.MaintenanceRequest, error)

	fetchCalls      int
	transitionCalls int
	reviewCalls     int
	rescheduleCalls int
}

func (e *engineStub) Fetch(ctx context.Context, id string) (*models.MaintenanceRequest, error) {
	e.fetchCalls++
	return e.fetchFn(id)
}

func (e *engineStub) ListActive(ctx context.Context) ([]models.MaintenanceRequest, error) {
	return e.listFn()
}

func (e *engineStub) Create(ctx context.Context, payload dto.CreateRequestPayload) (*models.MaintenanceRequest, error) {
	return nil, nil
}

func (e *engineStub) ApplyTransition(ctx context.Context, id string, payload dto.TransitionPayload) (*models.MaintenanceRequest, error) {
	e.transitionCalls++
	return e.transitionFn(id, payload)
}

func (e *engineStub) AttachReview(ctx context.Context, id string, payload dto.ReviewPayload) (*models.MaintenanceRequest, error) {
	e.reviewCalls++
	return e.reviewFn(id, payload)
}

func (e *engineStub) Reschedule(ctx context.Context, id string, payload dto.ReschedulePayload) (*models.MaintenanceRequest, error) {
	e.rescheduleCalls++
	return e.rescheduleFn(id, payload)
}

func sampleRequest(id string, state models.RequestState, lastModified time.Time) *models.MaintenanceRequest {
	return &models.MaintenanceRequest{
		ID:           id,
		RequesterID:  "student-1",
		Category:     models.CategoryRepair,
		Title:        "Broken heater",
		State:        state,
		CreatedAt:    lastModified.Add(-time.Hour),
		LastModified: lastModified,
	}
}

func TestSubmitReviewSurfacesStaleViewAsInformational(t *testing.T) {
	now := time.Now().UTC()
	rating := 4
	engine := &engineStub{
		fetchFn: func(id string) (*models.MaintenanceRequest, error) {
			req := sampleRequest(id, models.StateCompleted, now)
			req.ReviewRating = &rating
			return req, nil
		},
	}
	r := NewReconciler(engine)

	outcome, err := r.SubmitReview(context.Background(), "req-1", 5, "late thoughts")
	require.NoError(t, err)
	require.False(t, outcome.Applied)
	require.True(t, outcome.AlreadyDone)
	require.Zero(t, engine.reviewCalls, "a failed precondition must not reach the engine")
}

func TestSubmitReviewAmbiguousResolvedByRefetch(t *testing.T) {
	now := time.Now().UTC()
	rating := 5
	reviewed := false
	engine := &engineStub{
		fetchFn: func(id string) (*models.MaintenanceRequest, error) {
			req := sampleRequest(id, models.StateCompleted, now)
			if reviewed {
				req.ReviewRating = &rating
			}
			return req, nil
		},
		reviewFn: func(id string, payload dto.ReviewPayload) (*models.MaintenanceRequest, error) {
			// The write landed but the response was lost to a timeout.
			reviewed = true
			return nil, appErrors.Clone(appErrors.ErrAmbiguousFailure, "")
		},
	}
	r := NewReconciler(engine)

	outcome, err := r.SubmitReview(context.Background(), "req-1", 5, "good")
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, 1, engine.reviewCalls, "an ambiguous outcome must never cause a second submit")
}

func TestSubmitReviewConflictReportsTerminalOutcome(t *testing.T) {
	now := time.Now().UTC()
	rating := 3
	calls := 0
	engine := &engineStub{
		fetchFn: func(id string) (*models.MaintenanceRequest, error) {
			calls++
			req := sampleRequest(id, models.StateCompleted, now)
			if calls > 1 {
				// Someone else reviewed between our fetch and the write.
				req.ReviewRating = &rating
			}
			return req, nil
		},
		reviewFn: func(id string, payload dto.ReviewPayload) (*models.MaintenanceRequest, error) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
		},
	}
	r := NewReconciler(engine)

	outcome, err := r.SubmitReview(context.Background(), "req-1", 5, "")
	require.NoError(t, err)
	require.True(t, outcome.AlreadyDone)
	require.Equal(t, 1, engine.reviewCalls)
}

func TestSubmitTransitionRetriesConflictOnce(t *testing.T) {
	now := time.Now().UTC()
	state := models.StateApproved
	engine := &engineStub{}
	engine.fetchFn = func(id string) (*models.MaintenanceRequest, error) {
		return sampleRequest(id, state, now), nil
	}
	engine.transitionFn = func(id string, payload dto.TransitionPayload) (*models.MaintenanceRequest, error) {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "")
	}
	r := NewReconciler(engine)

	_, err := r.SubmitTransition(context.Background(), "req-1", models.StateAssigned, "staff-1", "")
	require.True(t, appErrors.Is(err, appErrors.ErrStateConflict))
	require.Equal(t, 2, engine.transitionCalls, "exactly one automatic retry, then surface")
}

func TestSubmitTransitionPassesFetchedStateAsGuard(t *testing.T) {
	now := time.Now().UTC()
	engine := &engineStub{}
	engine.fetchFn = func(id string) (*models.MaintenanceRequest, error) {
		return sampleRequest(id, models.StateApproved, now), nil
	}
	engine.transitionFn = func(id string, payload dto.TransitionPayload) (*models.MaintenanceRequest, error) {
		require.Equal(t, models.StateApproved, payload.FromState)
		updated := sampleRequest(id, models.StateAssigned, now.Add(time.Second))
		staff := payload.AssignedStaff
		updated.AssignedStaff = &staff
		return updated, nil
	}
	r := NewReconciler(engine)

	outcome, err := r.SubmitTransition(context.Background(), "req-1", models.StateAssigned, "staff-1", "")
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, models.StateAssigned, outcome.Request.State)
}

func TestRescheduleSwapsActiveList(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(48 * time.Hour)
	engine := &engineStub{}
	engine.fetchFn = func(id string) (*models.MaintenanceRequest, error) {
		return sampleRequest(id, models.StatePending, now), nil
	}
	engine.rescheduleFn = func(id string, payload dto.ReschedulePayload) (*models.MaintenanceRequest, error) {
		replacement := sampleRequest("req-2", models.StatePending, now.Add(time.Second))
		replacement.Supersedes = &id
		return replacement, nil
	}
	r := NewReconciler(engine)
	r.Active().Apply(sampleRequest("req-1", models.StatePending, now))

	outcome, err := r.Reschedule(context.Background(), "req-1", future, future.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, "req-2", outcome.Request.ID)

	_, oldActive := r.Active().Get("req-1")
	_, newActive := r.Active().Get("req-2")
	require.False(t, oldActive, "the retired request must leave the active list")
	require.True(t, newActive)
	require.Equal(t, 1, r.Active().Len(), "old and new are never both active")
}

func TestRescheduleConflictAgainstCompletionIsTerminal(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(48 * time.Hour)
	fetches := 0
	engine := &engineStub{}
	engine.fetchFn = func(id string) (*models.MaintenanceRequest, error) {
		fetches++
		if fetches == 1 {
			return sampleRequest(id, models.StateInReview, now), nil
		}
		return sampleRequest(id, models.StateCompleted, now.Add(time.Second)), nil
	}
	engine.rescheduleFn = func(id string, payload dto.ReschedulePayload) (*models.MaintenanceRequest, error) {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "")
	}
	r := NewReconciler(engine)

	outcome, err := r.Reschedule(context.Background(), "req-1", future, future.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, outcome.Applied)
	require.Contains(t, outcome.Message, "cannot reschedule a completed request")
	require.Equal(t, 1, engine.rescheduleCalls, "a terminal outcome must not be retried")
}

func TestRescheduleAmbiguousDetectsAppliedWrite(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(48 * time.Hour)
	replacementID := "req-2"
	fetches := 0
	engine := &engineStub{}
	engine.fetchFn = func(id string) (*models.MaintenanceRequest, error) {
		fetches++
		if id == replacementID {
			return sampleRequest(replacementID, models.StatePending, now.Add(time.Second)), nil
		}
		if fetches == 1 {
			return sampleRequest(id, models.StatePending, now), nil
		}
		retired := sampleRequest(id, models.StateSuperseded, now.Add(time.Second))
		retired.SupersededBy = &replacementID
		return retired, nil
	}
	engine.rescheduleFn = func(id string, payload dto.ReschedulePayload) (*models.MaintenanceRequest, error) {
		return nil, appErrors.Clone(appErrors.ErrAmbiguousFailure, "")
	}
	r := NewReconciler(engine)

	outcome, err := r.Reschedule(context.Background(), "req-1", future, future.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, replacementID, outcome.Request.ID)
	require.Equal(t, 1, engine.rescheduleCalls, "the write landed; never submit twice")
}

func TestRescheduleValidatesWindow(t *testing.T) {
	engine := &engineStub{}
	r := NewReconciler(engine)
	now := time.Now().UTC()

	_, err := r.Reschedule(context.Background(), "req-1", now.Add(2*time.Hour), now.Add(time.Hour))
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = r.Reschedule(context.Background(), "req-1", now.Add(-time.Hour), now.Add(time.Hour))
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.Zero(t, engine.fetchCalls)
}

func TestHandleEventIgnoresStaleEvents(t *testing.T) {
	now := time.Now().UTC()
	engine := &engineStub{}
	engine.fetchFn = func(id string) (*models.MaintenanceRequest, error) {
		t.Fatal("a stale event must not trigger a fetch")
		return nil, nil
	}
	r := NewReconciler(engine)
	r.Active().Apply(sampleRequest("req-1", models.StateApproved, now))

	err := r.HandleEvent(context.Background(), models.TransitionEvent{
		RequestID:  "req-1",
		ToState:    models.StatePending,
		OccurredAt: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	cached, ok := r.Active().Get("req-1")
	require.True(t, ok)
	require.Equal(t, models.StateApproved, cached.State)
}

func TestHandleEventRefetchesInsteadOfTrustingPayload(t *testing.T) {
	now := time.Now().UTC()
	engine := &engineStub{}
	engine.fetchFn = func(id string) (*models.MaintenanceRequest, error) {
		// The authoritative record has already moved past the event's state.
		return sampleRequest(id, models.StateInProgress, now.Add(2*time.Minute)), nil
	}
	r := NewReconciler(engine)
	r.Active().Apply(sampleRequest("req-1", models.StateApproved, now))

	err := r.HandleEvent(context.Background(), models.TransitionEvent{
		RequestID:  "req-1",
		ToState:    models.StateAssigned,
		OccurredAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	cached, ok := r.Active().Get("req-1")
	require.True(t, ok)
	require.Equal(t, models.StateInProgress, cached.State, "the fetched record wins over the event payload")
}

func TestResyncReplacesActiveList(t *testing.T) {
	now := time.Now().UTC()
	engine := &engineStub{}
	engine.listFn = func() ([]models.MaintenanceRequest, error) {
		return []models.MaintenanceRequest{
			*sampleRequest("req-2", models.StatePending, now),
			*sampleRequest("req-3", models.StateCompleted, now),
		}, nil
	}
	r := NewReconciler(engine)
	r.Active().Apply(sampleRequest("req-1", models.StateApproved, now))

	require.NoError(t, r.Resync(context.Background()))
	require.Equal(t, 1, r.Active().Len())
	_, ok := r.Active().Get("req-2")
	require.True(t, ok)
	_, gone := r.Active().Get("req-1")
	require.False(t, gone)

	snapshot := r.Active().Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, "req-2", snapshot[0].ID)
}
