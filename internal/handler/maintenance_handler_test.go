package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/dormhub/dorm-portal-api/internal/dto"
	"github.com/dormhub/dorm-portal-api/internal/middleware"
	"github.com/dormhub/dorm-portal-api/internal/models"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
)

type lifecycleServiceMock struct {
	transitionErr error
	reviewErr     error
	request       *models.MaintenanceRequest
}

func (m *lifecycleServiceMock) Create(ctx context.Context, payload dto.CreateRequestPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	return m.request, nil
}

func (m *lifecycleServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	return m.request, nil
}

func (m *lifecycleServiceMock) List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.MaintenanceRequest, error) {
	return nil, nil
}

func (m *lifecycleServiceMock) ApplyTransition(ctx context.Context, id string, payload dto.TransitionPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if m.transitionErr != nil {
		return nil, m.transitionErr
	}
	return m.request, nil
}

func (m *lifecycleServiceMock) AttachReview(ctx context.Context, id string, payload dto.ReviewPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if m.reviewErr != nil {
		return nil, m.reviewErr
	}
	return m.request, nil
}

func (m *lifecycleServiceMock) Reschedule(ctx context.Context, id string, payload dto.ReschedulePayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	return m.request, nil
}

func (m *lifecycleServiceMock) AttachmentLink(ctx context.Context, id string, actor *models.JWTClaims) (*dto.AttachmentLink, error) {
	return &dto.AttachmentLink{Token: "signed"}, nil
}

func newTransitionContext(t *testing.T, w *httptest.ResponseRecorder, payload dto.TransitionPayload) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, "/maintenance/requests/req-1/transition", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	return c
}

func TestMaintenanceHandlerTransitionConflictStatus(t *testing.T) {
	handler := NewMaintenanceHandler(&lifecycleServiceMock{
		transitionErr: appErrors.ErrStateConflict,
	})
	w := httptest.NewRecorder()
	c := newTransitionContext(t, w, dto.TransitionPayload{
		FromState: models.StatePending,
		ToState:   models.StateApproved,
	})

	handler.Transition(c)
	require.Equal(t, http.StatusConflict, w.Code)

	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "STATE_CONFLICT", envelope.Error.Code)
}

func TestMaintenanceHandlerTransitionInvalidEdgeStatus(t *testing.T) {
	handler := NewMaintenanceHandler(&lifecycleServiceMock{
		transitionErr: appErrors.ErrInvalidTransition,
	})
	w := httptest.NewRecorder()
	c := newTransitionContext(t, w, dto.TransitionPayload{
		FromState: models.StatePending,
		ToState:   models.StateCompleted,
	})

	handler.Transition(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestMaintenanceHandlerTransitionRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewMaintenanceHandler(&lifecycleServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.TransitionPayload{FromState: models.StatePending, ToState: models.StateApproved})
	req, _ := http.NewRequest(http.MethodPost, "/maintenance/requests/req-1/transition", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Transition(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMaintenanceHandlerReviewConflictStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewMaintenanceHandler(&lifecycleServiceMock{
		reviewErr: appErrors.ErrAlreadyReviewed,
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.ReviewPayload{Rating: 5, Comment: "nice"})
	req, _ := http.NewRequest(http.MethodPost, "/maintenance/requests/req-1/review", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})

	handler.Review(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestMaintenanceHandlerCreateReturnsRecord(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now().UTC()
	handler := NewMaintenanceHandler(&lifecycleServiceMock{
		request: &models.MaintenanceRequest{
			ID:           "req-1",
			RequesterID:  "student-1",
			Category:     models.CategoryRepair,
			State:        models.StatePending,
			LastModified: now,
		},
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.CreateRequestPayload{
		Category:      models.CategoryRepair,
		Title:         "Broken heater",
		Description:   "leaking",
		ScheduleStart: now.Add(24 * time.Hour),
		ScheduleEnd:   now.Add(26 * time.Hour),
	})
	req, _ := http.NewRequest(http.MethodPost, "/maintenance/requests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data models.MaintenanceRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "req-1", envelope.Data.ID)
	require.Equal(t, models.StatePending, envelope.Data.State)
}
