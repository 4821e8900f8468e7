package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dormhub/dorm-portal-api/internal/dto"
	"github.com/dormhub/dorm-portal-api/internal/models"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
	"github.com/dormhub/dorm-portal-api/pkg/response"
)

type lifecycleService interface {
	Create(ctx context.Context, payload dto.CreateRequestPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.MaintenanceRequest, error)
	ApplyTransition(ctx context.Context, id string, payload dto.TransitionPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	AttachReview(ctx context.Context, id string, payload dto.ReviewPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	Reschedule(ctx context.Context, id string, payload dto.ReschedulePayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	AttachmentLink(ctx context.Context, id string, actor *models.JWTClaims) (*dto.AttachmentLink, error)
}

// MaintenanceHandler exposes REST endpoints for the request lifecycle.
type MaintenanceHandler struct {
	service lifecycleService
}

// NewMaintenanceHandler constructs the handler.
func NewMaintenanceHandler(service lifecycleService) *MaintenanceHandler {
	return &MaintenanceHandler{service: service}
}

// Create godoc
// @Summary Submit a maintenance request
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestPayload true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /maintenance/requests [post]
func (h *MaintenanceHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "lifecycle service not configured"))
		return
	}
	var payload dto.CreateRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req, err := h.service.Create(c.Request.Context(), payload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, req, nil)
}

// List godoc
// @Summary List maintenance requests
// @Tags Maintenance
// @Produce json
// @Param state query string false "Comma separated states"
// @Param category query string false "Request category"
// @Param active query bool false "Only non-terminal requests"
// @Success 200 {object} response.Envelope
// @Router /maintenance/requests [get]
func (h *MaintenanceHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "lifecycle service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.RequestQuery{}
	if rawCategory := c.Query("category"); rawCategory != "" {
		query.Category = models.RequestCategory(strings.ToUpper(rawCategory))
	}
	if rawState := c.Query("state"); rawState != "" {
		parts := strings.Split(rawState, ",")
		states := make([]models.RequestState, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			states = append(states, models.RequestState(part))
		}
		query.States = states
	}
	query.ActiveOnly, _ = strconv.ParseBool(c.Query("active"))
	query.Limit, _ = strconv.Atoi(c.Query("limit"))
	query.Offset, _ = strconv.Atoi(c.Query("offset"))

	requests, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get maintenance request detail
// @Tags Maintenance
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /maintenance/requests/{id} [get]
func (h *MaintenanceHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "lifecycle service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// AttachmentLink godoc
// @Summary Get a signed attachment link
// @Tags Maintenance
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /maintenance/requests/{id}/attachment [get]
func (h *MaintenanceHandler) AttachmentLink(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "lifecycle service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	link, err := h.service.AttachmentLink(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Transition godoc
// @Summary Apply a lifecycle transition
// @Description Moves a request along the lifecycle graph. The fromState field guards against concurrent changes.
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.TransitionPayload true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /maintenance/requests/{id}/transition [post]
func (h *MaintenanceHandler) Transition(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "lifecycle service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.TransitionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	req, err := h.service.ApplyTransition(c.Request.Context(), c.Param("id"), payload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Review godoc
// @Summary Review a completed request
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewPayload true "Review payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /maintenance/requests/{id}/review [post]
func (h *MaintenanceHandler) Review(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "lifecycle service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.ReviewPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	req, err := h.service.AttachReview(c.Request.Context(), c.Param("id"), payload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Reschedule godoc
// @Summary Reschedule a request
// @Description Supersedes the request with a new PENDING one carrying the new schedule window.
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReschedulePayload true "Reschedule payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /maintenance/requests/{id}/reschedule [post]
func (h *MaintenanceHandler) Reschedule(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "lifecycle service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.ReschedulePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid reschedule payload"))
		return
	}
	replacement, err := h.service.Reschedule(c.Request.Context(), c.Param("id"), payload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, replacement, nil)
}
