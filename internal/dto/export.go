package dto

import "github.com/dormhub/dorm-portal-api/internal/models"

// CreateExportPayload requests an asynchronous request-history export.
type CreateExportPayload struct {
	RequesterID string              `json:"requesterId"`
	Format      models.ExportFormat `json:"format" binding:"required"`
}
