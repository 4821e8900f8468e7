package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"database/sql"

	"go.uber.org/zap"

	"github.com/dormhub/dorm-portal-api/internal/dto"
	"github.com/dormhub/dorm-portal-api/internal/models"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
	"github.com/dormhub/dorm-portal-api/pkg/export"
	"github.com/dormhub/dorm-portal-api/pkg/jobs"
	"github.com/dormhub/dorm-portal-api/pkg/storage"
)

type exportStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	UpdateStatus(ctx context.Context, id string, status models.ExportStatus, resultURL, errorMessage *string) error
}

// ExportConfig tunes the export worker pool and file retention.
type ExportConfig struct {
	WorkerConcurrency int
	WorkerRetries     int
	RetentionTTL      time.Duration
	CleanupInterval   time.Duration
}

// ExportService renders request-history exports asynchronously. Terminal
// records never leave the store, so history reports remain complete even
// after requests are superseded or completed.
type ExportService struct {
	repo     exportStore
	requests requestStore
	audit    auditLogger
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	files    *storage.LocalStorage
	signer   *storage.SignedURLSigner
	queue    *jobs.Queue
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs the service with its worker queue.
func NewExportService(repo exportStore, requests requestStore, audit auditLogger, files *storage.LocalStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ExportService{
		repo:     repo,
		requests: requests,
		audit:    audit,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		files:    files,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
	}
	svc.queue = jobs.NewQueue("exports", svc.process, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return svc
}

// Start launches the export workers and the retention sweeper.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	s.startCleanup(ctx)
}

func (s *ExportService) startCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 || s.cfg.RetentionTTL <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.files.CleanupOlderThan(s.cfg.RetentionTTL)
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if len(deleted) > 0 {
					s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
				}
			}
		}
	}()
}

// Stop drains and stops the export workers.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

// CreateExport queues a new request-history export. Staff and admins only.
func (s *ExportService) CreateExport(ctx context.Context, payload dto.CreateExportPayload, actor *models.JWTClaims) (*models.ExportJob, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin, models.RoleStaff:
	default:
		return nil, appErrors.ErrForbidden
	}
	format := models.ExportFormat(strings.ToLower(string(payload.Format)))
	if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	job := &models.ExportJob{
		Params: models.ExportJobParams{
			RequesterID: strings.TrimSpace(payload.RequesterID),
			Format:      format,
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: actor.UserID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "export"}); err != nil {
		s.logger.Error("failed to enqueue export job", zap.String("job_id", job.ID), zap.Error(err))
		message := "export queue unavailable"
		_ = s.repo.UpdateStatus(ctx, job.ID, models.ExportStatusFailed, nil, &message)
		return nil, appErrors.Clone(appErrors.ErrInternal, "export queue unavailable")
	}

	if s.audit != nil {
		resID := job.ID
		_ = s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actor.UserID,
			Action:     models.AuditActionExportCreate,
			Resource:   "export_job",
			ResourceID: &resID,
			IPAddress:  "system",
			UserAgent:  "export-service",
		})
	}
	return job, nil
}

// GetExport returns job status; the creator and admins may see it.
func (s *ExportService) GetExport(ctx context.Context, id string, actor *models.JWTClaims) (*models.ExportJob, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.CreatedBy != actor.UserID && actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	return job, nil
}

// OpenDownload validates a signed token and opens the referenced file.
func (s *ExportService) OpenDownload(token string) (*os.File, string, error) {
	jobID, filename, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	file, err := s.files.Open(filename)
	if err != nil {
		s.logger.Warn("export file missing", zap.String("job_id", jobID), zap.Error(err))
		return nil, "", appErrors.ErrNotFound
	}
	return file, filename, nil
}

func (s *ExportService) process(ctx context.Context, queued jobs.Job) error {
	job, err := s.repo.GetByID(ctx, queued.ID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", queued.ID, err)
	}
	if err := s.repo.UpdateStatus(ctx, job.ID, models.ExportStatusProcessing, nil, nil); err != nil {
		return err
	}

	requests, err := s.requests.List(ctx, models.RequestFilter{
		RequesterID: job.Params.RequesterID,
		Limit:       200,
	})
	if err != nil {
		message := "failed to load request history"
		_ = s.repo.UpdateStatus(ctx, job.ID, models.ExportStatusFailed, nil, &message)
		return err
	}

	dataset := buildRequestDataset(requests)

	var payload []byte
	var ext string
	switch job.Params.Format {
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Maintenance Request History")
		ext = "pdf"
	default:
		payload, err = s.csv.Render(dataset)
		ext = "csv"
	}
	if err != nil {
		message := "failed to render export"
		_ = s.repo.UpdateStatus(ctx, job.ID, models.ExportStatusFailed, nil, &message)
		return err
	}

	filename := fmt.Sprintf("%s/%s.%s", time.Now().UTC().Format("2006-01-02"), job.ID, ext)
	if _, err := s.files.Save(filename, payload); err != nil {
		message := "failed to store export"
		_ = s.repo.UpdateStatus(ctx, job.ID, models.ExportStatusFailed, nil, &message)
		return err
	}

	token, _, err := s.signer.Generate(job.ID, filename)
	if err != nil {
		message := "failed to sign download"
		_ = s.repo.UpdateStatus(ctx, job.ID, models.ExportStatusFailed, nil, &message)
		return err
	}
	resultURL := "/api/v1/exports/download?token=" + token
	return s.repo.UpdateStatus(ctx, job.ID, models.ExportStatusFinished, &resultURL, nil)
}

func buildRequestDataset(requests []models.MaintenanceRequest) export.Dataset {
	headers := []string{"ID", "Requester", "Category", "Title", "State", "Scheduled", "Assigned Staff", "Rating", "Last Modified"}
	rows := make([]map[string]string, 0, len(requests))
	for _, req := range requests {
		row := map[string]string{
			"ID":            req.ID,
			"Requester":     req.RequesterID,
			"Category":      string(req.Category),
			"Title":         req.Title,
			"State":         string(req.State),
			"Scheduled":     req.ScheduleStart.Format(time.RFC3339) + " - " + req.ScheduleEnd.Format(time.RFC3339),
			"Last Modified": req.LastModified.Format(time.RFC3339),
		}
		if req.AssignedStaff != nil {
			row["Assigned Staff"] = *req.AssignedStaff
		}
		if req.ReviewRating != nil {
			row["Rating"] = fmt.Sprintf("%d", *req.ReviewRating)
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
