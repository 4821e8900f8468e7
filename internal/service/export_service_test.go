package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dormhub/dorm-portal-api/internal/dto"
	"github.com/dormhub/dorm-portal-api/internal/models"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
	"github.com/dormhub/dorm-portal-api/pkg/jobs"
	"github.com/dormhub/dorm-portal-api/pkg/storage"
)

type exportStoreStub struct {
	mu   sync.Mutex
	jobs map[string]*models.ExportJob
}

func newExportStoreStub() *exportStoreStub {
	return &exportStoreStub{jobs: make(map[string]*models.ExportJob)}
}

func (s *exportStoreStub) Create(ctx context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = "job-1"
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *exportStoreStub) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (s *exportStoreStub) UpdateStatus(ctx context.Context, id string, status models.ExportStatus, resultURL, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.Status = status
	job.ResultURL = resultURL
	job.ErrorMessage = errorMessage
	return nil
}

func newExportFixture(t *testing.T) (*ExportService, *exportStoreStub, *requestStoreStub, *storage.SignedURLSigner) {
	t.Helper()
	store := newExportStoreStub()
	requests := newRequestStoreStub()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewExportService(store, requests, &auditStub{}, files, signer, ExportConfig{}, nil)
	return svc, store, requests, signer
}

func TestExportRequiresStaffRole(t *testing.T) {
	svc, _, _, _ := newExportFixture(t)

	_, err := svc.CreateExport(context.Background(), dto.CreateExportPayload{Format: models.ExportFormatCSV},
		&models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc, _, _, _ := newExportFixture(t)

	_, err := svc.CreateExport(context.Background(), dto.CreateExportPayload{Format: "xlsx"},
		&models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestExportProcessRendersAndSigns(t *testing.T) {
	svc, store, requests, signer := newExportFixture(t)
	ctx := context.Background()

	staff := "staff-1"
	require.NoError(t, requests.Create(ctx, &models.MaintenanceRequest{
		RequesterID:   "student-1",
		Category:      models.CategoryRepair,
		Title:         "Broken heater",
		State:         models.StateCompleted,
		AssignedStaff: &staff,
		ScheduleStart: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		ScheduleEnd:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}))

	job := &models.ExportJob{
		Params:    models.ExportJobParams{RequesterID: "student-1", Format: models.ExportFormatCSV},
		Status:    models.ExportStatusQueued,
		CreatedBy: "staff-1",
	}
	require.NoError(t, store.Create(ctx, job))

	require.NoError(t, svc.process(ctx, jobs.Job{ID: job.ID}))

	finished, err := store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusFinished, finished.Status)
	require.NotNil(t, finished.ResultURL)

	token := strings.TrimPrefix(*finished.ResultURL, "/api/v1/exports/download?token=")
	jobID, filename, _, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, job.ID, jobID)
	require.True(t, strings.HasSuffix(filename, ".csv"))

	file, _, err := svc.OpenDownload(token)
	require.NoError(t, err)
	defer file.Close()
}

func TestExportStatusVisibility(t *testing.T) {
	svc, store, _, _ := newExportFixture(t)
	ctx := context.Background()

	job := &models.ExportJob{
		Params:    models.ExportJobParams{Format: models.ExportFormatPDF},
		Status:    models.ExportStatusQueued,
		CreatedBy: "staff-1",
	}
	require.NoError(t, store.Create(ctx, job))

	_, err := svc.GetExport(ctx, job.ID, &models.JWTClaims{UserID: "staff-2", Role: models.RoleStaff})
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	got, err := svc.GetExport(ctx, job.ID, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)
}
