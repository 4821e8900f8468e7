package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/dormhub/dorm-portal-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func requestRows(req *models.MaintenanceRequest) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "requester_id", "category", "title", "description", "schedule_start", "schedule_end", "state",
		"assigned_staff", "rejection_reason", "attachment_ref", "review_rating", "review_comment", "review_submitted_at",
		"supersedes", "superseded_by", "created_at", "last_modified",
	}).AddRow(
		req.ID, req.RequesterID, req.Category, req.Title, req.Description, req.ScheduleStart, req.ScheduleEnd, req.State,
		req.AssignedStaff, req.RejectionReason, req.AttachmentRef, req.ReviewRating, req.ReviewComment, req.ReviewSubmittedAt,
		req.Supersedes, req.SupersededBy, req.CreatedAt, req.LastModified,
	)
}

func TestRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO maintenance_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.MaintenanceRequest{
		RequesterID:   "student-1",
		Category:      models.CategoryRepair,
		Title:         "Broken heater",
		Description:   "Room 214 heater leaks",
		ScheduleStart: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		ScheduleEnd:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Create(context.Background(), req))
	require.NotEmpty(t, req.ID)
	require.Equal(t, models.StatePending, req.State)
	require.False(t, req.LastModified.IsZero())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, requester_id, category")).
		WithArgs(req.ID).
		WillReturnRows(requestRows(req))

	found, err := repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, found.ID)
	require.Equal(t, models.StatePending, found.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListActiveOnly(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	req := &models.MaintenanceRequest{
		ID:          "req-1",
		RequesterID: "student-1",
		Category:    models.CategoryCleaning,
		State:       models.StateApproved,
		CreatedAt:   time.Now(),
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, requester_id, category")).
		WithArgs("student-1", "REJECTED", "COMPLETED", "SUPERSEDED").
		WillReturnRows(requestRows(req))

	list, err := repo.List(context.Background(), models.RequestFilter{
		RequesterID: "student-1",
		ActiveOnly:  true,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositorySwapState(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE maintenance_requests SET state =")).
		WithArgs("APPROVED", now, "req-1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CompareAndSwapState(context.Background(), SwapStateParams{
		ID:            "req-1",
		ExpectedState: models.StatePending,
		NewState:      models.StateApproved,
		LastModified:  now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositorySwapStateConflict(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE maintenance_requests SET state =")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CompareAndSwapState(context.Background(), SwapStateParams{
		ID:            "req-1",
		ExpectedState: models.StatePending,
		NewState:      models.StateApproved,
		LastModified:  time.Now().UTC(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryAttachReviewGuard(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	submittedAt := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("SET review_rating = $1")).
		WithArgs(5, "great job", submittedAt, "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AttachReview(context.Background(), "req-1", 5, "great job", submittedAt))

	// Guard misses when the request is not completed or already reviewed.
	mock.ExpectExec(regexp.QuoteMeta("SET review_rating = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.AttachReview(context.Background(), "req-1", 3, "again", submittedAt)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
