package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dormhub/dorm-portal-api/internal/models"
)

const requestColumns = `id, requester_id, category, title, description, schedule_start, schedule_end, state,
       assigned_staff, rejection_reason, attachment_ref, review_rating, review_comment, review_submitted_at,
       supersedes, superseded_by, created_at, last_modified`

// RequestRepository persists maintenance request records.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new maintenance request row.
func (r *RequestRepository) Create(ctx context.Context, req *models.MaintenanceRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.State == "" {
		req.State = models.StatePending
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.LastModified.IsZero() {
		req.LastModified = now
	}
	const query = `INSERT INTO maintenance_requests
	(id, requester_id, category, title, description, schedule_start, schedule_end, state,
	 assigned_staff, rejection_reason, attachment_ref, review_rating, review_comment, review_submitted_at,
	 supersedes, superseded_by, created_at, last_modified)
	VALUES (:id, :requester_id, :category, :title, :description, :schedule_start, :schedule_end, :state,
	 :assigned_staff, :rejection_reason, :attachment_ref, :review_rating, :review_comment, :review_submitted_at,
	 :supersedes, :superseded_by, :created_at, :last_modified)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create maintenance request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.MaintenanceRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM maintenance_requests WHERE id = $1`, requestColumns)
	var req models.MaintenanceRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter, newest first. ActiveOnly
// excludes terminal states so superseded and finished requests never
// reappear in active views.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.MaintenanceRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM maintenance_requests", requestColumns))

	conditions := make([]string, 0, 5)
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			args = append(args, state)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.AssignedStaff != "" {
		args = append(args, filter.AssignedStaff)
		conditions = append(conditions, fmt.Sprintf("assigned_staff = $%d", len(args)))
	}
	if filter.ActiveOnly {
		args = append(args, models.StateRejected, models.StateCompleted, models.StateSuperseded)
		conditions = append(conditions, fmt.Sprintf("state NOT IN ($%d, $%d, $%d)", len(args)-2, len(args)-1, len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.MaintenanceRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list maintenance requests: %w", err)
	}
	return requests, nil
}

// SwapStateParams groups the columns written by a lifecycle transition.
type SwapStateParams struct {
	ID              string
	ExpectedState   models.RequestState
	NewState        models.RequestState
	AssignedStaff   *string
	RejectionReason *string
	SupersededBy    *string
	LastModified    time.Time
}

// CompareAndSwapState atomically advances a request's state. The WHERE clause
// guards on the expected current state; zero rows affected means another
// actor transitioned the record first and the caller gets sql.ErrNoRows.
func (r *RequestRepository) CompareAndSwapState(ctx context.Context, params SwapStateParams) error {
	setParts := []string{
		"state = :new_state",
		"last_modified = :last_modified",
	}
	if params.AssignedStaff != nil {
		setParts = append(setParts, "assigned_staff = :assigned_staff")
	}
	if params.RejectionReason != nil {
		setParts = append(setParts, "rejection_reason = :rejection_reason")
	}
	if params.SupersededBy != nil {
		setParts = append(setParts, "superseded_by = :superseded_by")
	}
	query := fmt.Sprintf("UPDATE maintenance_requests SET %s WHERE id = :id AND state = :expected_state",
		strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               params.ID,
		"expected_state":   params.ExpectedState,
		"new_state":        params.NewState,
		"assigned_staff":   params.AssignedStaff,
		"rejection_reason": params.RejectionReason,
		"superseded_by":    params.SupersededBy,
		"last_modified":    params.LastModified,
	})
	if err != nil {
		return fmt.Errorf("swap request state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check swap rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AttachReview writes the one-and-only review. The guard requires the request
// to be COMPLETED and still unreviewed; zero rows means the precondition no
// longer holds and the caller disambiguates by re-fetching.
func (r *RequestRepository) AttachReview(ctx context.Context, id string, rating int, comment string, submittedAt time.Time) error {
	query := fmt.Sprintf(`UPDATE maintenance_requests
	SET review_rating = $1, review_comment = $2, review_submitted_at = $3, last_modified = $3
	WHERE id = $4 AND state = '%s' AND review_rating IS NULL`, models.StateCompleted)
	result, err := r.db.ExecContext(ctx, query, rating, comment, submittedAt, id)
	if err != nil {
		return fmt.Errorf("attach review: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check review rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
