package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/feedback-desk-api/internal/dto"
	"github.com/noah-isme/feedback-desk-api/internal/models"
)

// Sentinel errors surfaced by lifecycle writes. The service layer maps them
// onto the HTTP error taxonomy.
var (
	ErrDuplicateTrackingKey = errors.New("tracking key already exists")
	ErrDuplicateAssignment  = errors.New("feedback already assigned")
	ErrDuplicateResponse    = errors.New("active response already exists for assignment")
	ErrIllegalTransition    = errors.New("illegal feedback status transition")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// FeedbackRepository owns the feedback, feedback_assignments and
// feedback_responses tables. Every lifecycle write runs in one transaction
// and validates the status transition against the table in models before
// persisting it, so concurrent writers serialise on the ticket row.
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository constructs the repository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Create inserts a new ticket row. A unique violation on the tracking key is
// reported as ErrDuplicateTrackingKey so the caller can regenerate and retry.
func (r *FeedbackRepository) Create(ctx context.Context, fb *models.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.Status == "" {
		fb.Status = models.FeedbackStatusSubmitted
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO feedback (id, user_id, subject, message, category, file, tracking_key, status, created_at)
VALUES (:id, :user_id, :subject, :message, :category, :file, :tracking_key, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, fb); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTrackingKey
		}
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// GetByID fetches a ticket by identifier.
func (r *FeedbackRepository) GetByID(ctx context.Context, id string) (*models.Feedback, error) {
	const query = `SELECT id, user_id, subject, message, category, file, tracking_key, status, created_at FROM feedback WHERE id = $1`
	var fb models.Feedback
	if err := r.db.GetContext(ctx, &fb, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return &fb, nil
}

// Assign creates the assignment row and moves the ticket to Assigned in one
// transaction. The ticket row is locked first so two concurrent assigns
// cannot both observe Submitted.
func (r *FeedbackRepository) Assign(ctx context.Context, a *models.Assignment) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status models.FeedbackStatus
	if err = tx.GetContext(ctx, &status, `SELECT status FROM feedback WHERE id = $1 FOR UPDATE`, a.FeedbackID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock feedback row: %w", err)
	}
	if !models.CanTransition(status, models.FeedbackStatusAssigned) {
		return ErrIllegalTransition
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	const insertQuery = `INSERT INTO feedback_assignments (id, feedback_id, hod_id, employee_id, assigned_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err = tx.ExecContext(ctx, insertQuery, a.ID, a.FeedbackID, a.HodID, a.EmployeeID, a.AssignedAt); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateAssignment
			return err
		}
		return fmt.Errorf("insert assignment: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE feedback SET status = $2 WHERE id = $1`, a.FeedbackID, models.FeedbackStatusAssigned); err != nil {
		return fmt.Errorf("update feedback status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit assign transaction: %w", err)
	}
	return nil
}

// CreateResponse stores an employee reply and moves the ticket to Under
// Review atomically. The partial unique index on non-rejected responses is
// the duplicate guard; a violation surfaces as ErrDuplicateResponse.
func (r *FeedbackRepository) CreateResponse(ctx context.Context, resp *models.Response) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin response transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var ticket struct {
		ID     string                `db:"id"`
		Status models.FeedbackStatus `db:"status"`
	}
	const lockQuery = `SELECT f.id, f.status FROM feedback f
JOIN feedback_assignments fa ON fa.feedback_id = f.id
WHERE fa.id = $1 FOR UPDATE OF f`
	if err = tx.GetContext(ctx, &ticket, lockQuery, resp.AssignmentID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock feedback for response: %w", err)
	}
	if !models.CanTransition(ticket.Status, models.FeedbackStatusUnderReview) {
		return ErrIllegalTransition
	}

	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if resp.Status == "" {
		resp.Status = models.ResponseStatusPending
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}
	// hod_comment stays at its '' default until the HOD reviews.
	const insertQuery = `INSERT INTO feedback_responses (id, assignment_id, employee_reply, status, created_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err = tx.ExecContext(ctx, insertQuery, resp.ID, resp.AssignmentID, resp.EmployeeReply, resp.Status, resp.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateResponse
			return err
		}
		return fmt.Errorf("insert response: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE feedback SET status = $2 WHERE id = $1`, ticket.ID, models.FeedbackStatusUnderReview); err != nil {
		return fmt.Errorf("update feedback status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit response transaction: %w", err)
	}
	return nil
}

// Review records the HOD verdict on a pending response and cascades the
// derived ticket status, both in one transaction.
func (r *FeedbackRepository) Review(ctx context.Context, responseID string, verdict models.ResponseStatus, hodComment string) (err error) {
	next, ok := models.NextStatusForVerdict(verdict)
	if !ok {
		return ErrIllegalTransition
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var row struct {
		ResponseStatus models.ResponseStatus `db:"response_status"`
		FeedbackID     string                `db:"feedback_id"`
		FeedbackStatus models.FeedbackStatus `db:"feedback_status"`
	}
	const lockQuery = `SELECT fr.status AS response_status, f.id AS feedback_id, f.status AS feedback_status
FROM feedback_responses fr
JOIN feedback_assignments fa ON fr.assignment_id = fa.id
JOIN feedback f ON fa.feedback_id = f.id
WHERE fr.id = $1 FOR UPDATE OF fr, f`
	if err = tx.GetContext(ctx, &row, lockQuery, responseID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock response for review: %w", err)
	}
	if row.ResponseStatus != models.ResponseStatusPending {
		return ErrIllegalTransition
	}
	if !models.CanTransition(row.FeedbackStatus, next) {
		return ErrIllegalTransition
	}

	if _, err = tx.ExecContext(ctx, `UPDATE feedback_responses SET status = $2, hod_comment = $3 WHERE id = $1`, responseID, verdict, hodComment); err != nil {
		return fmt.Errorf("update response verdict: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE feedback SET status = $2 WHERE id = $1`, row.FeedbackID, next); err != nil {
		return fmt.Errorf("update feedback status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit review transaction: %w", err)
	}
	return nil
}

// ListNew returns the HOD "new" queue: every ticket not currently Assigned,
// newest first.
func (r *FeedbackRepository) ListNew(ctx context.Context) ([]dto.FeedbackListItem, error) {
	const query = `SELECT f.id, f.user_id, f.subject, f.message, f.category, f.file, f.tracking_key, f.status, f.created_at, u.full_name AS user_name
FROM feedback f
JOIN users u ON f.user_id = u.id
WHERE f.status <> $1
ORDER BY f.created_at DESC`
	var items []dto.FeedbackListItem
	if err := r.db.SelectContext(ctx, &items, query, models.FeedbackStatusAssigned); err != nil {
		return nil, fmt.Errorf("list new feedback: %w", err)
	}
	return items, nil
}

// ListAssignments returns every assignment with ticket state for the HOD
// assigned tab.
func (r *FeedbackRepository) ListAssignments(ctx context.Context) ([]dto.AssignmentListItem, error) {
	const query = `SELECT fa.id AS assignment_id, f.id AS feedback_id, f.subject, f.category, f.status, f.tracking_key,
       u.full_name AS user_name, e.full_name AS employee_name, fa.assigned_at
FROM feedback_assignments fa
JOIN feedback f ON fa.feedback_id = f.id
JOIN users u ON f.user_id = u.id
JOIN users e ON fa.employee_id = e.id
ORDER BY fa.assigned_at DESC`
	var items []dto.AssignmentListItem
	if err := r.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return items, nil
}

// ListEmployeeQueue returns assignments still awaiting a reply from the
// given employee: no non-rejected response exists and the ticket is neither
// Completed nor already Under Review.
func (r *FeedbackRepository) ListEmployeeQueue(ctx context.Context, employeeID string) ([]dto.EmployeeQueueItem, error) {
	const query = `SELECT fa.id AS assignment_id, f.id AS feedback_id, f.subject, f.message, f.category, f.file,
       f.tracking_key, f.status, u.full_name AS user_name, f.created_at
FROM feedback_assignments fa
JOIN feedback f ON fa.feedback_id = f.id
JOIN users u ON f.user_id = u.id
LEFT JOIN feedback_responses fr ON fr.assignment_id = fa.id AND fr.status <> $2
WHERE fa.employee_id = $1
  AND fr.id IS NULL
  AND f.status NOT IN ($3, $4)
ORDER BY f.created_at DESC`
	var items []dto.EmployeeQueueItem
	if err := r.db.SelectContext(ctx, &items, query, employeeID,
		models.ResponseStatusRejected, models.FeedbackStatusCompleted, models.FeedbackStatusUnderReview); err != nil {
		return nil, fmt.Errorf("list employee queue: %w", err)
	}
	return items, nil
}

// ListPendingResponses returns the HOD review queue: pending responses whose
// ticket has not already looped back to In Progress.
func (r *FeedbackRepository) ListPendingResponses(ctx context.Context) ([]dto.PendingResponseItem, error) {
	const query = `SELECT fr.id AS response_id, fr.assignment_id, fr.employee_reply, fr.created_at,
       f.id AS feedback_id, f.subject, f.message, f.tracking_key, f.status,
       u.full_name AS user_name, e.full_name AS employee_name, h.full_name AS hod_name
FROM feedback_responses fr
JOIN feedback_assignments fa ON fr.assignment_id = fa.id
JOIN feedback f ON fa.feedback_id = f.id
JOIN users u ON f.user_id = u.id
JOIN users e ON fa.employee_id = e.id
JOIN users h ON fa.hod_id = h.id
WHERE fr.status = $1 AND f.status <> $2
ORDER BY fr.created_at DESC`
	var items []dto.PendingResponseItem
	if err := r.db.SelectContext(ctx, &items, query, models.ResponseStatusPending, models.FeedbackStatusInProgress); err != nil {
		return nil, fmt.Errorf("list pending responses: %w", err)
	}
	return items, nil
}

// FindOwnerByTrackingKey resolves a tracking key to the owning user id.
func (r *FeedbackRepository) FindOwnerByTrackingKey(ctx context.Context, trackingKey string) (string, error) {
	const query = `SELECT user_id FROM feedback WHERE tracking_key = $1`
	var userID string
	if err := r.db.GetContext(ctx, &userID, query, trackingKey); err != nil {
		if err == sql.ErrNoRows {
			return "", err
		}
		return "", fmt.Errorf("find owner by tracking key: %w", err)
	}
	return userID, nil
}

// ListUserFeedback returns every ticket for a user enriched with the latest
// response chain, newest first.
func (r *FeedbackRepository) ListUserFeedback(ctx context.Context, userID string) ([]dto.UserFeedbackItem, error) {
	const query = `SELECT f.id, f.subject, f.message, f.category, f.file, f.status, f.tracking_key, f.created_at,
       u.full_name AS user_name, e.full_name AS employee_name,
       fr.employee_reply, fr.status AS response_status, fr.hod_comment, fr.created_at AS response_date
FROM feedback f
JOIN users u ON f.user_id = u.id
LEFT JOIN feedback_assignments fa ON fa.feedback_id = f.id
LEFT JOIN feedback_responses fr ON fr.assignment_id = fa.id AND fr.status <> $2
LEFT JOIN users e ON fa.employee_id = e.id
WHERE f.user_id = $1
ORDER BY f.created_at DESC`
	var items []dto.UserFeedbackItem
	if err := r.db.SelectContext(ctx, &items, query, userID, models.ResponseStatusRejected); err != nil {
		return nil, fmt.Errorf("list user feedback: %w", err)
	}
	return items, nil
}

// ListByDateRange returns tickets created within [start, end] with their
// submitter names, for the date-range report.
func (r *FeedbackRepository) ListByDateRange(ctx context.Context, start, end time.Time) ([]dto.FeedbackListItem, error) {
	const query = `SELECT f.id, f.user_id, f.subject, f.message, f.category, f.file, f.tracking_key, f.status, f.created_at, u.full_name AS user_name
FROM feedback f
JOIN users u ON f.user_id = u.id
WHERE f.created_at >= $1 AND f.created_at <= $2
ORDER BY f.created_at DESC`
	var items []dto.FeedbackListItem
	if err := r.db.SelectContext(ctx, &items, query, start, end); err != nil {
		return nil, fmt.Errorf("list feedback by date range: %w", err)
	}
	return items, nil
}
