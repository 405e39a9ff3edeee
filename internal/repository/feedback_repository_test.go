package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/feedback-desk-api/internal/models"
)

func newFeedbackRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestFeedbackRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectExec("INSERT INTO feedback").
		WithArgs(sqlmock.AnyArg(), "user-1", "Broken printer", "It jams", "Facilities", nil, sqlmock.AnyArg(), "Submitted", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	fb := &models.Feedback{UserID: "user-1", Subject: "Broken printer", Message: "It jams", Category: "Facilities", TrackingKey: "1234567890"}
	require.NoError(t, repo.Create(context.Background(), fb))
	assert.NotEmpty(t, fb.ID)
	assert.Equal(t, models.FeedbackStatusSubmitted, fb.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryCreateDuplicateTrackingKey(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectExec("INSERT INTO feedback").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "feedback_tracking_key_key"})

	err := repo.Create(context.Background(), &models.Feedback{UserID: "user-1", TrackingKey: "1234567890"})
	assert.ErrorIs(t, err, ErrDuplicateTrackingKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryAssign(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM feedback WHERE id = $1 FOR UPDATE")).
		WithArgs("fb-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Submitted"))
	mock.ExpectExec("INSERT INTO feedback_assignments").
		WithArgs(sqlmock.AnyArg(), "fb-1", "hod-1", "emp-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE feedback SET status = $2 WHERE id = $1")).
		WithArgs("fb-1", models.FeedbackStatusAssigned).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	a := &models.Assignment{FeedbackID: "fb-1", HodID: "hod-1", EmployeeID: "emp-1"}
	require.NoError(t, repo.Assign(context.Background(), a))
	assert.NotEmpty(t, a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryAssignIllegalTransition(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM feedback WHERE id = $1 FOR UPDATE")).
		WithArgs("fb-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Completed"))
	mock.ExpectRollback()

	err := repo.Assign(context.Background(), &models.Assignment{FeedbackID: "fb-1", HodID: "hod-1", EmployeeID: "emp-1"})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryAssignDuplicate(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM feedback WHERE id = $1 FOR UPDATE")).
		WithArgs("fb-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Submitted"))
	mock.ExpectExec("INSERT INTO feedback_assignments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "feedback_assignments_feedback_id_key"})
	mock.ExpectRollback()

	err := repo.Assign(context.Background(), &models.Assignment{FeedbackID: "fb-1", HodID: "hod-1", EmployeeID: "emp-1"})
	assert.ErrorIs(t, err, ErrDuplicateAssignment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryCreateResponse(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT f.id, f.status FROM feedback f").
		WithArgs("as-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("fb-1", "Assigned"))
	mock.ExpectExec("INSERT INTO feedback_responses").
		WithArgs(sqlmock.AnyArg(), "as-1", "We fixed it", models.ResponseStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE feedback SET status = $2 WHERE id = $1")).
		WithArgs("fb-1", models.FeedbackStatusUnderReview).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	resp := &models.Response{AssignmentID: "as-1", EmployeeReply: "We fixed it"}
	require.NoError(t, repo.CreateResponse(context.Background(), resp))
	assert.Equal(t, models.ResponseStatusPending, resp.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryCreateResponseDuplicate(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT f.id, f.status FROM feedback f").
		WithArgs("as-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("fb-1", "Assigned"))
	mock.ExpectExec("INSERT INTO feedback_responses").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_responses_active_assignment"})
	mock.ExpectRollback()

	err := repo.CreateResponse(context.Background(), &models.Response{AssignmentID: "as-1", EmployeeReply: "again"})
	assert.ErrorIs(t, err, ErrDuplicateResponse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryReviewApproved(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT fr.status AS response_status").
		WithArgs("resp-1").
		WillReturnRows(sqlmock.NewRows([]string{"response_status", "feedback_id", "feedback_status"}).
			AddRow("Pending", "fb-1", "Under Review"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE feedback_responses SET status = $2, hod_comment = $3 WHERE id = $1")).
		WithArgs("resp-1", models.ResponseStatusApproved, "looks good").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE feedback SET status = $2 WHERE id = $1")).
		WithArgs("fb-1", models.FeedbackStatusCompleted).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Review(context.Background(), "resp-1", models.ResponseStatusApproved, "looks good"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryReviewRejected(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT fr.status AS response_status").
		WithArgs("resp-1").
		WillReturnRows(sqlmock.NewRows([]string{"response_status", "feedback_id", "feedback_status"}).
			AddRow("Pending", "fb-1", "Under Review"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE feedback_responses SET status = $2, hod_comment = $3 WHERE id = $1")).
		WithArgs("resp-1", models.ResponseStatusRejected, "needs more detail").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE feedback SET status = $2 WHERE id = $1")).
		WithArgs("fb-1", models.FeedbackStatusInProgress).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Review(context.Background(), "resp-1", models.ResponseStatusRejected, "needs more detail"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryReviewNotPending(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT fr.status AS response_status").
		WithArgs("resp-1").
		WillReturnRows(sqlmock.NewRows([]string{"response_status", "feedback_id", "feedback_status"}).
			AddRow("Approved", "fb-1", "Completed"))
	mock.ExpectRollback()

	err := repo.Review(context.Background(), "resp-1", models.ResponseStatusApproved, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryReviewBadVerdict(t *testing.T) {
	db, _, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	err := repo.Review(context.Background(), "resp-1", models.ResponseStatusPending, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestFeedbackRepositoryListNew(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	rows := sqlmock.NewRows([]string{"id", "user_id", "subject", "message", "category", "file", "tracking_key", "status", "created_at", "user_name"}).
		AddRow("fb-1", "user-1", "Broken printer", "It jams", "Facilities", nil, "1234567890", "Submitted", time.Now(), "Alice")
	mock.ExpectQuery("SELECT f.id, f.user_id, f.subject").
		WithArgs(models.FeedbackStatusAssigned).
		WillReturnRows(rows)

	items, err := repo.ListNew(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "Alice", items[0].UserName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryFindOwnerByTrackingKey(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()
	repo := NewFeedbackRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM feedback WHERE tracking_key = $1")).
		WithArgs("1234567890").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))

	owner, err := repo.FindOwnerByTrackingKey(context.Background(), "1234567890")
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)
	assert.NoError(t, mock.ExpectationsWereMet())
}
