package dto

import (
	"time"

	"github.com/noah-isme/feedback-desk-api/internal/models"
)

// SubmitFeedbackRequest captures the multipart POST /feedback form fields.
// The attachment arrives separately as the "file" part.
type SubmitFeedbackRequest struct {
	Name     string `form:"name" validate:"required"`
	Email    string `form:"email" validate:"required,email"`
	Subject  string `form:"subject" validate:"required"`
	Message  string `form:"message" validate:"required"`
	Category string `form:"category" validate:"required"`
}

// SubmitFeedbackResponse returns the new ticket id and its tracking key.
type SubmitFeedbackResponse struct {
	ID          string `json:"id"`
	TrackingKey string `json:"tracking_key"`
	Message     string `json:"message"`
}

// AssignRequest asks for a ticket to be routed to an employee. The HOD
// identity is taken from the access token, never from the payload.
type AssignRequest struct {
	FeedbackID string `json:"feedback_id" validate:"required"`
	EmployeeID string `json:"employee_id" validate:"required"`
}

// AssignResponse acknowledges a created assignment.
type AssignResponse struct {
	Message      string `json:"message"`
	AssignmentID string `json:"assignment_id"`
}

// RespondRequest carries an employee reply for an assignment.
type RespondRequest struct {
	AssignmentID  string `json:"assignment_id" validate:"required"`
	EmployeeReply string `json:"employee_reply" validate:"required"`
}

// RespondResponse acknowledges a stored reply.
type RespondResponse struct {
	Message    string `json:"message"`
	ResponseID string `json:"response_id"`
}

// ReviewRequest carries the HOD verdict on a pending response.
type ReviewRequest struct {
	ResponseID string                `json:"response_id" validate:"required"`
	Status     models.ResponseStatus `json:"status" validate:"required,oneof=Approved Rejected"`
	HodComment string                `json:"hod_comment"`
}

// ReviewResponse acknowledges the recorded verdict.
type ReviewResponse struct {
	Message string `json:"message"`
}

// FeedbackListItem is a ticket row joined with its submitter name.
type FeedbackListItem struct {
	models.Feedback
	UserName string `db:"user_name" json:"user_name"`
}

// AssignmentListItem is a row of the HOD "assigned" tab.
type AssignmentListItem struct {
	AssignmentID string                `db:"assignment_id" json:"assignment_id"`
	FeedbackID   string                `db:"feedback_id" json:"feedback_id"`
	Subject      string                `db:"subject" json:"subject"`
	Category     string                `db:"category" json:"category"`
	Status       models.FeedbackStatus `db:"status" json:"status"`
	TrackingKey  string                `db:"tracking_key" json:"tracking_key"`
	UserName     string                `db:"user_name" json:"user_name"`
	EmployeeName string                `db:"employee_name" json:"employee_name"`
	AssignedAt   time.Time             `db:"assigned_at" json:"assigned_at"`
}

// EmployeeQueueItem is an open assignment awaiting an employee reply.
type EmployeeQueueItem struct {
	AssignmentID string                `db:"assignment_id" json:"assignment_id"`
	FeedbackID   string                `db:"feedback_id" json:"feedback_id"`
	Subject      string                `db:"subject" json:"subject"`
	Message      string                `db:"message" json:"message"`
	Category     string                `db:"category" json:"category"`
	File         *string               `db:"file" json:"file,omitempty"`
	TrackingKey  string                `db:"tracking_key" json:"tracking_key"`
	Status       models.FeedbackStatus `db:"status" json:"status"`
	UserName     string                `db:"user_name" json:"user_name"`
	CreatedAt    time.Time             `db:"created_at" json:"created_at"`
}

// PendingResponseItem is a row of the HOD review queue.
type PendingResponseItem struct {
	ResponseID    string                `db:"response_id" json:"response_id"`
	AssignmentID  string                `db:"assignment_id" json:"assignment_id"`
	EmployeeReply string                `db:"employee_reply" json:"employee_reply"`
	CreatedAt     time.Time             `db:"created_at" json:"created_at"`
	FeedbackID    string                `db:"feedback_id" json:"feedback_id"`
	Subject       string                `db:"subject" json:"subject"`
	Message       string                `db:"message" json:"message"`
	TrackingKey   string                `db:"tracking_key" json:"tracking_key"`
	Status        models.FeedbackStatus `db:"status" json:"status"`
	UserName      string                `db:"user_name" json:"user_name"`
	EmployeeName  string                `db:"employee_name" json:"employee_name"`
	HodName       string                `db:"hod_name" json:"hod_name"`
}

// UserFeedbackItem is a ticket enriched with its latest response, as shown
// on the submitter status page.
type UserFeedbackItem struct {
	ID             string                 `db:"id" json:"id"`
	Subject        string                 `db:"subject" json:"subject"`
	Message        string                 `db:"message" json:"message"`
	Category       string                 `db:"category" json:"category"`
	File           *string                `db:"file" json:"file,omitempty"`
	Status         models.FeedbackStatus  `db:"status" json:"status"`
	TrackingKey    string                 `db:"tracking_key" json:"tracking_key"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UserName       string                 `db:"user_name" json:"user_name"`
	EmployeeName   *string                `db:"employee_name" json:"employee_name,omitempty"`
	EmployeeReply  *string                `db:"employee_reply" json:"employee_reply,omitempty"`
	ResponseStatus *models.ResponseStatus `db:"response_status" json:"response_status,omitempty"`
	HodComment     *string                `db:"hod_comment" json:"hod_comment,omitempty"`
	ResponseDate   *time.Time             `db:"response_date" json:"response_date,omitempty"`
}

// TrackingResult bundles the ticket matching a tracking key with every other
// ticket owned by the same submitter.
type TrackingResult struct {
	CurrentFeedback UserFeedbackItem   `json:"current_feedback"`
	AllFeedback     []UserFeedbackItem `json:"all_feedback"`
}
