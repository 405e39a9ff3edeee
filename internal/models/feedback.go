package models

import "time"

// FeedbackStatus tracks where a ticket sits in the review lifecycle.
type FeedbackStatus string

const (
	FeedbackStatusSubmitted   FeedbackStatus = "Submitted"
	FeedbackStatusAssigned    FeedbackStatus = "Assigned"
	FeedbackStatusUnderReview FeedbackStatus = "Under Review"
	FeedbackStatusCompleted   FeedbackStatus = "Completed"
	FeedbackStatusInProgress  FeedbackStatus = "In Progress"
)

// ResponseStatus tracks the HOD verdict on an employee reply.
type ResponseStatus string

const (
	ResponseStatusPending  ResponseStatus = "Pending"
	ResponseStatusApproved ResponseStatus = "Approved"
	ResponseStatusRejected ResponseStatus = "Rejected"
)

// feedbackTransitions is the authoritative transition table for ticket
// status. Every status write in the service layer goes through
// CanTransition so the lifecycle stays auditable in one place.
var feedbackTransitions = map[FeedbackStatus][]FeedbackStatus{
	FeedbackStatusSubmitted:   {FeedbackStatusAssigned},
	FeedbackStatusAssigned:    {FeedbackStatusUnderReview},
	FeedbackStatusUnderReview: {FeedbackStatusCompleted, FeedbackStatusInProgress},
	FeedbackStatusInProgress:  {FeedbackStatusUnderReview},
	FeedbackStatusCompleted:   nil,
}

// CanTransition reports whether a ticket may move from one status to another.
func CanTransition(from, to FeedbackStatus) bool {
	for _, next := range feedbackTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatusForVerdict derives the ticket status implied by an HOD verdict.
func NextStatusForVerdict(verdict ResponseStatus) (FeedbackStatus, bool) {
	switch verdict {
	case ResponseStatusApproved:
		return FeedbackStatusCompleted, true
	case ResponseStatusRejected:
		return FeedbackStatusInProgress, true
	default:
		return "", false
	}
}

// Feedback is one submitted ticket. Rows are never deleted.
type Feedback struct {
	ID          string         `db:"id" json:"id"`
	UserID      string         `db:"user_id" json:"user_id"`
	Subject     string         `db:"subject" json:"subject"`
	Message     string         `db:"message" json:"message"`
	Category    string         `db:"category" json:"category"`
	File        *string        `db:"file" json:"file,omitempty"`
	TrackingKey string         `db:"tracking_key" json:"tracking_key"`
	Status      FeedbackStatus `db:"status" json:"status"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// Assignment links a ticket to the employee responsible for it. There is at
// most one per ticket; rows are immutable after creation.
type Assignment struct {
	ID         string    `db:"id" json:"id"`
	FeedbackID string    `db:"feedback_id" json:"feedback_id"`
	HodID      string    `db:"hod_id" json:"hod_id"`
	EmployeeID string    `db:"employee_id" json:"employee_id"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
}

// Response is an employee reply awaiting or carrying an HOD verdict. A
// partial unique index keeps at most one non-rejected response per
// assignment, so a rejection frees the employee to submit a fresh attempt.
type Response struct {
	ID            string         `db:"id" json:"id"`
	AssignmentID  string         `db:"assignment_id" json:"assignment_id"`
	EmployeeReply string         `db:"employee_reply" json:"employee_reply"`
	Status        ResponseStatus `db:"status" json:"status"`
	HodComment    *string        `db:"hod_comment" json:"hod_comment,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
