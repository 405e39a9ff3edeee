package models

import "time"

// Actions recorded in the audit trail. Auth actions cover staff sessions,
// the feedback actions track each ticket lifecycle step.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionSubmit         = "FEEDBACK_SUBMIT"
	AuditActionAssign         = "FEEDBACK_ASSIGN"
	AuditActionRespond        = "FEEDBACK_RESPOND"
	AuditActionReview         = "RESPONSE_REVIEW"
)

// RequestMeta carries the client attribution stored with each audit entry.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AuditLog is one audit trail row. UserID is nil for anonymous actions such
// as a public feedback submission by a new submitter.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
