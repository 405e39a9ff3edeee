package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSubmitter UserRole = "SUBMITTER"
	RoleEmployee  UserRole = "EMPLOYEE"
	RoleHOD       UserRole = "HOD"
)

// User represents an application user stored in the users table. Submitters
// are provisioned automatically on their first feedback submission; staff
// accounts are seeded by migration.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// EmployeeSummary is the roster row shown in the HOD assign dropdown.
type EmployeeSummary struct {
	ID              string `db:"id" json:"id"`
	Email           string `db:"email" json:"email"`
	FullName        string `db:"full_name" json:"full_name"`
	AssignmentCount int    `db:"assignment_count" json:"assignment_count"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
