package dto

import "github.com/noah-isme/feedback-desk-api/internal/models"

// ReportSummary buckets ticket counts for a date range. Completed and the
// legacy "Resolved" label count as resolved; Submitted and Assigned count as
// pending; In Progress and Under Review count as in progress.
type ReportSummary struct {
	Total      int `json:"total"`
	Resolved   int `json:"resolved"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
}

// ReportResponse is the GET /feedback/report payload.
type ReportResponse struct {
	Summary ReportSummary      `json:"summary"`
	Reports []FeedbackListItem `json:"reports"`
}

// ReportExportRequest captures POST /feedback/report/export payload.
type ReportExportRequest struct {
	Start  string              `json:"start" validate:"required,datetime=2006-01-02"`
	End    string              `json:"end" validate:"required,datetime=2006-01-02"`
	Format models.ReportFormat `json:"format" validate:"required,oneof=csv pdf"`
}

// ReportJobResponse is returned after enqueueing an export.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse exposes export job progress metadata.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
