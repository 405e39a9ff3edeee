package handler

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/feedback-desk-api/internal/dto"
	"github.com/noah-isme/feedback-desk-api/internal/models"
	appErrors "github.com/noah-isme/feedback-desk-api/pkg/errors"
	"github.com/noah-isme/feedback-desk-api/pkg/response"
)

type feedbackService interface {
	Submit(ctx context.Context, req dto.SubmitFeedbackRequest, storedFile *string, meta models.RequestMeta) (*models.Feedback, error)
	Assign(ctx context.Context, req dto.AssignRequest, hodID string, meta models.RequestMeta) (*models.Assignment, error)
	Respond(ctx context.Context, req dto.RespondRequest, employeeID string, meta models.RequestMeta) (*models.Response, error)
	Review(ctx context.Context, req dto.ReviewRequest, hodID string, meta models.RequestMeta) (string, error)
	ListNew(ctx context.Context) ([]dto.FeedbackListItem, error)
	ListAssignments(ctx context.Context) ([]dto.AssignmentListItem, error)
	EmployeeQueue(ctx context.Context, employeeID string) ([]dto.EmployeeQueueItem, error)
	PendingResponses(ctx context.Context) ([]dto.PendingResponseItem, error)
	Track(ctx context.Context, trackingKey string) (*dto.TrackingResult, error)
	UserFeedback(ctx context.Context, userID string) ([]dto.UserFeedbackItem, error)
	Report(ctx context.Context, start, end string) (*dto.ReportResponse, error)
}

type attachmentStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
}

// UploadPolicy bounds accepted attachments.
type UploadPolicy struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// FeedbackHandler wires the ticket lifecycle endpoints.
type FeedbackHandler struct {
	service feedbackService
	uploads attachmentStore
	policy  UploadPolicy
}

// NewFeedbackHandler constructs the handler.
func NewFeedbackHandler(service feedbackService, uploads attachmentStore, policy UploadPolicy) *FeedbackHandler {
	return &FeedbackHandler{service: service, uploads: uploads, policy: policy}
}

// Submit godoc
// @Summary Submit feedback
// @Tags Feedback
// @Accept multipart/form-data
// @Produce json
// @Param name formData string true "Submitter name"
// @Param email formData string true "Submitter email"
// @Param subject formData string true "Subject"
// @Param message formData string true "Message"
// @Param category formData string true "Category"
// @Param file formData file false "Attachment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /feedback [post]
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req dto.SubmitFeedbackRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "name, email, subject, message and category are required"))
		return
	}

	var storedFile *string
	if fileHeader, err := c.FormFile("file"); err == nil && fileHeader != nil {
		name, err := h.storeAttachment(fileHeader)
		if err != nil {
			response.Error(c, err)
			return
		}
		storedFile = &name
	}

	fb, err := h.service.Submit(c.Request.Context(), req, storedFile, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.SubmitFeedbackResponse{
		ID:          fb.ID,
		TrackingKey: fb.TrackingKey,
		Message:     "Feedback submitted successfully",
	})
}

func (h *FeedbackHandler) storeAttachment(fileHeader *multipart.FileHeader) (string, error) {
	if h.uploads == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "attachment storage not configured")
	}
	if h.policy.MaxFileSizeBytes > 0 && fileHeader.Size > h.policy.MaxFileSizeBytes {
		return "", appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}
	if !h.mimeAllowed(fileHeader.Header.Get("Content-Type")) {
		return "", appErrors.Clone(appErrors.ErrValidation, "file type is not allowed")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	defer src.Close()

	name := buildAttachmentName(fileHeader.Filename)
	if _, err := h.uploads.SaveStream(name, src); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}
	return name, nil
}

func (h *FeedbackHandler) mimeAllowed(mimeType string) bool {
	if len(h.policy.AllowedMIMEs) == 0 {
		return true
	}
	base := mimeType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimSpace(strings.ToLower(base))
	for _, allowed := range h.policy.AllowedMIMEs {
		if base == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func buildAttachmentName(original string) string {
	base := filepath.Base(original)
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	base = replacer.Replace(base)
	if len(base) > 100 {
		base = base[len(base)-100:]
	}
	return fmt.Sprintf("%d-%d-%s", time.Now().UnixNano(), rand.Intn(1_000_000_000), base)
}

// ListNew godoc
// @Summary List unassigned feedback
// @Tags Feedback
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /feedback [get]
func (h *FeedbackHandler) ListNew(c *gin.Context) {
	items, err := h.service.ListNew(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ListAssigned godoc
// @Summary List assignments
// @Tags Feedback
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /feedback/assigned [get]
func (h *FeedbackHandler) ListAssigned(c *gin.Context) {
	items, err := h.service.ListAssignments(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Assign godoc
// @Summary Assign feedback to an employee
// @Tags Feedback
// @Accept json
// @Produce json
// @Param payload body dto.AssignRequest true "Assignment"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /feedback/assign [post]
func (h *FeedbackHandler) Assign(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "feedback_id and employee_id are required"))
		return
	}

	assignment, err := h.service.Assign(c.Request.Context(), req, claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.AssignResponse{
		Message:      "Feedback assigned successfully",
		AssignmentID: assignment.ID,
	})
}

// EmployeeQueue godoc
// @Summary List open assignments for the current employee
// @Tags Feedback
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /feedback/employee [get]
func (h *FeedbackHandler) EmployeeQueue(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.service.EmployeeQueue(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Respond godoc
// @Summary Submit an employee response
// @Tags Feedback
// @Accept json
// @Produce json
// @Param payload body dto.RespondRequest true "Response"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /feedback/respond [post]
func (h *FeedbackHandler) Respond(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "assignment_id and employee_reply are required"))
		return
	}

	resp, err := h.service.Respond(c.Request.Context(), req, claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RespondResponse{
		Message:    "Response submitted for review",
		ResponseID: resp.ID,
	})
}

// PendingResponses godoc
// @Summary List responses awaiting review
// @Tags Feedback
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /feedback/responses/pending [get]
func (h *FeedbackHandler) PendingResponses(c *gin.Context) {
	items, err := h.service.PendingResponses(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Review godoc
// @Summary Review a pending response
// @Tags Feedback
// @Accept json
// @Produce json
// @Param payload body dto.ReviewRequest true "Verdict"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /feedback/review [post]
func (h *FeedbackHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "response_id and a verdict of Approved or Rejected are required"))
		return
	}

	message, err := h.service.Review(c.Request.Context(), req, claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, dto.ReviewResponse{Message: message}, nil)
}

// Track godoc
// @Summary Track feedback by tracking key
// @Tags Feedback
// @Produce json
// @Param key path string true "Tracking key"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /feedback/track/{key} [get]
func (h *FeedbackHandler) Track(c *gin.Context) {
	result, err := h.service.Track(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// UserFeedback godoc
// @Summary List feedback for a user
// @Tags Feedback
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /feedback/user/{id} [get]
func (h *FeedbackHandler) UserFeedback(c *gin.Context) {
	items, err := h.service.UserFeedback(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Report godoc
// @Summary Date-range feedback report
// @Tags Reports
// @Produce json
// @Param start query string true "Start date (YYYY-MM-DD)"
// @Param end query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /feedback/report [get]
func (h *FeedbackHandler) Report(c *gin.Context) {
	start := c.Query("start")
	end := c.Query("end")
	if start == "" || end == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "start and end are required"))
		return
	}
	report, err := h.service.Report(c.Request.Context(), start, end)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
