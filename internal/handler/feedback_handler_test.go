package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/feedback-desk-api/internal/dto"
	"github.com/noah-isme/feedback-desk-api/internal/middleware"
	"github.com/noah-isme/feedback-desk-api/internal/models"
	appErrors "github.com/noah-isme/feedback-desk-api/pkg/errors"
)

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error map[string]interface{} `json:"error"`
}

type fakeFeedbackSrv struct {
	submitted    *dto.SubmitFeedbackRequest
	submittedTo  *string
	submitErr    error
	assignErr    error
	lastHodID    string
	lastActorID  string
	reviewMsg    string
	trackResult  *dto.TrackingResult
	trackErr     error
	report       *dto.ReportResponse
	lastStart    string
	lastEnd      string
	newItems     []dto.FeedbackListItem
	queueItems   []dto.EmployeeQueueItem
	pendingItems []dto.PendingResponseItem
}

func (f *fakeFeedbackSrv) Submit(ctx context.Context, req dto.SubmitFeedbackRequest, storedFile *string, meta models.RequestMeta) (*models.Feedback, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = &req
	f.submittedTo = storedFile
	return &models.Feedback{ID: "fb-1", TrackingKey: "1234567890"}, nil
}

func (f *fakeFeedbackSrv) Assign(ctx context.Context, req dto.AssignRequest, hodID string, meta models.RequestMeta) (*models.Assignment, error) {
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	f.lastHodID = hodID
	return &models.Assignment{ID: "as-1"}, nil
}

func (f *fakeFeedbackSrv) Respond(ctx context.Context, req dto.RespondRequest, employeeID string, meta models.RequestMeta) (*models.Response, error) {
	f.lastActorID = employeeID
	return &models.Response{ID: "resp-1"}, nil
}

func (f *fakeFeedbackSrv) Review(ctx context.Context, req dto.ReviewRequest, hodID string, meta models.RequestMeta) (string, error) {
	f.lastHodID = hodID
	return f.reviewMsg, nil
}

func (f *fakeFeedbackSrv) ListNew(ctx context.Context) ([]dto.FeedbackListItem, error) {
	return f.newItems, nil
}

func (f *fakeFeedbackSrv) ListAssignments(ctx context.Context) ([]dto.AssignmentListItem, error) {
	return nil, nil
}

func (f *fakeFeedbackSrv) EmployeeQueue(ctx context.Context, employeeID string) ([]dto.EmployeeQueueItem, error) {
	f.lastActorID = employeeID
	return f.queueItems, nil
}

func (f *fakeFeedbackSrv) PendingResponses(ctx context.Context) ([]dto.PendingResponseItem, error) {
	return f.pendingItems, nil
}

func (f *fakeFeedbackSrv) Track(ctx context.Context, trackingKey string) (*dto.TrackingResult, error) {
	if f.trackErr != nil {
		return nil, f.trackErr
	}
	return f.trackResult, nil
}

func (f *fakeFeedbackSrv) UserFeedback(ctx context.Context, userID string) ([]dto.UserFeedbackItem, error) {
	return nil, nil
}

func (f *fakeFeedbackSrv) Report(ctx context.Context, start, end string) (*dto.ReportResponse, error) {
	f.lastStart = start
	f.lastEnd = end
	return f.report, nil
}

type fakeAttachmentStore struct {
	saved []string
	err   error
}

func (f *fakeAttachmentStore) SaveStream(filename string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, filename)
	return filename, nil
}

func multipartSubmitBody(t *testing.T, fields map[string]string, fileName, fileContentType string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if fileName != "" {
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + fileName + `"`}
		header["Content-Type"] = []string{fileContentType}
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte("attachment payload"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func submitFields() map[string]string {
	return map[string]string{
		"name":     "Alice",
		"email":    "alice@example.com",
		"subject":  "Broken printer",
		"message":  "It jams on every page",
		"category": "Facilities",
	}
}

func withClaims(c *gin.Context, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "actor-1", Role: role})
}

func TestFeedbackHandlerSubmit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{}
	h := NewFeedbackHandler(srv, &fakeAttachmentStore{}, UploadPolicy{})

	body, contentType := multipartSubmitBody(t, submitFields(), "", "")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback", body)
	c.Request.Header.Set("Content-Type", contentType)

	h.Submit(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var resp dto.SubmitFeedbackResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "1234567890", resp.TrackingKey)
	assert.Equal(t, "Feedback submitted successfully", resp.Message)
	require.NotNil(t, srv.submitted)
	assert.Equal(t, "alice@example.com", srv.submitted.Email)
	assert.Nil(t, srv.submittedTo)
}

func TestFeedbackHandlerSubmitWithAttachment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{}
	store := &fakeAttachmentStore{}
	h := NewFeedbackHandler(srv, store, UploadPolicy{
		MaxFileSizeBytes: 1024,
		AllowedMIMEs:     []string{"application/pdf"},
	})

	body, contentType := multipartSubmitBody(t, submitFields(), "invoice.pdf", "application/pdf")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback", body)
	c.Request.Header.Set("Content-Type", contentType)

	h.Submit(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.saved, 1)
	assert.Contains(t, store.saved[0], "invoice.pdf")
	require.NotNil(t, srv.submittedTo)
	assert.Equal(t, store.saved[0], *srv.submittedTo)
}

func TestFeedbackHandlerSubmitRejectsMime(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &fakeAttachmentStore{}
	h := NewFeedbackHandler(&fakeFeedbackSrv{}, store, UploadPolicy{AllowedMIMEs: []string{"application/pdf"}})

	body, contentType := multipartSubmitBody(t, submitFields(), "virus.exe", "application/octet-stream")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback", body)
	c.Request.Header.Set("Content-Type", contentType)

	h.Submit(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.saved)
}

func TestFeedbackHandlerSubmitMissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{submitErr: appErrors.Clone(appErrors.ErrValidation, "missing fields")}
	h := NewFeedbackHandler(srv, &fakeAttachmentStore{}, UploadPolicy{})

	body, contentType := multipartSubmitBody(t, map[string]string{"name": "Alice"}, "", "")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback", body)
	c.Request.Header.Set("Content-Type", contentType)

	h.Submit(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackHandlerAssignUsesTokenIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{}
	h := NewFeedbackHandler(srv, nil, UploadPolicy{})

	payload, _ := json.Marshal(dto.AssignRequest{FeedbackID: "fb-1", EmployeeID: "emp-1"})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback/assign", bytes.NewReader(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	withClaims(c, models.RoleHOD)

	h.Assign(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "actor-1", srv.lastHodID)
}

func TestFeedbackHandlerAssignWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewFeedbackHandler(&fakeFeedbackSrv{}, nil, UploadPolicy{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback/assign", bytes.NewReader([]byte(`{}`)))

	h.Assign(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFeedbackHandlerAssignConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{assignErr: appErrors.Clone(appErrors.ErrConflict, "feedback is already assigned")}
	h := NewFeedbackHandler(srv, nil, UploadPolicy{})

	payload, _ := json.Marshal(dto.AssignRequest{FeedbackID: "fb-1", EmployeeID: "emp-1"})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback/assign", bytes.NewReader(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	withClaims(c, models.RoleHOD)

	h.Assign(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFeedbackHandlerRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{}
	h := NewFeedbackHandler(srv, nil, UploadPolicy{})

	payload, _ := json.Marshal(dto.RespondRequest{AssignmentID: "as-1", EmployeeReply: "fixed"})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback/respond", bytes.NewReader(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	withClaims(c, models.RoleEmployee)

	h.Respond(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "actor-1", srv.lastActorID)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var resp dto.RespondResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "Response submitted for review", resp.Message)
}

func TestFeedbackHandlerReview(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{reviewMsg: "Response approved and sent to user"}
	h := NewFeedbackHandler(srv, nil, UploadPolicy{})

	payload, _ := json.Marshal(dto.ReviewRequest{ResponseID: "resp-1", Status: models.ResponseStatusApproved})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/feedback/review", bytes.NewReader(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	withClaims(c, models.RoleHOD)

	h.Review(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var resp dto.ReviewResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "Response approved and sent to user", resp.Message)
}

func TestFeedbackHandlerTrackNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{trackErr: appErrors.Clone(appErrors.ErrNotFound, "feedback not found")}
	h := NewFeedbackHandler(srv, nil, UploadPolicy{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/feedback/track/0000000000", nil)
	c.Params = gin.Params{{Key: "key", Value: "0000000000"}}

	h.Track(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedbackHandlerTrack(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{trackResult: &dto.TrackingResult{
		CurrentFeedback: dto.UserFeedbackItem{ID: "fb-1", TrackingKey: "1234567890"},
		AllFeedback:     []dto.UserFeedbackItem{{ID: "fb-1", TrackingKey: "1234567890"}},
	}}
	h := NewFeedbackHandler(srv, nil, UploadPolicy{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/feedback/track/1234567890", nil)
	c.Params = gin.Params{{Key: "key", Value: "1234567890"}}

	h.Track(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var result dto.TrackingResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "fb-1", result.CurrentFeedback.ID)
}

func TestFeedbackHandlerReportRequiresRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewFeedbackHandler(&fakeFeedbackSrv{}, nil, UploadPolicy{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/feedback/report?start=2026-01-01", nil)

	h.Report(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackHandlerReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeFeedbackSrv{report: &dto.ReportResponse{Summary: dto.ReportSummary{Total: 3}}}
	h := NewFeedbackHandler(srv, nil, UploadPolicy{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/feedback/report?start=2026-01-01&end=2026-01-31", nil)

	h.Report(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-01-01", srv.lastStart)
	assert.Equal(t, "2026-01-31", srv.lastEnd)
}
