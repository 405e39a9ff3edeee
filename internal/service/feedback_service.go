package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/feedback-desk-api/internal/dto"
	"github.com/noah-isme/feedback-desk-api/internal/models"
	"github.com/noah-isme/feedback-desk-api/internal/repository"
	appErrors "github.com/noah-isme/feedback-desk-api/pkg/errors"
)

type feedbackRepository interface {
	Create(ctx context.Context, fb *models.Feedback) error
	GetByID(ctx context.Context, id string) (*models.Feedback, error)
	Assign(ctx context.Context, a *models.Assignment) error
	CreateResponse(ctx context.Context, resp *models.Response) error
	Review(ctx context.Context, responseID string, verdict models.ResponseStatus, hodComment string) error
	ListNew(ctx context.Context) ([]dto.FeedbackListItem, error)
	ListAssignments(ctx context.Context) ([]dto.AssignmentListItem, error)
	ListEmployeeQueue(ctx context.Context, employeeID string) ([]dto.EmployeeQueueItem, error)
	ListPendingResponses(ctx context.Context) ([]dto.PendingResponseItem, error)
	FindOwnerByTrackingKey(ctx context.Context, trackingKey string) (string, error)
	ListUserFeedback(ctx context.Context, userID string) ([]dto.UserFeedbackItem, error)
	ListByDateRange(ctx context.Context, start, end time.Time) ([]dto.FeedbackListItem, error)
}

type feedbackUserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// uploadCleaner removes a stored attachment, used for compensating cleanup
// when a submission fails after its file was already written.
type uploadCleaner interface {
	Delete(filename string) error
}

type queueCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type lifecycleRecorder interface {
	ObserveLifecycleEvent(event string)
	RecordCacheOperation(hit bool, duration time.Duration)
	ObserveCacheWrite(duration time.Duration)
}

const (
	trackingKeyAttempts = 5
	cacheKeyPrefix      = "feedback:"
	cacheKeyNewQueue    = cacheKeyPrefix + "queue:new"
	cacheKeyAssigned    = cacheKeyPrefix + "queue:assigned"
	cacheKeyPending     = cacheKeyPrefix + "queue:pending"
)

// FeedbackService drives the ticket lifecycle: submit, assign, respond,
// review, plus the read-side queues and the date-range report.
type FeedbackService struct {
	repo      feedbackRepository
	users     feedbackUserStore
	uploads   uploadCleaner
	cache     queueCache
	validator *validator.Validate
	logger    *zap.Logger
	metrics   lifecycleRecorder
	queueTTL  time.Duration
	reportTTL time.Duration
	keyFn     func() string
}

// FeedbackOption customises service construction.
type FeedbackOption func(*FeedbackService)

// WithUploadCleaner wires the attachment store used for compensating
// deletes on failed submissions.
func WithUploadCleaner(cleaner uploadCleaner) FeedbackOption {
	return func(s *FeedbackService) { s.uploads = cleaner }
}

// WithQueueCache enables redis-backed caching of the HOD queues and report.
func WithQueueCache(cache queueCache, queueTTL, reportTTL time.Duration) FeedbackOption {
	return func(s *FeedbackService) {
		s.cache = cache
		s.queueTTL = queueTTL
		s.reportTTL = reportTTL
	}
}

// WithLifecycleMetrics counts lifecycle events on the Prometheus registry.
func WithLifecycleMetrics(rec lifecycleRecorder) FeedbackOption {
	return func(s *FeedbackService) { s.metrics = rec }
}

// WithTrackingKeyGenerator overrides tracking key generation (tests).
func WithTrackingKeyGenerator(fn func() string) FeedbackOption {
	return func(s *FeedbackService) { s.keyFn = fn }
}

// NewFeedbackService constructs the lifecycle service.
func NewFeedbackService(repo feedbackRepository, users feedbackUserStore, validate *validator.Validate, logger *zap.Logger, opts ...FeedbackOption) *FeedbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	s := &FeedbackService{
		repo:      repo,
		users:     users,
		validator: validate,
		logger:    logger,
		keyFn:     generateTrackingKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// generateTrackingKey builds a 10-digit numeric key: the low six digits of
// the current unix-millis timestamp plus a zero-padded 4-digit random
// suffix. Collisions are handled by the retry loop in Submit, not here.
func generateTrackingKey() string {
	ts := time.Now().UnixMilli() % 1_000_000
	return fmt.Sprintf("%06d%04d", ts, rand.Intn(10_000))
}

// Submit resolves or creates the submitter, generates a unique tracking key
// and stores the ticket. storedFile names an already-persisted attachment;
// it is removed again if anything after the upload fails.
func (s *FeedbackService) Submit(ctx context.Context, req dto.SubmitFeedbackRequest, storedFile *string, meta models.RequestMeta) (*models.Feedback, error) {
	fb, err := s.submit(ctx, req, storedFile, meta)
	if err != nil && storedFile != nil && s.uploads != nil {
		if cleanupErr := s.uploads.Delete(*storedFile); cleanupErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("file", *storedFile), zap.Error(cleanupErr))
		}
	}
	return fb, err
}

func (s *FeedbackService) submit(ctx context.Context, req dto.SubmitFeedbackRequest, storedFile *string, meta models.RequestMeta) (*models.Feedback, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "name, email, subject, message and category are required")
	}

	user, err := s.resolveSubmitter(ctx, req.Name, req.Email)
	if err != nil {
		return nil, err
	}

	fb := &models.Feedback{
		UserID:   user.ID,
		Subject:  req.Subject,
		Message:  req.Message,
		Category: req.Category,
		File:     storedFile,
		Status:   models.FeedbackStatusSubmitted,
	}

	for attempt := 0; attempt < trackingKeyAttempts; attempt++ {
		fb.TrackingKey = s.keyFn()
		err = s.repo.Create(ctx, fb)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicateTrackingKey) {
			return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to store feedback")
		}
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "could not allocate a unique tracking key")
	}

	s.invalidateQueues(ctx)
	s.observe("submit")
	s.audit(ctx, &user.ID, models.AuditActionSubmit, "feedback", fb.ID, map[string]interface{}{"tracking_key": fb.TrackingKey}, meta)
	return fb, nil
}

func (s *FeedbackService) resolveSubmitter(ctx context.Context, name, email string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to look up submitter")
	}

	// Placeholder credential: submitters authenticate with their tracking
	// key, never with this password.
	placeholder, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to provision submitter")
	}
	user = &models.User{
		Email:        email,
		FullName:     name,
		Role:         models.RoleSubmitter,
		Active:       true,
		PasswordHash: string(placeholder),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to provision submitter")
	}
	return user, nil
}

// Assign routes a ticket to an employee on behalf of the acting HOD.
func (s *FeedbackService) Assign(ctx context.Context, req dto.AssignRequest, hodID string, meta models.RequestMeta) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "feedback_id and employee_id are required")
	}

	employee, err := s.users.FindByID(ctx, req.EmployeeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "employee not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load employee")
	}
	if employee.Role != models.RoleEmployee {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignee is not an employee")
	}

	assignment := &models.Assignment{
		FeedbackID: req.FeedbackID,
		HodID:      hodID,
		EmployeeID: req.EmployeeID,
	}
	if err := s.repo.Assign(ctx, assignment); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "feedback not found")
		case errors.Is(err, repository.ErrDuplicateAssignment):
			return nil, appErrors.Clone(appErrors.ErrConflict, "feedback is already assigned")
		case errors.Is(err, repository.ErrIllegalTransition):
			return nil, appErrors.Clone(appErrors.ErrConflict, "feedback cannot be assigned in its current status")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to assign feedback")
		}
	}

	s.invalidateQueues(ctx)
	s.observe("assign")
	s.audit(ctx, &hodID, models.AuditActionAssign, "feedback_assignments", assignment.ID, map[string]interface{}{
		"feedback_id": req.FeedbackID,
		"employee_id": req.EmployeeID,
	}, meta)
	return assignment, nil
}

// Respond stores an employee reply and sends the ticket for HOD review.
func (s *FeedbackService) Respond(ctx context.Context, req dto.RespondRequest, employeeID string, meta models.RequestMeta) (*models.Response, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "assignment_id and employee_reply are required")
	}

	resp := &models.Response{
		AssignmentID:  req.AssignmentID,
		EmployeeReply: req.EmployeeReply,
		Status:        models.ResponseStatusPending,
	}
	if err := s.repo.CreateResponse(ctx, resp); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		case errors.Is(err, repository.ErrDuplicateResponse):
			return nil, appErrors.Clone(appErrors.ErrConflict, "a response has already been submitted for this feedback")
		case errors.Is(err, repository.ErrIllegalTransition):
			return nil, appErrors.Clone(appErrors.ErrConflict, "feedback is not awaiting a response")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to store response")
		}
	}

	s.invalidateQueues(ctx)
	s.observe("respond")
	s.audit(ctx, &employeeID, models.AuditActionRespond, "feedback_responses", resp.ID, map[string]interface{}{
		"assignment_id": req.AssignmentID,
	}, meta)
	return resp, nil
}

// Review records the HOD verdict. Approval completes the ticket; rejection
// loops it back to In Progress so the employee may submit a fresh response.
func (s *FeedbackService) Review(ctx context.Context, req dto.ReviewRequest, hodID string, meta models.RequestMeta) (string, error) {
	if err := s.validator.Struct(req); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "response_id and a verdict of Approved or Rejected are required")
	}

	if err := s.repo.Review(ctx, req.ResponseID, req.Status, req.HodComment); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return "", appErrors.Clone(appErrors.ErrNotFound, "response not found")
		case errors.Is(err, repository.ErrIllegalTransition):
			return "", appErrors.Clone(appErrors.ErrConflict, "response is not pending review")
		default:
			return "", appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to record verdict")
		}
	}

	s.invalidateQueues(ctx)
	s.observe("review")
	s.audit(ctx, &hodID, models.AuditActionReview, "feedback_responses", req.ResponseID, map[string]interface{}{
		"status": req.Status,
	}, meta)

	if req.Status == models.ResponseStatusApproved {
		return "Response approved and sent to user", nil
	}
	return "Response rejected and sent back to employee", nil
}

// ListNew returns the HOD new queue.
func (s *FeedbackService) ListNew(ctx context.Context) ([]dto.FeedbackListItem, error) {
	var cached []dto.FeedbackListItem
	if s.cacheGet(ctx, cacheKeyNewQueue, &cached) {
		return cached, nil
	}
	items, err := s.repo.ListNew(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list feedback")
	}
	s.cacheSet(ctx, cacheKeyNewQueue, items, s.queueTTL)
	return items, nil
}

// ListAssignments returns every assignment with ticket state.
func (s *FeedbackService) ListAssignments(ctx context.Context) ([]dto.AssignmentListItem, error) {
	var cached []dto.AssignmentListItem
	if s.cacheGet(ctx, cacheKeyAssigned, &cached) {
		return cached, nil
	}
	items, err := s.repo.ListAssignments(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list assignments")
	}
	s.cacheSet(ctx, cacheKeyAssigned, items, s.queueTTL)
	return items, nil
}

// EmployeeQueue returns open assignments for one employee.
func (s *FeedbackService) EmployeeQueue(ctx context.Context, employeeID string) ([]dto.EmployeeQueueItem, error) {
	items, err := s.repo.ListEmployeeQueue(ctx, employeeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list employee queue")
	}
	return items, nil
}

// PendingResponses returns the HOD review queue.
func (s *FeedbackService) PendingResponses(ctx context.Context) ([]dto.PendingResponseItem, error) {
	var cached []dto.PendingResponseItem
	if s.cacheGet(ctx, cacheKeyPending, &cached) {
		return cached, nil
	}
	items, err := s.repo.ListPendingResponses(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list pending responses")
	}
	s.cacheSet(ctx, cacheKeyPending, items, s.queueTTL)
	return items, nil
}

// Track resolves a tracking key to its ticket plus every other ticket from
// the same submitter.
func (s *FeedbackService) Track(ctx context.Context, trackingKey string) (*dto.TrackingResult, error) {
	if trackingKey == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tracking key is required")
	}

	ownerID, err := s.repo.FindOwnerByTrackingKey(ctx, trackingKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "feedback not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to resolve tracking key")
	}

	items, err := s.repo.ListUserFeedback(ctx, ownerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load feedback history")
	}

	result := &dto.TrackingResult{AllFeedback: items}
	for i := range items {
		if items[i].TrackingKey == trackingKey {
			result.CurrentFeedback = items[i]
			return result, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "feedback not found")
}

// UserFeedback returns every ticket for a user.
func (s *FeedbackService) UserFeedback(ctx context.Context, userID string) ([]dto.UserFeedbackItem, error) {
	items, err := s.repo.ListUserFeedback(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list user feedback")
	}
	return items, nil
}

// Report buckets tickets created in [start, end] into resolved, in-progress
// and pending counts alongside the raw rows.
func (s *FeedbackService) Report(ctx context.Context, start, end string) (*dto.ReportResponse, error) {
	from, to, err := parseReportRange(start, end)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("%sreport:%s:%s", cacheKeyPrefix, start, end)
	var cached dto.ReportResponse
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	rows, err := s.repo.ListByDateRange(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to build report")
	}

	report := &dto.ReportResponse{Reports: rows, Summary: summarize(rows)}
	s.cacheSet(ctx, cacheKey, report, s.reportTTL)
	return report, nil
}

func parseReportRange(start, end string) (time.Time, time.Time, error) {
	const layout = "2006-01-02"
	from, err := time.Parse(layout, start)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "start must be a YYYY-MM-DD date")
	}
	to, err := time.Parse(layout, end)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "end must be a YYYY-MM-DD date")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "end must not precede start")
	}
	// Inclusive end: extend to the last instant of the day.
	to = to.Add(24*time.Hour - time.Nanosecond)
	return from, to, nil
}

func summarize(rows []dto.FeedbackListItem) dto.ReportSummary {
	summary := dto.ReportSummary{Total: len(rows)}
	for _, row := range rows {
		switch row.Status {
		case models.FeedbackStatusCompleted, "Resolved":
			summary.Resolved++
		case models.FeedbackStatusInProgress, models.FeedbackStatusUnderReview:
			summary.InProgress++
		case models.FeedbackStatusSubmitted, models.FeedbackStatusAssigned:
			summary.Pending++
		}
	}
	return summary
}

func (s *FeedbackService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	start := time.Now()
	err := s.cache.Get(ctx, key, dest)
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	}
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return true
}

func (s *FeedbackService) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	start := time.Now()
	err := s.cache.Set(ctx, key, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *FeedbackService) observe(event string) {
	if s.metrics != nil {
		s.metrics.ObserveLifecycleEvent(event)
	}
}

func (s *FeedbackService) invalidateQueues(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, cacheKeyPrefix+"*"); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}

func (s *FeedbackService) audit(ctx context.Context, actorID *string, action, resource, resourceID string, payload map[string]interface{}, meta models.RequestMeta) {
	values, _ := json.Marshal(payload)
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     actorID,
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		NewValues:  values,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
