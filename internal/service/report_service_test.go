package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/feedback-desk-api/internal/dto"
	"github.com/noah-isme/feedback-desk-api/internal/models"
	"github.com/noah-isme/feedback-desk-api/internal/repository"
	appErrors "github.com/noah-isme/feedback-desk-api/pkg/errors"
	"github.com/noah-isme/feedback-desk-api/pkg/jobs"
	"github.com/noah-isme/feedback-desk-api/pkg/storage"
)

type fakeJobStore struct {
	jobs   map[string]*models.ReportJob
	nextID int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*models.ReportJob{}}
}

func (f *fakeJobStore) Create(ctx context.Context, job *models.ReportJob) error {
	f.nextID++
	job.ID = fmt.Sprintf("job-%d", f.nextID)
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobStore) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	if job, ok := f.jobs[id]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeJobStore) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := f.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (f *fakeJobStore) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var queued []models.ReportJob
	for _, job := range f.jobs {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (f *fakeJobStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	var finished []models.ReportJob
	for _, job := range f.jobs {
		if job.Status != models.ReportStatusFinished || job.FinishedAt == nil || !job.FinishedAt.Before(cutoff) {
			continue
		}
		if job.ResultURL == nil || *job.ResultURL == "" {
			continue
		}
		finished = append(finished, *job)
		if len(finished) == limit {
			break
		}
	}
	return finished, nil
}

type fakeDispatcher struct {
	enqueued []jobs.Job
	err      error
}

func (f *fakeDispatcher) Enqueue(job jobs.Job) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}

type staticReportSource struct {
	report *dto.ReportResponse
	err    error
}

func (s *staticReportSource) Report(ctx context.Context, start, end string) (*dto.ReportResponse, error) {
	return s.report, s.err
}

func sampleReport() *dto.ReportResponse {
	return &dto.ReportResponse{
		Summary: dto.ReportSummary{Total: 1, Resolved: 1},
		Reports: []dto.FeedbackListItem{{
			Feedback: models.Feedback{
				TrackingKey: "1234567890",
				Subject:     "Broken printer",
				Category:    "Facilities",
				Status:      models.FeedbackStatusCompleted,
				CreatedAt:   time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
			},
			UserName: "Alice",
		}},
	}
}

func newTestExporter(t *testing.T, source reportSource) *ExportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewExportService(source, store, signer, ExportConfig{APIPrefix: "/api", ResultTTL: time.Hour}, nil, nil, nil)
}

func TestExportServiceGenerateCSV(t *testing.T) {
	exporter := newTestExporter(t, &staticReportSource{report: sampleReport()})

	job := &models.ReportJob{
		ID:     "job-1",
		Params: models.ReportJobParams{Start: "2026-01-01", End: "2026-01-31", Format: models.ReportFormatCSV},
	}
	result, err := exporter.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Contains(t, result.URL, "/api/feedback/report/export/")
	assert.True(t, strings.HasSuffix(result.RelativePath, ".csv"))

	file, err := exporter.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close()
	payload, err := io.ReadAll(file)
	require.NoError(t, err)
	content := string(payload)
	assert.Contains(t, content, "Tracking Key")
	assert.Contains(t, content, "TOTAL")
	assert.Contains(t, content, "1234567890")
	assert.Contains(t, content, "Broken printer")

	jobID, relPath, _, err := exporter.ParseToken(result.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, result.RelativePath, relPath)
}

func TestExportServiceGeneratePDF(t *testing.T) {
	exporter := newTestExporter(t, &staticReportSource{report: sampleReport()})

	job := &models.ReportJob{
		ID:     "job-2",
		Params: models.ReportJobParams{Start: "2026-01-01", End: "2026-01-31", Format: models.ReportFormatPDF},
	}
	result, err := exporter.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.RelativePath, ".pdf"))
}

func TestExportServiceGenerateUnknownFormat(t *testing.T) {
	exporter := newTestExporter(t, &staticReportSource{report: sampleReport()})

	_, err := exporter.Generate(context.Background(), &models.ReportJob{
		ID:     "job-3",
		Params: models.ReportJobParams{Start: "2026-01-01", End: "2026-01-31", Format: "xlsx"},
	})
	require.Error(t, err)
}

func TestReportServiceCreateJob(t *testing.T) {
	store := newFakeJobStore()
	dispatcher := &fakeDispatcher{}
	svc := NewReportService(store, dispatcher, newTestExporter(t, &staticReportSource{report: sampleReport()}), nil, nil, ReportServiceConfig{})

	resp, err := svc.CreateJob(context.Background(), dto.ReportExportRequest{Start: "2026-01-01", End: "2026-01-31", Format: models.ReportFormatCSV}, "hod-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	require.Len(t, dispatcher.enqueued, 1)
	assert.Equal(t, resp.ID, dispatcher.enqueued[0].ID)
	assert.Equal(t, "report_export", dispatcher.enqueued[0].Type)
}

func TestReportServiceCreateJobBadRange(t *testing.T) {
	svc := NewReportService(newFakeJobStore(), &fakeDispatcher{}, nil, nil, nil, ReportServiceConfig{})

	_, err := svc.CreateJob(context.Background(), dto.ReportExportRequest{Start: "2026-02-01", End: "2026-01-01", Format: models.ReportFormatCSV}, "hod-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceCreateJobEnqueueFailure(t *testing.T) {
	store := newFakeJobStore()
	svc := NewReportService(store, &fakeDispatcher{err: assert.AnError}, nil, nil, nil, ReportServiceConfig{})

	_, err := svc.CreateJob(context.Background(), dto.ReportExportRequest{Start: "2026-01-01", End: "2026-01-31", Format: models.ReportFormatPDF}, "hod-1")
	require.Error(t, err)
	require.Len(t, store.jobs, 1)
	for _, job := range store.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
	}
}

func TestReportServiceGetStatusOwnership(t *testing.T) {
	store := newFakeJobStore()
	require.NoError(t, store.Create(context.Background(), &models.ReportJob{Status: models.ReportStatusQueued, CreatedBy: "owner"}))
	svc := NewReportService(store, &fakeDispatcher{}, nil, nil, nil, ReportServiceConfig{})

	_, err := svc.GetStatus(context.Background(), "job-1", "intruder", models.RoleEmployee)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	status, err := svc.GetStatus(context.Background(), "job-1", "someone-else", models.RoleHOD)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, status.Status)
}

func TestReportServiceGetStatusNotFound(t *testing.T) {
	svc := NewReportService(newFakeJobStore(), &fakeDispatcher{}, nil, nil, nil, ReportServiceConfig{})

	_, err := svc.GetStatus(context.Background(), "missing", "hod-1", models.RoleHOD)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportWorkerHandleFinishesJob(t *testing.T) {
	store := newFakeJobStore()
	exporter := newTestExporter(t, &staticReportSource{report: sampleReport()})
	job := &models.ReportJob{
		Params: models.ReportJobParams{Start: "2026-01-01", End: "2026-01-31", Format: models.ReportFormatCSV},
		Status: models.ReportStatusQueued,
	}
	require.NoError(t, store.Create(context.Background(), job))

	worker := NewReportWorker(store, exporter, 3, nil)
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID, Type: "report_export"}))

	stored := store.jobs[job.ID]
	assert.Equal(t, models.ReportStatusFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ResultURL)
	assert.Contains(t, *stored.ResultURL, "/api/feedback/report/export/")
	require.NotNil(t, stored.FinishedAt)
}

func TestReportWorkerHandleRequeuesOnFailure(t *testing.T) {
	store := newFakeJobStore()
	exporter := newTestExporter(t, &staticReportSource{err: assert.AnError})
	job := &models.ReportJob{
		Params: models.ReportJobParams{Start: "2026-01-01", End: "2026-01-31", Format: models.ReportFormatCSV},
		Status: models.ReportStatusQueued,
	}
	require.NoError(t, store.Create(context.Background(), job))

	worker := NewReportWorker(store, exporter, 3, nil)
	err := worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 1})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusQueued, store.jobs[job.ID].Status)

	err = worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 3})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusFailed, store.jobs[job.ID].Status)
	require.NotNil(t, store.jobs[job.ID].ErrorMessage)
}

func TestReportServiceResolveDownload(t *testing.T) {
	store := newFakeJobStore()
	exporter := newTestExporter(t, &staticReportSource{report: sampleReport()})
	job := &models.ReportJob{
		Params: models.ReportJobParams{Start: "2026-01-01", End: "2026-01-31", Format: models.ReportFormatCSV},
		Status: models.ReportStatusQueued,
	}
	require.NoError(t, store.Create(context.Background(), job))

	worker := NewReportWorker(store, exporter, 3, nil)
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID}))

	token := extractToken(*store.jobs[job.ID].ResultURL)
	svc := NewReportService(store, &fakeDispatcher{}, exporter, nil, nil, ReportServiceConfig{})

	download, err := svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ReportFormatCSV, download.Format)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))

	_, err = svc.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	store := newFakeJobStore()
	require.NoError(t, store.Create(context.Background(), &models.ReportJob{Status: models.ReportStatusQueued}))
	require.NoError(t, store.Create(context.Background(), &models.ReportJob{Status: models.ReportStatusFinished}))
	dispatcher := &fakeDispatcher{}
	svc := NewReportService(store, dispatcher, nil, nil, nil, ReportServiceConfig{})

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, dispatcher.enqueued, 1)
}

func TestReportServiceCleanupExpiredDrainsBacklog(t *testing.T) {
	store := newFakeJobStore()
	finishedAt := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 150; i++ {
		url := "/api/feedback/report/export/stale-token"
		store.nextID++
		id := fmt.Sprintf("job-%d", store.nextID)
		store.jobs[id] = &models.ReportJob{
			ID:         id,
			Status:     models.ReportStatusFinished,
			ResultURL:  &url,
			FinishedAt: &finishedAt,
		}
	}
	exporter := newTestExporter(t, &staticReportSource{report: sampleReport()})
	svc := NewReportService(store, &fakeDispatcher{}, exporter, nil, nil, ReportServiceConfig{ResultTTL: time.Hour})

	svc.cleanupExpired(context.Background())

	for id, job := range store.jobs {
		require.NotNil(t, job.ResultURL, id)
		assert.Empty(t, *job.ResultURL, id)
	}
	remaining, err := store.ListFinishedBefore(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
