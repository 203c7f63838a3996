package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusflow/registrar-api/internal/models"
	"github.com/campusflow/registrar-api/internal/repository"
	"github.com/campusflow/registrar-api/pkg/storage"
)

type fakeExportJobStore struct {
	jobs      map[string]*models.ExportJob
	listCalls int
}

func (f *fakeExportJobStore) Create(ctx context.Context, job *models.ExportJob) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeExportJobStore) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	if job, ok := f.jobs[id]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

func (f *fakeExportJobStore) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
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

func (f *fakeExportJobStore) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range f.jobs {
		if job.Status == models.ExportStatusQueued && len(out) < limit {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeExportJobStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	f.listCalls++
	var out []models.ExportJob
	for _, job := range f.jobs {
		if job.Status != models.ExportStatusFinished || job.FinishedAt == nil {
			continue
		}
		if !job.FinishedAt.Before(cutoff) {
			continue
		}
		out = append(out, *job)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newExportCleanupFixture(t *testing.T) (*fakeExportJobStore, *ExportJobService, *ExportService) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	exporter := NewExportService(nil, nil, store, signer, ExportConfig{ResultTTL: time.Hour}, zap.NewNop(), nil, nil)
	repo := &fakeExportJobStore{jobs: make(map[string]*models.ExportJob)}
	svc := NewExportJobService(repo, nil, exporter, zap.NewNop(), ExportJobServiceConfig{ResultTTL: time.Hour})
	return repo, svc, exporter
}

func TestExportJobServiceCleanupMarksExpiredAndTerminates(t *testing.T) {
	repo, svc, _ := newExportCleanupFixture(t)

	finishedAt := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("job-%d", i)
		at := finishedAt
		repo.jobs[id] = &models.ExportJob{
			ID:         id,
			Type:       models.ExportTypeRegistrations,
			Status:     models.ExportStatusFinished,
			Progress:   100,
			FinishedAt: &at,
		}
	}

	// 250 expired jobs span three pages; every pass must shrink the
	// backlog or the loop would fetch the same page forever.
	svc.cleanupExpired(context.Background())

	for id, job := range repo.jobs {
		assert.Equal(t, models.ExportStatusExpired, job.Status, "job %s", id)
	}
	assert.LessOrEqual(t, repo.listCalls, 4)
}

func TestExportJobServiceCleanupDeletesStoredFile(t *testing.T) {
	repo, svc, exporter := newExportCleanupFixture(t)

	relPath, err := exporter.storage.Save("report.csv", []byte("header\nrow\n"))
	require.NoError(t, err)
	token, _, err := exporter.signer.Generate("job-1", relPath)
	require.NoError(t, err)
	url := "/api/v1/exports/download/" + token
	finishedAt := time.Now().Add(-48 * time.Hour)
	repo.jobs["job-1"] = &models.ExportJob{
		ID:         "job-1",
		Type:       models.ExportTypeRegistrations,
		Status:     models.ExportStatusFinished,
		Progress:   100,
		ResultURL:  &url,
		FinishedAt: &finishedAt,
	}

	svc.cleanupExpired(context.Background())

	assert.Equal(t, models.ExportStatusExpired, repo.jobs["job-1"].Status)
	_, err = exporter.Open(relPath)
	assert.Error(t, err)
}
