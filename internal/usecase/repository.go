package usecase

import (
	"context"
	"time"

	"github.com/example/imageclassify/internal/repository"
)

// JobRepository defines the audit operations needed by the use case. Failures
// are logged and never change the outcome of an upload, job or retrieval.
type JobRepository interface {
	CreateJob(ctx context.Context, record *repository.JobRecord) error
	MarkRejected(ctx context.Context, jobID, reason string) error
	MarkCompleted(ctx context.Context, jobID string, c repository.Completion) error
	MarkConsumed(ctx context.Context, jobID string, at time.Time) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// nopRepository is used when no database is configured.
type nopRepository struct{}

func (nopRepository) CreateJob(context.Context, *repository.JobRecord) error { return nil }

func (nopRepository) MarkRejected(context.Context, string, string) error { return nil }

func (nopRepository) MarkCompleted(context.Context, string, repository.Completion) error { return nil }

func (nopRepository) MarkConsumed(context.Context, string, time.Time) error { return nil }

func (nopRepository) AggregateMetrics(context.Context) (*repository.MetricsAggregation, error) {
	return nil, ErrMetricsUnavailable
}

func orNop(repo JobRepository) JobRepository {
	if repo == nil {
		return nopRepository{}
	}
	return repo
}
