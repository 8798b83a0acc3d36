package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/imageclassify/internal/retry"
)

// Job statuses recorded in the audit table.
const (
	StatusQueued    = "queued"
	StatusRejected  = "rejected"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusConsumed  = "consumed"
)

// JobRecord is the audit trail of one upload-to-result lifecycle. It is never
// consulted to locate results; the object store key layout does that.
type JobRecord struct {
	ID               uint       `gorm:"primaryKey"`
	JobID            string     `gorm:"column:job_id;uniqueIndex;size:320"`
	OriginalFilename string     `gorm:"column:original_filename;size:255"`
	ContentType      string     `gorm:"column:content_type;size:128"`
	SizeBytes        int64      `gorm:"column:size_bytes"`
	Status           string     `gorm:"column:status;size:16;index"`
	Succeeded        bool       `gorm:"column:succeeded"`
	PredictedLabel   string     `gorm:"column:predicted_label;size:64"`
	FailureReason    string     `gorm:"column:failure_reason;type:text"`
	ProcessingMs     int64      `gorm:"column:processing_ms"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at"`
	ConsumedAt       *time.Time `gorm:"column:consumed_at"`
}

// TableName overrides the default table name.
func (JobRecord) TableName() string {
	return "classification_jobs"
}

// Completion describes the outcome of one processing attempt.
type Completion struct {
	Succeeded      bool
	PredictedLabel string
	FailureReason  string
	ProcessingTime time.Duration
	CompletedAt    time.Time
}

// MetricsAggregation is the raw aggregate over completed jobs.
type MetricsAggregation struct {
	TotalCount                 int64
	SuccessCount               int64
	AverageProcessingLatencyMs float64
	FailuresByReason           map[string]int64 `gorm:"-"`
}

type failureCount struct {
	FailureReason string
	Count         int64
}

// JobRepository provides persistence APIs for job audit records.
type JobRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewJobRepository creates a new repository instance.
func NewJobRepository(db *gorm.DB, logger *zap.Logger) *JobRepository {
	return &JobRepository{
		db:             db,
		logger:         logger.Named("job_repository"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *JobRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&JobRecord{})
	})
}

// CreateJob persists the record of an accepted upload.
func (r *JobRepository) CreateJob(ctx context.Context, record *JobRecord) error {
	return r.executeWithRetry(ctx, "repository.create_job", record.JobID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// MarkRejected records that an accepted upload could not be scheduled.
func (r *JobRepository) MarkRejected(ctx context.Context, jobID, reason string) error {
	return r.executeWithRetry(ctx, "repository.mark_rejected", jobID, func() error {
		return r.db.WithContext(ctx).Model(&JobRecord{}).
			Where("job_id = ?", jobID).
			Updates(map[string]interface{}{
				"status":         StatusRejected,
				"failure_reason": reason,
			}).Error
	})
}

// MarkCompleted records the outcome of a processing attempt.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string, c Completion) error {
	status := StatusFailed
	if c.Succeeded {
		status = StatusSucceeded
	}
	completedAt := c.CompletedAt
	return r.executeWithRetry(ctx, "repository.mark_completed", jobID, func() error {
		return r.db.WithContext(ctx).Model(&JobRecord{}).
			Where("job_id = ?", jobID).
			Updates(map[string]interface{}{
				"status":          status,
				"succeeded":       c.Succeeded,
				"predicted_label": c.PredictedLabel,
				"failure_reason":  c.FailureReason,
				"processing_ms":   c.ProcessingTime.Milliseconds(),
				"completed_at":    &completedAt,
			}).Error
	})
}

// MarkConsumed records that the result was retrieved and deleted.
func (r *JobRepository) MarkConsumed(ctx context.Context, jobID string, at time.Time) error {
	return r.executeWithRetry(ctx, "repository.mark_consumed", jobID, func() error {
		return r.db.WithContext(ctx).Model(&JobRecord{}).
			Where("job_id = ?", jobID).
			Updates(map[string]interface{}{
				"status":      StatusConsumed,
				"consumed_at": &at,
			}).Error
	})
}

// AggregateMetrics summarises every job that finished processing.
func (r *JobRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&JobRecord{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN succeeded THEN 1 ELSE 0 END), 0) AS success_count,
				COALESCE(AVG(processing_ms), 0) AS average_processing_latency_ms`).
			Where("completed_at IS NOT NULL").
			Find(&agg).Error
	})
	if err != nil {
		return nil, err
	}

	var failures []failureCount
	err = r.executeWithRetry(ctx, "repository.aggregate_failures", "", func() error {
		failures = failures[:0]
		return r.db.WithContext(ctx).Model(&JobRecord{}).
			Select("failure_reason, COUNT(*) AS count").
			Where("completed_at IS NOT NULL AND NOT succeeded").
			Group("failure_reason").
			Find(&failures).Error
	})
	if err != nil {
		return nil, err
	}
	agg.FailuresByReason = make(map[string]int64, len(failures))
	for _, f := range failures {
		agg.FailuresByReason[f.FailureReason] = f.Count
	}
	return &agg, nil
}

func (r *JobRepository) executeWithRetry(ctx context.Context, operation, jobID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return retry.Do(ctx, r.logger, policy, operation, jobID, fn)
}
