package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/imageclassify/internal/logging"
	"github.com/example/imageclassify/internal/objectstore"
	"github.com/example/imageclassify/internal/repository"
	"github.com/example/imageclassify/internal/worker"
)

const maxFilenameLength = 128

// Scheduler accepts jobs for asynchronous processing.
type Scheduler interface {
	Submit(ctx context.Context, job worker.Job) error
}

// UploadRequest is one inbound file.
type UploadRequest struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadReceipt is returned once the raw bytes are stored and the job is queued.
type UploadReceipt struct {
	JobID string
}

// ClassificationUseCase implements upload intake and result retrieval.
type ClassificationUseCase struct {
	store     objectstore.Store
	scheduler Scheduler
	repo      JobRepository
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

// NewClassificationUseCase constructs a new use case instance. repo may be nil.
func NewClassificationUseCase(store objectstore.Store, scheduler Scheduler, repo JobRepository, logger *zap.Logger) *ClassificationUseCase {
	return &ClassificationUseCase{
		store:     store,
		scheduler: scheduler,
		repo:      orNop(repo),
		logger:    logger.Named("classification_usecase"),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Upload validates the file, persists its bytes synchronously and schedules a
// job runner without waiting for it.
func (uc *ClassificationUseCase) Upload(ctx context.Context, req UploadRequest) (*UploadReceipt, error) {
	if req.Data == nil {
		return nil, fmt.Errorf("%w: no file part in the request", ErrValidation)
	}
	if strings.TrimSpace(req.Filename) == "" {
		return nil, fmt.Errorf("%w: empty filename", ErrValidation)
	}

	jobID := uc.newID() + "-" + sanitizeFilename(req.Filename)
	opLogger := logging.WithOperation(uc.logger, "usecase.upload", jobID)

	if err := uc.store.Put(ctx, RawKey(jobID), req.Data); err != nil {
		wrapped := logging.NewOperationError("usecase.store_raw", jobID, fmt.Errorf("%w: %v", ErrStorage, err))
		opLogger.Error("failed to persist upload", zap.Error(err))
		return nil, wrapped
	}

	if err := uc.repo.CreateJob(ctx, &repository.JobRecord{
		JobID:            jobID,
		OriginalFilename: req.Filename,
		ContentType:      req.ContentType,
		SizeBytes:        int64(len(req.Data)),
		Status:           repository.StatusQueued,
		CreatedAt:        uc.now().UTC(),
	}); err != nil {
		opLogger.Warn("failed to record job", zap.Error(err))
	}

	if err := uc.scheduler.Submit(ctx, worker.Job{ID: jobID, Enqueued: uc.now()}); err != nil {
		opLogger.Error("failed to schedule job", zap.Error(err))
		cleanupCtx, cancel := detached(ctx)
		defer cancel()
		if delErr := uc.store.Delete(cleanupCtx, RawKey(jobID)); delErr != nil {
			opLogger.Warn("failed to delete unscheduled upload", zap.Error(delErr))
		}
		if recErr := uc.repo.MarkRejected(cleanupCtx, jobID, err.Error()); recErr != nil {
			opLogger.Warn("failed to record rejection", zap.Error(recErr))
		}
		return nil, logging.NewOperationError("usecase.schedule", jobID, fmt.Errorf("%w: %v", ErrBusy, err))
	}

	opLogger.Info("upload accepted", zap.Int("bytes", len(req.Data)))
	return &UploadReceipt{JobID: jobID}, nil
}

// Retrieve consumes the result of jobID. ready is false while no result exists,
// which is also the answer for ids that were never uploaded or were already
// consumed.
func (uc *ClassificationUseCase) Retrieve(ctx context.Context, jobID string) (result *PredictionResult, ready bool, err error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, false, fmt.Errorf("%w: job id is required", ErrValidation)
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.retrieve", jobID)

	data, err := uc.consume(ctx, jobID, opLogger)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		opLogger.Error("failed to read result", zap.Error(err))
		return nil, false, logging.NewOperationError("usecase.read_result", jobID, fmt.Errorf("%w: %v", ErrStorage, err))
	}

	result, err = decodeResult(data)
	if err != nil {
		opLogger.Error("stored result is corrupt", zap.Error(err))
		result = ErrorResult()
	}

	recordCtx, cancel := detached(ctx)
	defer cancel()
	if err := uc.repo.MarkConsumed(recordCtx, jobID, uc.now().UTC()); err != nil {
		opLogger.Warn("failed to record consumption", zap.Error(err))
	}
	return result, true, nil
}

// consume reads and removes the result object. Stores with an atomic take are
// preferred so concurrent polls see the payload at most once.
func (uc *ClassificationUseCase) consume(ctx context.Context, jobID string, opLogger *zap.Logger) ([]byte, error) {
	key := ResultKey(jobID)
	if taker, ok := uc.store.(objectstore.Taker); ok {
		return taker.Take(ctx, key)
	}

	data, err := uc.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	cleanupCtx, cancel := detached(ctx)
	defer cancel()
	if err := uc.store.Delete(cleanupCtx, key); err != nil {
		opLogger.Warn("failed to delete consumed result", zap.Error(err))
	}
	return data, nil
}

// sanitizeFilename reduces a client supplied name to a single safe key segment.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := strings.TrimLeft(b.String(), ".")
	if len(clean) > maxFilenameLength {
		clean = clean[len(clean)-maxFilenameLength:]
	}
	if clean == "" || strings.Trim(clean, "_") == "" {
		return "upload"
	}
	return clean
}
