package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/example/imageclassify/internal/imageprocessor"
	"github.com/example/imageclassify/internal/logging"
	"github.com/example/imageclassify/internal/objectstore"
	"github.com/example/imageclassify/internal/repository"
	"github.com/example/imageclassify/internal/worker"
)

// cleanupTimeout bounds result writes and deletions, which run detached from
// the job deadline so a timed out job still records its outcome.
const cleanupTimeout = 10 * time.Second

// JobRunner performs one processing attempt per job.
type JobRunner struct {
	store      objectstore.Store
	backend    imageprocessor.Backend
	repo       JobRepository
	scratchDir string
	logger     *zap.Logger
	now        func() time.Time
}

// NewJobRunner constructs a runner. scratchDir may be empty to use the system
// temporary directory; repo may be nil.
func NewJobRunner(store objectstore.Store, backend imageprocessor.Backend, repo JobRepository, scratchDir string, logger *zap.Logger) *JobRunner {
	return &JobRunner{
		store:      store,
		backend:    backend,
		repo:       orNop(repo),
		scratchDir: scratchDir,
		logger:     logger.Named("job_runner"),
		now:        time.Now,
	}
}

// Run implements worker.Handler. It always attempts to write exactly one
// result and always removes the raw object and the scratch copy.
func (r *JobRunner) Run(ctx context.Context, job worker.Job) {
	start := r.now()
	opLogger := logging.WithOperation(r.logger, "usecase.run_job", job.ID)

	prediction, procErr := r.processSafely(ctx, job.ID, opLogger)

	finishCtx, cancel := detached(ctx)
	defer cancel()

	if err := r.store.Delete(finishCtx, RawKey(job.ID)); err != nil {
		opLogger.Warn("failed to delete raw object", zap.Error(err))
	}

	result := ErrorResult()
	completion := repository.Completion{CompletedAt: r.now().UTC()}
	if procErr == nil {
		result = SuccessResult(prediction)
		completion.Succeeded = true
		completion.PredictedLabel = prediction.Label
	}

	payload, err := encodeResult(job.ID, result)
	if err != nil && procErr == nil {
		// Scores that JSON cannot carry (NaN, Inf) degrade to the error variant.
		procErr = fmt.Errorf("%w: %v", ErrInference, err)
		result = ErrorResult()
		completion.Succeeded = false
		completion.PredictedLabel = ""
		payload, err = encodeResult(job.ID, result)
	}
	if procErr != nil {
		completion.FailureReason = failureReason(procErr)
		opLogger.Error("processing failed", zap.Error(procErr), zap.String("reason", completion.FailureReason))
	}
	completion.ProcessingTime = r.now().Sub(start)

	if err == nil {
		err = logging.NewOperationError("usecase.write_result", job.ID, r.store.Put(finishCtx, ResultKey(job.ID), payload))
	}
	if err != nil {
		opLogger.Error("failed to write result", zap.Error(err))
	}

	if err := r.repo.MarkCompleted(finishCtx, job.ID, completion); err != nil {
		opLogger.Warn("failed to record completion", zap.Error(err))
	}

	opLogger.Info("job finished",
		zap.Bool("succeeded", completion.Succeeded),
		zap.String("predicted_label", completion.PredictedLabel),
		zap.Duration("duration", completion.ProcessingTime),
	)
}

// processSafely turns a panic in the backend or the decoder into an inference
// failure so the finish path still cleans up and writes a result.
func (r *JobRunner) processSafely(ctx context.Context, jobID string, opLogger *zap.Logger) (prediction *imageprocessor.Prediction, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			prediction = nil
			err = logging.NewOperationError("usecase.classify", jobID, fmt.Errorf("%w: panic: %v", ErrInference, rec))
		}
	}()
	return r.process(ctx, jobID, opLogger)
}

func (r *JobRunner) process(ctx context.Context, jobID string, opLogger *zap.Logger) (*imageprocessor.Prediction, error) {
	data, err := r.store.Get(ctx, RawKey(jobID))
	if err != nil {
		return nil, logging.NewOperationError("usecase.fetch_raw", jobID, fmt.Errorf("%w: %v", ErrFetch, err))
	}

	scratch, err := os.CreateTemp(r.scratchDir, "classify-*")
	if err != nil {
		return nil, logging.NewOperationError("usecase.scratch", jobID, fmt.Errorf("%w: create scratch file: %v", ErrFetch, err))
	}
	defer func() {
		scratch.Close()
		if err := os.Remove(scratch.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			opLogger.Warn("failed to delete scratch file", zap.Error(err), zap.String("path", scratch.Name()))
		}
	}()
	if _, err := scratch.Write(data); err != nil {
		return nil, logging.NewOperationError("usecase.scratch", jobID, fmt.Errorf("%w: write scratch file: %v", ErrFetch, err))
	}
	if _, err := scratch.Seek(0, 0); err != nil {
		return nil, logging.NewOperationError("usecase.scratch", jobID, fmt.Errorf("%w: rewind scratch file: %v", ErrFetch, err))
	}

	prediction, err := r.backend.Classify(ctx, jobID, scratch)
	if err != nil {
		if !errors.Is(err, ErrDecode) && !errors.Is(err, ErrInference) {
			err = fmt.Errorf("%w: %v", ErrInference, err)
		}
		return nil, logging.NewOperationError("usecase.classify", jobID, err)
	}
	if prediction == nil {
		return nil, logging.NewOperationError("usecase.classify", jobID, fmt.Errorf("%w: backend returned no prediction", ErrInference))
	}
	return prediction, nil
}

func encodeResult(jobID string, result *PredictionResult) ([]byte, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, logging.NewOperationError("usecase.encode_result", jobID, err)
	}
	return payload, nil
}

// detached derives a context that survives cancellation of parent but still
// carries its values, bounded by cleanupTimeout.
func detached(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), cleanupTimeout)
}
