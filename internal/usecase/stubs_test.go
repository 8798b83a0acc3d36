package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/example/imageclassify/internal/imageprocessor"
	"github.com/example/imageclassify/internal/objectstore"
	"github.com/example/imageclassify/internal/repository"
	"github.com/example/imageclassify/internal/worker"
)

type stubScheduler struct {
	mu   sync.Mutex
	jobs []worker.Job
	err  error
}

func (s *stubScheduler) Submit(ctx context.Context, job worker.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type stubBackend struct {
	prediction *imageprocessor.Prediction
	err        error
	block      bool
	panicValue interface{}
	seen       []byte
}

func (s *stubBackend) Classify(ctx context.Context, jobID string, image io.Reader) (*imageprocessor.Prediction, error) {
	data, err := io.ReadAll(image)
	if err != nil {
		return nil, err
	}
	s.seen = data
	if s.panicValue != nil {
		panic(s.panicValue)
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.prediction, nil
}

type stubRepository struct {
	mu          sync.Mutex
	created     []*repository.JobRecord
	rejected    []string
	completions map[string]repository.Completion
	consumed    []string
	createErr   error
	aggregation *repository.MetricsAggregation
}

func newStubRepository() *stubRepository {
	return &stubRepository{completions: map[string]repository.Completion{}}
}

func (s *stubRepository) CreateJob(ctx context.Context, record *repository.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, record)
	return s.createErr
}

func (s *stubRepository) MarkRejected(ctx context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, jobID)
	return nil
}

func (s *stubRepository) MarkCompleted(ctx context.Context, jobID string, c repository.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions[jobID] = c
	return nil
}

func (s *stubRepository) MarkConsumed(ctx context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed = append(s.consumed, jobID)
	return nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.aggregation == nil {
		return nil, errors.New("no data")
	}
	return s.aggregation, nil
}

// plainStore hides the Taker implementation of the wrapped store.
type plainStore struct {
	inner   objectstore.Store
	deletes []string
}

func (s *plainStore) Put(ctx context.Context, key string, data []byte) error {
	return s.inner.Put(ctx, key, data)
}

func (s *plainStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, key)
}

func (s *plainStore) Delete(ctx context.Context, key string) error {
	s.deletes = append(s.deletes, key)
	return s.inner.Delete(ctx, key)
}

// failingStore fails the operations it is told to.
type failingStore struct {
	*objectstore.MemoryStore
	putErr    error
	deleteErr error
}

func (s *failingStore) Put(ctx context.Context, key string, data []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryStore.Put(ctx, key, data)
}

func (s *failingStore) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStore.Delete(ctx, key)
}
