package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoolProcessesEverySubmittedJob(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	pool := NewPool(func(ctx context.Context, job Job) {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
	}, Options{Workers: 4, QueueSize: 8, Logger: zap.NewNop()})
	pool.Start()

	for i := 0; i < 50; i++ {
		if err := pool.Submit(context.Background(), Job{ID: fmt.Sprintf("job-%d", i)}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if len(seen) != 50 {
		t.Fatalf("expected 50 distinct jobs, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s ran %d times", id, n)
		}
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const workers = 3
	var running, peak int32
	pool := NewPool(func(ctx context.Context, job Job) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	}, Options{Workers: workers, QueueSize: 16})
	pool.Start()

	for i := 0; i < 24; i++ {
		if err := pool.Submit(context.Background(), Job{ID: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if peak > workers {
		t.Fatalf("observed %d concurrent jobs with %d workers", peak, workers)
	}
}

func TestSubmitBlocksWhenQueueIsFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(func(ctx context.Context, job Job) { <-release }, Options{Workers: 1, QueueSize: 1})
	pool.Start()
	defer func() {
		close(release)
		_ = pool.Shutdown(context.Background())
	}()

	// one job occupies the worker, one sits in the queue
	if err := pool.Submit(context.Background(), Job{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for pool.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := pool.Submit(context.Background(), Job{ID: "b"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, Job{ID: "c"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected submit to time out on a full queue, got %v", err)
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	pool := NewPool(func(ctx context.Context, job Job) {}, Options{Workers: 1})
	pool.Start()
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := pool.Submit(context.Background(), Job{ID: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestJobsRunWithDeadline(t *testing.T) {
	deadlines := make(chan bool, 1)
	pool := NewPool(func(ctx context.Context, job Job) {
		_, ok := ctx.Deadline()
		deadlines <- ok
	}, Options{Workers: 1, QueueSize: 1, JobTimeout: time.Minute})
	pool.Start()

	if err := pool.Submit(context.Background(), Job{ID: "timed"}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !<-deadlines {
		t.Fatal("expected job context to carry a deadline")
	}
}

func TestShutdownCancelsRunningJobsWhenContextExpires(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	pool := NewPool(func(ctx context.Context, job Job) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}, Options{Workers: 1})
	pool.Start()

	if err := pool.Submit(context.Background(), Job{ID: "stuck"}); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	select {
	case <-cancelled:
	default:
		t.Fatal("running job was not cancelled")
	}
}

func TestPanickingHandlerDoesNotKillWorker(t *testing.T) {
	var ran int32
	pool := NewPool(func(ctx context.Context, job Job) {
		atomic.AddInt32(&ran, 1)
		if job.ID == "bad" {
			panic("boom")
		}
	}, Options{Workers: 1, QueueSize: 2})
	pool.Start()

	_ = pool.Submit(context.Background(), Job{ID: "bad"})
	_ = pool.Submit(context.Background(), Job{ID: "good"})
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ran != 2 {
		t.Fatalf("expected both jobs to run, got %d", ran)
	}
}
