// Package scheduler drives the periodic background jobs. Each job runs
// on its own goroutine with a ticker; a handler never overlaps itself
// and missed ticks collapse to one.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// JobFunc is one periodic job handler. The context is cancelled when
// the scheduler stops.
type JobFunc func(ctx context.Context)

// ShutdownGracePeriod bounds how long Stop waits for running handlers
const ShutdownGracePeriod = 30 * time.Second

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	kick     chan struct{}
}

// Scheduler owns named periodic jobs
type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]*job
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*job),
	}
}

// AddJob registers a named periodic job. Jobs must be added before
// Start.
func (s *Scheduler) AddJob(name string, interval time.Duration, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler already started")
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}

	s.jobs[name] = &job{
		name:     name,
		interval: interval,
		fn:       fn,
		kick:     make(chan struct{}, 1),
	}
	return nil
}

// Start launches one goroutine per registered job
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		log.Println("[SCHEDULER] Already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.isRunning = true

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}

	log.Printf("[SCHEDULER] Started %d jobs", len(s.jobs))
}

// runJob is the per-job loop. The handler runs serially: the loop
// consumes one tick, runs the handler to completion, then waits for
// the next tick. Backlogged ticks collapse by ticker semantics.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, j)
		case <-j.kick:
			s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SCHEDULER] Job %q panicked: %v", j.name, r)
		}
	}()

	start := time.Now()
	j.fn(ctx)
	elapsed := time.Since(start)
	if elapsed > j.interval {
		log.Printf("[SCHEDULER] Job %q took %s, longer than its %s interval", j.name, elapsed, j.interval)
	}
}

// Kick requests one immediate run of a job without waiting for the
// next tick. A kick while the handler is running is coalesced into at
// most one pending run.
func (s *Scheduler) Kick(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}

	select {
	case j.kick <- struct{}{}:
	default:
		// A run is already pending
	}
	return nil
}

// Stop cancels all jobs and waits up to the grace period for running
// handlers to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[SCHEDULER] All jobs stopped")
	case <-time.After(ShutdownGracePeriod):
		log.Println("[SCHEDULER] Grace period expired, abandoning running jobs")
	}
}

// IsRunning reports whether the scheduler has been started
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
