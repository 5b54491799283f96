package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/rss-stitch/app/database"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// Scheduler rebuilds the feed at a fixed interval with a single worker, so
// at most one pipeline run is in flight. A request arriving while another
// build is already queued is rejected rather than stacked.
type Scheduler struct {
	newTask  func() TaskInterface
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	queue    chan TaskInterface

	mu      sync.RWMutex
	lastRun *database.Run
}

func NewScheduler(newTask func() TaskInterface, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		newTask:  newTask,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan TaskInterface, 1),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.worker()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueScheduled()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueScheduled()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.queue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) LastRun() *database.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

func (s *Scheduler) enqueueScheduled() {
	if err := s.EnqueueTask(s.newTask()); err != nil {
		slog.Warn("Failed to enqueue scheduled task", "error", err)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.queue:
			s.executeTask(task)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	// No retries: a failed build waits for the next tick.
	if err := task.Execute(taskCtx); err != nil {
		slog.Error("Task execution failed", "type", string(task.GetType()), "id", task.GetID(), "error", err)
	}

	if reporter, ok := task.(RunReporter); ok && reporter.Result() != nil {
		s.mu.Lock()
		s.lastRun = reporter.Result()
		s.mu.Unlock()
	}
}
