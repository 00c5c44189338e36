package session

import (
	"context"
	"sync"
	"time"
)

// Task is a unit of scheduled work.
type Task func(ctx context.Context)

// Scheduler owns the background goroutines of a session. It runs one-shot
// tasks after a delay and fixed-delay tasks until stopped. Stop cancels
// pending timers and waits for running tasks; a running task is never
// interrupted mid-exchange because tasks receive a context that Stop does
// not cancel.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewScheduler creates a running scheduler.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Schedule runs task once after delay. It reports false if the scheduler
// is stopped.
func (s *Scheduler) Schedule(delay time.Duration, task Task) bool {
	if !s.add() {
		return false
	}
	go func() {
		defer s.wg.Done()
		if !s.wait(delay) {
			return
		}
		task(context.WithoutCancel(s.ctx))
	}()
	return true
}

// Every runs task after initial and then repeatedly, waiting interval
// between the end of one run and the start of the next.
func (s *Scheduler) Every(initial, interval time.Duration, task Task) bool {
	if !s.add() {
		return false
	}
	go func() {
		defer s.wg.Done()
		delay := initial
		for s.wait(delay) {
			task(context.WithoutCancel(s.ctx))
			delay = interval
		}
	}()
	return true
}

// Stop cancels pending runs and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Stopped reports whether Stop was called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) add() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// wait sleeps for d and reports whether the scheduler is still running.
func (s *Scheduler) wait(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return s.ctx.Err() == nil
	}
}
