// Package sched runs named daily jobs on a polling scheduler: a short
// fixed-interval tick checks each job's cron expression and fires it at
// most once per calendar day.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

const defaultPoll = 30 * time.Second

// Job is one scheduled task. Run receives a context that is canceled
// when the scheduler stops; an in-flight run may finish or abandon its
// work, cancellation is best-effort.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context)

	lastRun time.Time
}

// Scheduler polls every 30 seconds by default. Expressions have minute
// granularity, which gives each job a one-minute firing window; the
// per-job lastRun stamp keeps it to a single run per day even though
// several polls land inside that window.
type Scheduler struct {
	mu   sync.Mutex
	jobs []*Job

	poll time.Duration
	gron *gronx.Gronx
	log  *zap.Logger
	now  func() time.Time

	runCtx  context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Option tweaks scheduler construction.
type Option func(*Scheduler)

// WithPoll overrides the polling interval.
func WithPoll(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds an empty scheduler.
func New(log *zap.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		poll:   defaultPoll,
		gron:   gronx.New(),
		log:    log,
		now:    time.Now,
		runCtx: ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job under a unique name.
func (s *Scheduler) Add(name, expr string, run func(ctx context.Context)) error {
	if !s.gron.IsValid(expr) {
		return fmt.Errorf("add job %s: invalid cron expression %q", name, expr)
	}
	if run == nil {
		return fmt.Errorf("add job %s: nil run func", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == name {
			return fmt.Errorf("add job %s: already registered", name)
		}
	}
	s.jobs = append(s.jobs, &Job{Name: name, Expr: expr, Run: run})
	return nil
}

// Start launches the polling loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
	s.log.Info("scheduler started", zap.Duration("poll", s.poll))
}

// Stop halts the polling loop and cancels the run context. It does not
// wait for an in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// RunNow fires a job by name immediately, synchronously, regardless of
// the schedule and the once-per-day guard. The completed run stamps
// lastRun so the nightly schedule does not fire the job a second time
// that day. Returns false for unknown names.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	var job *Job
	for _, j := range s.jobs {
		if j.Name == name {
			job = j
			break
		}
	}
	s.mu.Unlock()

	if job == nil {
		return false
	}
	s.log.Info("job triggered manually", zap.String("job", name))
	job.Run(s.runCtx)

	s.mu.Lock()
	job.lastRun = s.now()
	s.mu.Unlock()
	return true
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := s.now()

	s.mu.Lock()
	var due []*Job
	for _, j := range s.jobs {
		if !j.lastRun.IsZero() && sameDay(j.lastRun, now) {
			continue
		}
		ok, err := s.gron.IsDue(j.Expr, now)
		if err != nil {
			s.log.Error("cron evaluation failed", zap.String("job", j.Name), zap.Error(err))
			continue
		}
		if ok {
			j.lastRun = now
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		j := j
		s.log.Info("job due", zap.String("job", j.Name))
		go j.Run(s.runCtx)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
