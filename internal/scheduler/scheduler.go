// Package scheduler owns the periodic settlement tasks. The same task list
// runs either as River periodic jobs, which keeps one run per tick across
// replicas, or as local tickers for single-process deployments.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/riverqueue/river"
)

// Task is one named batch function and how often it runs.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	tasks  []Task
	byName map[string]Task
	logger *slog.Logger
}

func New(logger *slog.Logger, tasks ...Task) (*Scheduler, error) {
	s := &Scheduler{byName: make(map[string]Task, len(tasks)), logger: logger}
	for _, t := range tasks {
		if t.Name == "" || t.Run == nil {
			return nil, fmt.Errorf("scheduler: task %q is incomplete", t.Name)
		}
		if t.Interval <= 0 {
			return nil, fmt.Errorf("scheduler: task %q has non-positive interval %s", t.Name, t.Interval)
		}
		if _, dup := s.byName[t.Name]; dup {
			return nil, fmt.Errorf("scheduler: duplicate task %q", t.Name)
		}
		s.byName[t.Name] = t
		s.tasks = append(s.tasks, t)
	}
	return s, nil
}

func (s *Scheduler) Tasks() []Task {
	return append([]Task(nil), s.tasks...)
}

// RunOnce runs the named task now.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	t, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("scheduler: unknown task %q", name)
	}
	start := time.Now()
	err := t.Run(ctx)
	if err != nil {
		s.logger.Error("task failed", "task", name, "error", err, "elapsed", time.Since(start))
		return err
	}
	s.logger.Debug("task done", "task", name, "elapsed", time.Since(start))
	return nil
}

// Run drives every task from its own ticker until ctx is done. Each task runs
// once at start and never overlaps with itself.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			s.loop(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	_ = s.RunOnce(ctx, t.Name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx, t.Name)
		}
	}
}

// TickArgs asks a worker to run one scheduled task.
type TickArgs struct {
	Task string `json:"task"`
}

func (TickArgs) Kind() string { return "scheduler_tick" }

func (TickArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: river.QueueDefault, MaxAttempts: 1}
}

// PeriodicJobs returns one River periodic job per task.
func (s *Scheduler) PeriodicJobs() []*river.PeriodicJob {
	jobs := make([]*river.PeriodicJob, 0, len(s.tasks))
	for _, t := range s.tasks {
		name := t.Name
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(t.Interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return TickArgs{Task: name}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	return jobs
}

// TickWorker runs the task named by a tick job.
type TickWorker struct {
	river.WorkerDefaults[TickArgs]
	scheduler *Scheduler
}

func NewTickWorker(s *Scheduler) *TickWorker {
	return &TickWorker{scheduler: s}
}

func (w *TickWorker) Work(ctx context.Context, job *river.Job[TickArgs]) error {
	if _, ok := w.scheduler.byName[job.Args.Task]; !ok {
		return river.JobCancel(fmt.Errorf("unknown task %q", job.Args.Task))
	}
	return w.scheduler.RunOnce(ctx, job.Args.Task)
}

// Timeout bounds a tick to the task interval so a stuck batch cannot pile up.
func (w *TickWorker) Timeout(job *river.Job[TickArgs]) time.Duration {
	if t, ok := w.scheduler.byName[job.Args.Task]; ok {
		return t.Interval
	}
	return 0
}
