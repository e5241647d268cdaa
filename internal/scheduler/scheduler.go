// Package scheduler runs the periodic maintenance jobs of the backend
// (provider chat sync, idempotency record cleanup) on cron schedules.
//
// Jobs run in singleton mode: a run that is still going when the next tick
// fires causes that tick to be skipped rather than overlapping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Job names.
const (
	JobChatSync      = "chat-sync"
	JobIdempotencyGC = "idempotency-gc"
)

// DefaultJobTimeout bounds a single run of a job.
const DefaultJobTimeout = 5 * time.Minute

// slowThreshold marks runs worth a warning.
const slowThreshold = 30 * time.Second

// JobFunc is a scheduled unit of work.
type JobFunc func(ctx context.Context) error

// Scheduler wraps a gocron scheduler with logging, metrics and per-run
// timeouts.
type Scheduler struct {
	s       gocron.Scheduler
	timeout time.Duration
	jobs    map[string]gocron.Job
}

// New creates a scheduler in UTC. It does not start it.
func New(timeout time.Duration) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logAdapter{l: log.With().Str("component", "scheduler").Logger()}),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{s: s, timeout: timeout, jobs: make(map[string]gocron.Job)}, nil
}

// Add schedules fn under name with a standard five-field cron expression.
// An empty expression disables the job and is not an error.
func (s *Scheduler) Add(name, cronExpr string, fn JobFunc) error {
	if name == "" {
		return errors.New("empty job name")
	}
	if fn == nil {
		return errors.New("nil job function")
	}
	if cronExpr == "" {
		log.Info().Str("component", "scheduler").Str("job", name).Msg("job disabled (no schedule)")
		return nil
	}

	j, err := s.s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(s.wrap(name, fn)),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.jobs[name] = j

	ev := log.Info().Str("component", "scheduler").Str("job", name).Str("cron", cronExpr)
	if next, err := j.NextRun(); err == nil && !next.IsZero() {
		ev = ev.Time("next_run", next)
	}
	ev.Msg("job scheduled")
	return nil
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// RunNow triggers a scheduled job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return j.RunNow()
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.s.Start()
	log.Debug().Str("component", "scheduler").Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

// wrap adds the per-run timeout, a recover boundary, logging and metrics.
func (s *Scheduler) wrap(name string, fn JobFunc) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		err := safeRun(ctx, fn)
		elapsed := time.Since(start)

		jobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		lg := log.With().Str("component", "scheduler").Str("job", name).Dur("duration", elapsed).Logger()
		if err != nil {
			jobRuns.WithLabelValues(name, "error").Inc()
			lg.Error().Err(err).Msg("scheduled job failed")
			return
		}
		jobRuns.WithLabelValues(name, "ok").Inc()
		if elapsed > slowThreshold {
			lg.Warn().Msg("slow scheduled job")
			return
		}
		lg.Debug().Msg("scheduled job finished")
	}
}

func safeRun(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// logAdapter routes gocron's key/value logs to zerolog.
type logAdapter struct{ l zerolog.Logger }

func (a logAdapter) Debug(msg string, args ...any) { a.l.Debug().Fields(pairs(args)).Msg(msg) }
func (a logAdapter) Info(msg string, args ...any)  { a.l.Info().Fields(pairs(args)).Msg(msg) }
func (a logAdapter) Warn(msg string, args ...any)  { a.l.Warn().Fields(pairs(args)).Msg(msg) }
func (a logAdapter) Error(msg string, args ...any) { a.l.Error().Fields(pairs(args)).Msg(msg) }

// pairs turns alternating key/value args into a field map. A trailing key
// without a value is kept under "value".
func pairs(args []any) map[string]any {
	m := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			m["value"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		m[key] = args[i+1]
	}
	return m
}
