package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// jobTimeout bounds a single job run.
const jobTimeout = 5 * time.Minute

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Scheduler runs Jobs on standard 5-field cron schedules.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
	ctx  context.Context
	stop context.CancelFunc
}

// NewScheduler returns an idle Scheduler.
func NewScheduler(log zerolog.Logger) *Scheduler {
	cl := cronLogger{log: log}
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:  log,
		ctx:  ctx,
		stop: stop,
	}
}

// Add registers j. The schedule is parsed immediately.
func (s *Scheduler) Add(j Job) error {
	if j.Run == nil {
		return fmt.Errorf("maintenance: job %q has no run function", j.Name)
	}
	_, err := s.cron.AddFunc(j.Schedule, func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()
		start := time.Now()
		if err := j.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("job", j.Name).Msg("maintenance job failed")
			return
		}
		s.log.Debug().Str("job", j.Name).Dur("took", time.Since(start)).Msg("maintenance job done")
	})
	if err != nil {
		return fmt.Errorf("maintenance: schedule %q for %s: %w", j.Schedule, j.Name, err)
	}
	return nil
}

// Next returns the next fire time across all jobs, or zero when none are
// scheduled or the scheduler has not started.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	s.stop()
	<-s.cron.Stop().Done()
}
