package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/finz/internal/reminders"
	"github.com/Veraticus/finz/internal/service"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec runs the sweep every minute.
const DefaultSweepSpec = "* * * * *"

// DefaultReminderSpecs are the standard cron specs for each reminder rule.
func DefaultReminderSpecs() map[string]string {
	return map[string]string{
		"pending":     "0 * * * *",
		"goals":       "0 */6 * * *",
		"low_balance": "0 */2 * * *",
		"upcoming":    "0 */6 * * *",
		"no_data":     "0 13 * * *",
		"mid_month":   "0 9 15 * *",
		"weekly":      "0 9 * * 0",
	}
}

// Schedule holds the cron specs, in the standard five-field format. An empty
// spec disables the job.
type Schedule struct {
	Location  *time.Location
	Sweep     string
	Reminders map[string]string
}

// Scheduler runs the sweep and reminder rules on their cron schedules.
type Scheduler struct {
	sweeper   *Sweeper
	reminders map[string]reminders.Rule
	schedule  Schedule
	clock     service.Clock
	logger    *slog.Logger
}

// NewScheduler validates every spec and prepares the jobs. Reminder specs
// naming an unknown rule are rejected.
func NewScheduler(sw *Sweeper, rules map[string]reminders.Rule, schedule Schedule, clock service.Clock, logger *slog.Logger) (*Scheduler, error) {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if schedule.Location == nil {
		schedule.Location = time.Local
	}
	if schedule.Sweep != "" {
		if _, err := cron.ParseStandard(schedule.Sweep); err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule.Sweep, err)
		}
	}
	for name, spec := range schedule.Reminders {
		if _, ok := rules[name]; !ok {
			return nil, fmt.Errorf("unknown reminder %q", name)
		}
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for reminder %s: %w", spec, name, err)
		}
	}
	return &Scheduler{
		sweeper:   sw,
		reminders: rules,
		schedule:  schedule,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Start runs the jobs until ctx ends, then waits for running jobs to
// finish. A job still running when its next slot arrives is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(s.schedule.Location),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
		cron.WithLogger(cronLogger{s.logger}),
	)

	if s.schedule.Sweep != "" {
		if _, err := c.AddFunc(s.schedule.Sweep, func() { s.RunSweep(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule sweep: %w", err)
		}
	}
	for _, name := range s.reminderNames() {
		spec := s.schedule.Reminders[name]
		if spec == "" {
			continue
		}
		if _, err := c.AddFunc(spec, func() { s.RunReminder(ctx, name) }); err != nil {
			return fmt.Errorf("failed to schedule reminder %s: %w", name, err)
		}
	}

	s.logger.Info("scheduler started", "jobs", len(c.Entries()))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// RunSweep runs one sweep at the current time.
func (s *Scheduler) RunSweep(ctx context.Context) {
	if _, err := s.sweeper.RunOnce(ctx, s.clock.Now()); err != nil && ctx.Err() == nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// RunReminder evaluates one named rule at the current time.
func (s *Scheduler) RunReminder(ctx context.Context, name string) {
	rule, ok := s.reminders[name]
	if !ok {
		s.logger.Warn("unknown reminder", "name", name)
		return
	}
	sent, err := rule(ctx, s.clock.Now())
	if err != nil && ctx.Err() == nil {
		s.logger.Error("reminder failed", "name", name, "sent", sent, "error", err)
		return
	}
	s.logger.Debug("reminder ran", "name", name, "sent", sent)
}

func (s *Scheduler) reminderNames() []string {
	names := make([]string, 0, len(s.schedule.Reminders))
	for name := range s.schedule.Reminders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
