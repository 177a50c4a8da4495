package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"task-notification-service/internal/config"
	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
)

// Options carries the optional dependencies of a Service.
type Options struct {
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Sinks receive events routed to the persistent channel.
	Sinks []Sink
}

// Service is the process-scoped notification engine: timers, sessions,
// pending queues and sweeps share one instance built at startup.
type Service struct {
	store  TaskStore
	logger *logging.Logger
	config config.Config
	clock  clockwork.Clock
	loc    *time.Location

	sessions   *SessionRegistry
	pending    *PendingQueue
	fanout     *Fanout
	dispatcher *Dispatcher
	timers     *TimerRegistry
	sweeper    *Sweeper

	mu   sync.Mutex
	cron *cron.Cron
}

// New constructs a notification Service.
func New(store TaskStore, logger *logging.Logger, cfg config.Config, opts Options) (*Service, error) {
	cfg.ApplyDefaults()
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	svc := &Service{
		store:  store,
		logger: logger,
		config: cfg,
		clock:  clock,
		loc:    loc,
	}
	svc.sessions = NewSessionRegistry(cfg.Notification.MaxSessionsPerUser, logger)
	svc.pending = NewPendingQueue(cfg.Notification.PendingCap)
	if len(opts.Sinks) > 0 {
		svc.fanout = NewFanout(logger, cfg.Notification.QueueSize, cfg.Notification.MaxWorkers, opts.Sinks...)
	}
	svc.dispatcher = NewDispatcher(svc.sessions, svc.pending, svc.fanout, clock, cfg.Notification.StaleWindow, logger)
	svc.timers = NewTimerRegistry(clock, svc.dispatcher, logger)
	svc.sweeper = NewSweeper(store, svc.dispatcher, clock, logger,
		cfg.Notification.OverdueRepeat, cfg.Notification.SweepTimeout, loc)
	return svc, nil
}

// Logger exposes the Service's logger.
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Init re-arms timers for every open, notification-enabled task in the
// store. Timers live only in memory, so this must run at every process start.
func (s *Service) Init(ctx context.Context) (int, error) {
	tasks, err := s.store.FindTasks(ctx, models.TaskFilter{
		Statuses:             openStatuses,
		NotificationsEnabled: models.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load tasks for re-arming: %w", err)
	}
	armed := s.timers.ScheduleAll(tasks)
	s.logger.Infof("Notifications re-initialized: %d timer(s) armed for %d task(s)", armed, len(tasks))
	return armed, nil
}

// Start launches the fan-out workers and the sweep schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	hour, minute, err := config.ParseHHMM(s.config.Notification.DigestAt)
	if err != nil {
		return fmt.Errorf("invalid digest time: %w", err)
	}

	cronLog := cron.PrintfLogger(s.logger)
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	overdueSpec := fmt.Sprintf("@every %s", s.config.Notification.SweepInterval)
	if _, err := c.AddFunc(overdueSpec, func() { s.runOverdueSweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule overdue sweep: %w", err)
	}
	digestSpec := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := c.AddFunc(digestSpec, func() { s.runDailyDigest(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule daily digest: %w", err)
	}

	if s.fanout != nil {
		s.fanout.Start(ctx)
	}
	c.Start()
	s.cron = c
	s.logger.Infof("Sweeps started (overdue every %s, digest at %s %s)",
		s.config.Notification.SweepInterval, s.config.Notification.DigestAt, s.loc)
	return nil
}

// Stop halts the sweeps, drops every armed timer and stops the fan-out workers.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.timers.CancelAll()
	if s.fanout != nil {
		s.fanout.Stop()
	}
	s.logger.Infof("Notification service stopped")
}

func (s *Service) runOverdueSweep(ctx context.Context) {
	if _, err := s.sweeper.OverdueSweep(ctx); err != nil {
		s.logger.Errorf("Error checking overdue tasks: %v", err)
	}
}

func (s *Service) runDailyDigest(ctx context.Context) {
	if _, err := s.sweeper.DailyDigest(ctx); err != nil {
		s.logger.Errorf("Error sending daily digest: %v", err)
	}
}

// ScheduleTask re-arms the task's reminders after a create or update.
func (s *Service) ScheduleTask(task models.Task) int {
	return s.timers.Schedule(task)
}

// CancelTask drops the task's reminders after a delete.
func (s *Service) CancelTask(taskID string) int {
	return s.timers.Cancel(taskID)
}

// ArmedTimers lists the reminders currently armed for a task.
func (s *Service) ArmedTimers(taskID string) []ArmedTimer {
	return s.timers.Armed(taskID)
}

// Connect registers a live channel and flushes the user's pending events to it.
func (s *Service) Connect(userID string, ch Channel) error {
	return s.dispatcher.Connect(userID, ch)
}

func (s *Service) Disconnect(userID string, ch Channel) {
	s.dispatcher.Disconnect(userID, ch)
}

// Dispatch sends an event to a user through the regular delivery path.
func (s *Service) Dispatch(userID string, ev models.NotificationEvent) {
	s.dispatcher.Dispatch(userID, ev)
}

// OverdueSweep and DailyDigest run one pass immediately.
func (s *Service) OverdueSweep(ctx context.Context) (int, error) { return s.sweeper.OverdueSweep(ctx) }
func (s *Service) DailyDigest(ctx context.Context) (int, error)  { return s.sweeper.DailyDigest(ctx) }

// PendingCount reports how many events are queued for an offline user.
func (s *Service) PendingCount(userID string) int {
	return s.pending.Len(userID)
}

func (s *Service) IsLive(userID string) bool {
	return s.sessions.IsLive(userID)
}
