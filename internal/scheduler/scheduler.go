package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/yologdev/yoclaw/internal/channels"
	"github.com/yologdev/yoclaw/internal/conductor"
	"github.com/yologdev/yoclaw/internal/session"
	"github.com/yologdev/yoclaw/internal/store"
)

// Config holds scheduler settings.
type Config struct {
	Enabled      bool
	TickInterval time.Duration
	MaxConcLLM   int
	LockPath     string
	Model        string // cheap model used for cron dispatch and cortex passes
	Cortex       CortexConfig
	KafkaBrokers []string // cron run notifications; unset disables publishing
	KafkaTopic   string
}

// CortexConfig controls the memory maintenance passes.
type CortexConfig struct {
	Enabled       bool
	IntervalHours int
	MinMessages   int
	Model         string // overrides Config.Model for the consolidation/indexing LLM calls
}

// cortexModel returns the model used for the consolidation/indexing passes,
// falling back to the cron dispatch model when Cortex.Model is unset.
func (c Config) cortexModel() string {
	if c.Cortex.Model != "" {
		return c.Cortex.Model
	}
	return c.Model
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		TickInterval: 60 * time.Second,
		MaxConcLLM:   3,
		LockPath:     "./data/scheduler.lock",
		Cortex: CortexConfig{
			Enabled:       true,
			IntervalHours: 24,
			MinMessages:   4,
		},
	}
}

const cortexLastRunStateKey = "cortex:last_run"

// Scheduler drives cron job dispatch and cortex memory maintenance on a
// single tick loop, guarded by a file lock so a redeployed process and its
// predecessor never tick concurrently against the same store.
type Scheduler struct {
	cfg       Config
	store     *store.Store
	conductor *conductor.Conductor
	adapters  *channels.Registry
	embedder  store.Embedder // optional; nil leaves cortex's memory writes unembedded
	sem       *Semaphore
	lock      *FileLock
	notify    *notifier
}

// New creates a Scheduler. embedder may be nil to skip populating the
// semantic index on the memory rows cortex writes.
func New(cfg Config, st *store.Store, cond *conductor.Conductor, adapters *channels.Registry, embedder store.Embedder) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.MaxConcLLM <= 0 {
		cfg.MaxConcLLM = 3
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultConfig().LockPath
	}
	if cfg.Cortex.MinMessages <= 0 {
		cfg.Cortex.MinMessages = 4
	}
	return &Scheduler{
		cfg:       cfg,
		store:     st,
		conductor: cond,
		adapters:  adapters,
		embedder:  embedder,
		sem:       NewSemaphore(cfg.MaxConcLLM),
		lock:      NewFileLock(cfg.LockPath),
		notify:    newNotifier(splitBrokers(cfg.KafkaBrokers), cfg.KafkaTopic),
	}
}

// Close releases the Kafka writer, if one was configured.
func (s *Scheduler) Close() error {
	return s.notify.close()
}

// Run starts the tick loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		slog.Info("scheduler disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	slog.Info("scheduler started", "tick", s.cfg.TickInterval)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.tick(ctx, t.UTC())
		}
	}
}

// tick acquires the cross-process file lock, dispatches any due cron jobs,
// and runs the cortex maintenance passes if they're overdue.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("scheduler lock error", "error", err)
		return
	}
	if !acquired {
		slog.Debug("scheduler tick skipped: lock held by another process")
		return
	}
	defer s.lock.Unlock()

	s.tickCron(ctx, now)
	if s.cfg.Cortex.Enabled {
		s.tickCortex(ctx, now)
	}
}

func (s *Scheduler) tickCron(ctx context.Context, now time.Time) {
	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		slog.Warn("scheduler: list cron jobs", "error", err)
		return
	}

	for _, job := range jobs {
		expr, err := ParseCron(job.Schedule)
		if err != nil {
			slog.Warn("scheduler: bad cron expression", "job", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		if !expr.Matches(now) {
			continue
		}
		if s.alreadyRanThisMinute(ctx, job.Name, now) {
			continue
		}
		s.dispatchCronJob(ctx, job, now)
	}
}

// alreadyRanThisMinute guards against double-firing a job within the same
// tick window after a process restart lands mid-minute.
func (s *Scheduler) alreadyRanThisMinute(ctx context.Context, jobName string, now time.Time) bool {
	last, err := s.store.LastRun(ctx, jobName)
	if err != nil || last == nil {
		return false
	}
	return last.StartedAt.Truncate(time.Minute).Equal(now.Truncate(time.Minute))
}

func (s *Scheduler) dispatchCronJob(ctx context.Context, job store.CronJob, now time.Time) {
	if !s.sem.TryAcquire() {
		slog.Warn("scheduler: job skipped, concurrency limit reached", "job", job.Name)
		return
	}

	slog.Info("scheduler: dispatching cron job", "job", job.Name, "session_mode", job.SessionMode)

	go func() {
		defer s.sem.Release()
		s.runCronJob(ctx, job, now)
	}()
}

func (s *Scheduler) runCronJob(ctx context.Context, job store.CronJob, now time.Time) {
	runID, err := s.store.StartCronRun(ctx, job.Name)
	if err != nil {
		slog.Warn("scheduler: start cron run", "job", job.Name, "error", err)
		return
	}

	var reply string
	var runErr error
	switch job.SessionMode {
	case store.SessionModePersisted:
		sessionID := session.BuildSessionID(session.TransportCron, job.Name, "")
		reply, runErr = s.conductor.RunPersistent(ctx, sessionID, job.Prompt, s.cfg.Model)
	default:
		reply, runErr = s.conductor.RunEphemeral(ctx, "", job.Prompt, s.cfg.Model)
	}

	if runErr != nil {
		slog.Warn("scheduler: cron job failed", "job", job.Name, "error", runErr)
		_ = s.store.FinishCronRun(ctx, runID, false, runErr.Error())
		s.notify.publish(ctx, job.Name, false, runErr.Error())
		return
	}
	_ = s.store.FinishCronRun(ctx, runID, true, "")
	s.notify.publish(ctx, job.Name, true, "")

	if job.TargetChannel == "" {
		return
	}
	adapterName := string(session.TransportOf(job.TargetChannel))
	adapter, found := s.adapters.Get(adapterName)
	if !found {
		slog.Warn("scheduler: no adapter for cron target", "job", job.Name, "target", job.TargetChannel)
		return
	}
	if err := adapter.Send(ctx, job.TargetChannel, reply); err != nil {
		slog.Warn("scheduler: cron reply delivery failed", "job", job.Name, "error", err)
	}
}

func (s *Scheduler) tickCortex(ctx context.Context, now time.Time) {
	last, found, err := s.store.GetState(ctx, cortexLastRunStateKey)
	if err != nil {
		slog.Warn("scheduler: read cortex checkpoint", "error", err)
		return
	}
	if found {
		lastRun, parseErr := time.Parse(time.RFC3339Nano, last)
		if parseErr == nil && now.Sub(lastRun) < time.Duration(s.cfg.Cortex.IntervalHours)*time.Hour {
			return
		}
	}

	slog.Info("scheduler: running cortex maintenance")
	s.runCortex(ctx, now)

	if err := s.store.SetState(ctx, cortexLastRunStateKey, now.Format(time.RFC3339Nano)); err != nil {
		slog.Warn("scheduler: write cortex checkpoint", "error", err)
	}
}
