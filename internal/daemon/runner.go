// Package daemon provides the restart agent runner.
// It wires the update watcher, the deadline timer and the restart
// orchestrator together and owns their lifecycle.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/rustdocker/rustctl/internal/guard"
	"github.com/rustdocker/rustctl/internal/restart"
	"github.com/rustdocker/rustctl/internal/update"
	"github.com/rustdocker/rustctl/pkg/logger"
	"github.com/rustdocker/rustctl/pkg/rcon"
	"github.com/spf13/afero"
)

// ErrAlreadyRunning is returned when Start() is called on a running agent.
var ErrAlreadyRunning = errors.New("agent is already running")

// Timer defaults. Debug mode shortens both so a restart can be observed
// without waiting half an hour.
const (
	DefaultDeadline       = 30 * time.Minute
	DefaultPollInterval   = update.DefaultInterval
	DebugDeadline         = time.Minute
	DebugPollInterval     = 5 * time.Second
	DeadlineTriggerSource = "deadline"
)

// Config holds the configuration for the agent runner.
type Config struct {
	// Target is the RCON endpoint of the local game server.
	Target rcon.Target

	// Debug shortens the deadline and poll interval.
	Debug bool

	// StatusURL overrides the update status endpoint.
	StatusURL string

	// PollInterval and Deadline override the mode defaults when positive.
	PollInterval time.Duration
	Deadline     time.Duration

	// Schedule is a cron expression. When set, the deadline trigger fires at
	// its next tick after start instead of after Deadline.
	Schedule string

	// LockPath is the lock marker location. Empty uses guard.DefaultLockPath.
	LockPath string

	// Supervisor is the executable name signalled on escalation.
	Supervisor string

	// Restart tunes the restart sequence. Nil uses the package defaults.
	Restart *restart.Config
}

// Dependencies holds the external dependencies for the agent runner.
// This enables dependency injection for testing.
type Dependencies struct {
	// Dial opens the RCON session. If nil, rcon.Dial against Config.Target
	// is used.
	Dial restart.DialFunc

	// Fs backs the lock marker. If nil, the OS filesystem is used.
	Fs afero.Fs

	// Terminator is the escalation kill. If nil, a guard.Terminator for
	// Config.Supervisor is used.
	Terminator restart.Terminator

	// HTTPClient is used for update status polls.
	HTTPClient *http.Client

	Clock  clockwork.Clock
	Logger logger.Logger

	// OnStep is forwarded to the orchestrator.
	OnStep func(restart.Step)
}

// Runner manages the agent lifecycle.
type Runner struct {
	config  *Config
	deps    *Dependencies
	running bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	orch    *restart.Orchestrator
}

// New creates a new agent runner with the given configuration and dependencies.
// If config is nil, default values are used.
func New(config *Config, deps *Dependencies) *Runner {
	cfg := applyConfigDefaults(config)
	return &Runner{
		config: cfg,
		deps:   applyDependencyDefaults(cfg, deps),
	}
}

// applyConfigDefaults returns a Config with default values applied for zero fields.
func applyConfigDefaults(config *Config) *Config {
	cfg := &Config{}
	if config != nil {
		*cfg = *config
	}
	if cfg.Target.Host == "" {
		cfg.Target.Host = "localhost"
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
		if cfg.Debug {
			cfg.Deadline = DebugDeadline
		}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
		if cfg.Debug {
			cfg.PollInterval = DebugPollInterval
		}
	}
	if cfg.LockPath == "" {
		cfg.LockPath = guard.DefaultLockPath
	}
	if cfg.Supervisor == "" {
		cfg.Supervisor = guard.DefaultSupervisor
	}
	return cfg
}

// applyDependencyDefaults returns Dependencies with default values applied.
func applyDependencyDefaults(cfg *Config, deps *Dependencies) *Dependencies {
	d := &Dependencies{}
	if deps != nil {
		*d = *deps
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = logger.NewNopLogger()
	}
	if d.Fs == nil {
		d.Fs = afero.NewOsFs()
	}
	if d.Terminator == nil {
		d.Terminator = guard.NewTerminator(cfg.Supervisor, syscall.SIGINT, d.Logger)
	}
	if d.Dial == nil {
		target, log := cfg.Target, d.Logger
		d.Dial = func(ctx context.Context) (restart.Conn, error) {
			s, err := rcon.Dial(ctx, target, &rcon.Options{Logger: log})
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	return d
}

// Config returns the runner's configuration.
func (r *Runner) Config() *Config {
	return r.config
}

// Start runs the agent and blocks until the restart has finished or ctx is
// canceled. It returns nil after a completed restart and ctx.Err() when
// stopped early. Returns ErrAlreadyRunning if the agent is already started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	log := r.deps.Logger
	now := r.deps.Clock.Now()
	startEpoch := now.Unix()
	deadline, err := r.deadlineAt(now)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	marker := guard.NewMarker(r.deps.Fs, r.config.LockPath)
	orch, err := restart.New(ctx, r.config.Restart, &restart.Dependencies{
		Dial:       r.deps.Dial,
		Marker:     marker,
		Terminator: r.deps.Terminator,
		Clock:      r.deps.Clock,
		Logger:     log,
		OnStep:     r.deps.OnStep,
	})
	if err != nil {
		r.mu.Unlock()
		cancel()
		return err
	}
	r.orch = orch
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()
	defer r.cleanupOnStop()

	watcher := update.New(&update.Config{
		URL:        r.config.StatusURL,
		Interval:   r.config.PollInterval,
		StartEpoch: startEpoch,
	}, &update.Dependencies{
		Trigger:      r.Trigger,
		IsRestarting: orch.IsRestarting,
		Client:       r.deps.HTTPClient,
		Clock:        r.deps.Clock,
		Logger:       log,
	})

	log.Info("agent started for %s, restart deadline %s (%s)",
		r.config.Target, deadline.Format(time.Kitchen), humanize.Time(deadline))
	log.Debug("lock marker %s, escalation target %q", marker.Path(), r.config.Supervisor)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = watcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		r.deadline(ctx, deadline.Sub(now))
	}()

	err = orch.Wait(ctx)
	// No trigger may win once the agent is stopping: a marker created now
	// would have no watchdog left to remove it.
	r.mu.Lock()
	r.running = false
	cancel()
	r.mu.Unlock()
	wg.Wait()
	if orch.IsRestarting() {
		// The sequence and watchdog observe ctx, so this returns promptly.
		<-orch.Done()
	}
	if err != nil {
		log.Info("agent stopped: %v", err)
		return err
	}
	log.Info("agent finished")
	return nil
}

// deadline triggers a restart once d has elapsed.
func (r *Runner) deadline(ctx context.Context, d time.Duration) {
	select {
	case <-r.deps.Clock.After(d):
		r.deps.Logger.Info("restart deadline reached after %s, forcing a restart", d.Round(time.Second))
		r.Trigger(DeadlineTriggerSource)
	case <-ctx.Done():
	}
}

// cleanupOnStop performs cleanup when the agent stops.
func (r *Runner) cleanupOnStop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Trigger starts the restart immediately. It reports false when the agent
// is not running or a restart has already begun. The update watcher and the
// deadline timer trigger through it as well.
func (r *Runner) Trigger(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.orch == nil {
		return false
	}
	return r.orch.Trigger(source)
}

// State returns the restart state of the current or last run.
func (r *Runner) State() restart.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orch == nil {
		return restart.Idle
	}
	return r.orch.State()
}

// IsRunning returns true if the agent is currently running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
