// Package restart drives a game server through a graceful, countdown based
// shutdown over RCON.
//
// A restart is a fixed table of steps executed by a single goroutine:
// connect, broadcast the countdown notices, kick everybody, quit, close the
// session. Time comes from an injected clock so the whole sequence can be
// replayed in tests without waiting. A watchdog armed at trigger time
// escalates to the guard's terminator when the lock marker is still present
// after the sequence's budget plus a grace period.
package restart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rustdocker/rustctl/pkg/logger"
	"github.com/rustdocker/rustctl/pkg/rcon"
)

// Default timings, matching the in-game countdown players are used to.
const (
	DefaultSettleDelay     = time.Second
	DefaultNoticeInterval  = time.Minute
	DefaultKickDelay       = time.Minute
	DefaultQuitDelay       = time.Second
	DefaultCloseDelay      = time.Second
	DefaultEscalationGrace = 2 * time.Minute
	DefaultSendTimeout     = 10 * time.Second

	DefaultKickMessage = "global.kickall <color=orange>Updating/Restarting</color>"
	DefaultQuitMessage = "quit"
)

var (
	// ErrAlreadyRestarting is the suppressed outcome of a losing Trigger.
	ErrAlreadyRestarting = errors.New("restart already in progress")

	// ErrInvalidCountdown is returned by New for a countdown that is not
	// strictly decreasing and positive.
	ErrInvalidCountdown = errors.New("countdown must be strictly decreasing and positive")

	// ErrNoDialer is returned by New when Dependencies.Dial is nil.
	ErrNoDialer = errors.New("no rcon dialer configured")
)

// Conn is the part of an RCON session the orchestrator uses.
type Conn interface {
	Send(ctx context.Context, cmd rcon.Command) error
	Close(code websocket.StatusCode) error
}

// DialFunc opens a session. It returns once the session is open.
type DialFunc func(ctx context.Context) (Conn, error)

// Marker is the lock marker signalling a restart in flight.
type Marker interface {
	Create() error
	Remove() error
	Exists() (bool, error)
}

// releaseNotifier is implemented by markers that can report their removal
// as it happens.
type releaseNotifier interface {
	Released(ctx context.Context) (<-chan struct{}, error)
}

// Terminator is the last-resort kill.
type Terminator interface {
	Terminate() error
}

// Config holds the sequence timings and commands. Zero fields take the
// package defaults.
type Config struct {
	Countdown       []CountdownStep
	SettleDelay     time.Duration
	NoticeInterval  time.Duration
	KickDelay       time.Duration
	QuitDelay       time.Duration
	CloseDelay      time.Duration
	EscalationGrace time.Duration
	SendTimeout     time.Duration
	KickMessage     string
	QuitMessage     string
}

// Dependencies are the collaborators injected into the orchestrator.
type Dependencies struct {
	// Dial opens the RCON session. Required.
	Dial DialFunc

	// Marker is created on trigger and removed before escalation.
	// If nil, no marker is kept and the watchdog never escalates.
	Marker Marker

	// Terminator is invoked by the watchdog. If nil, escalation only
	// removes the marker.
	Terminator Terminator

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	// Logger defaults to a NopLogger.
	Logger logger.Logger

	// OnStep, if set, is called after every step's action.
	OnStep func(Step)
}

// Orchestrator owns the restart state. It is safe for concurrent Trigger
// calls; exactly one of them starts the sequence.
type Orchestrator struct {
	ctx    context.Context
	cfg    *Config
	steps  []Step
	budget time.Duration

	dial   DialFunc
	marker Marker
	term   Terminator
	clock  clockwork.Clock
	log    logger.Logger
	onStep func(Step)

	state atomic.Int32
	done  chan struct{}
}

// New builds an orchestrator whose sequence and watchdog stop when ctx ends.
func New(ctx context.Context, config *Config, deps *Dependencies) (*Orchestrator, error) {
	cfg := applyConfigDefaults(config)
	if err := validateCountdown(cfg.Countdown); err != nil {
		return nil, err
	}
	if deps == nil || deps.Dial == nil {
		return nil, ErrNoDialer
	}
	d := applyDependencyDefaults(deps)

	steps := buildSequence(cfg)
	return &Orchestrator{
		ctx:    ctx,
		cfg:    cfg,
		steps:  steps,
		budget: duration(steps) + cfg.EscalationGrace,
		dial:   d.Dial,
		marker: d.Marker,
		term:   d.Terminator,
		clock:  d.Clock,
		log:    d.Logger,
		onStep: d.OnStep,
		done:   make(chan struct{}),
	}, nil
}

// Plan returns the step table a restart with config would execute, without
// building an orchestrator.
func Plan(config *Config) ([]Step, error) {
	cfg := applyConfigDefaults(config)
	if err := validateCountdown(cfg.Countdown); err != nil {
		return nil, err
	}
	return buildSequence(cfg), nil
}

func applyConfigDefaults(config *Config) *Config {
	cfg := &Config{}
	if config != nil {
		*cfg = *config
	}
	if cfg.Countdown == nil {
		cfg.Countdown = DefaultCountdown()
	}
	setDefault(&cfg.SettleDelay, DefaultSettleDelay)
	setDefault(&cfg.NoticeInterval, DefaultNoticeInterval)
	setDefault(&cfg.KickDelay, DefaultKickDelay)
	setDefault(&cfg.QuitDelay, DefaultQuitDelay)
	setDefault(&cfg.CloseDelay, DefaultCloseDelay)
	setDefault(&cfg.EscalationGrace, DefaultEscalationGrace)
	setDefault(&cfg.SendTimeout, DefaultSendTimeout)
	if cfg.KickMessage == "" {
		cfg.KickMessage = DefaultKickMessage
	}
	if cfg.QuitMessage == "" {
		cfg.QuitMessage = DefaultQuitMessage
	}
	return cfg
}

func setDefault(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func applyDependencyDefaults(deps *Dependencies) *Dependencies {
	d := *deps
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = logger.NewNopLogger()
	}
	return &d
}

func validateCountdown(steps []CountdownStep) error {
	for i, s := range steps {
		if s.RemainingMinutes <= 0 {
			return fmt.Errorf("%w: step %d has %d minutes", ErrInvalidCountdown, i, s.RemainingMinutes)
		}
		if i > 0 && s.RemainingMinutes >= steps[i-1].RemainingMinutes {
			return fmt.Errorf("%w: %d follows %d", ErrInvalidCountdown, s.RemainingMinutes, steps[i-1].RemainingMinutes)
		}
	}
	return nil
}

// Budget is how long after Trigger the watchdog escalates.
func (o *Orchestrator) Budget() time.Duration {
	return o.budget
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// IsRestarting reports whether a restart has been triggered. It stays true
// after the orchestrator terminates.
func (o *Orchestrator) IsRestarting() bool {
	return o.State() != Idle
}

// Done is closed once the orchestrator reaches Terminated.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the orchestrator is Terminated or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger starts the restart sequence. Only the first call has any effect;
// later and concurrent calls return false without side effects, as do calls
// after the orchestrator's context has ended.
func (o *Orchestrator) Trigger(source string) bool {
	if err := o.ctx.Err(); err != nil {
		o.log.Debug("%s: not restarting, agent is stopping: %v", source, err)
		return false
	}
	if !o.state.CompareAndSwap(int32(Idle), int32(Restarting)) {
		o.log.Debug("%s: %v", source, ErrAlreadyRestarting)
		return false
	}
	o.log.Info("restart triggered by %s, escalation after %s", source, o.Budget())

	if o.marker != nil {
		if err := o.marker.Create(); err != nil {
			o.log.Error("create lock marker: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.watchdog()
	}()
	go func() {
		defer wg.Done()
		o.runSequence()
	}()
	go func() {
		wg.Wait()
		o.state.Store(int32(Terminated))
		close(o.done)
	}()
	return true
}

// wait blocks for d on the orchestrator clock. It returns false if the
// orchestrator context ended first.
func (o *Orchestrator) wait(d time.Duration) bool {
	if d <= 0 {
		return o.ctx.Err() == nil
	}
	select {
	case <-o.clock.After(d):
		return true
	case <-o.ctx.Done():
		return false
	}
}

func (o *Orchestrator) runSequence() {
	index := make(map[string]Step, len(o.steps))
	for _, s := range o.steps {
		index[s.State] = s
	}

	r := &run{o: o}
	for cur := StateConnect; cur != StateDone; {
		step, ok := index[cur]
		if !ok {
			o.log.Error("restart table has no state %q", cur)
			return
		}
		if !o.wait(step.Delay) {
			o.log.Warning("restart sequence interrupted before %s", step.State)
			if r.conn != nil {
				_ = r.conn.Close(websocket.StatusGoingAway)
			}
			return
		}
		if err := step.action(o.ctx, r); err != nil {
			o.log.Error("%s: %v", step.State, err)
			return
		}
		if o.onStep != nil {
			o.onStep(step)
		}
		cur = step.Next
	}
	o.log.Info("restart sequence complete")
}

// watchdog escalates when the lock marker outlives the budget.
func (o *Orchestrator) watchdog() {
	if o.marker == nil {
		return
	}
	ctx, cancel := context.WithCancel(o.ctx)
	defer cancel()

	// A nil channel never fires, leaving the budget as the only way out.
	var released <-chan struct{}
	if rn, ok := o.marker.(releaseNotifier); ok {
		ch, err := rn.Released(ctx)
		if err != nil {
			o.log.Debug("lock marker not watched: %v", err)
		}
		released = ch
	}
	select {
	case <-o.clock.After(o.budget):
	case <-released:
		o.log.Info("lock marker released, no escalation needed")
		return
	case <-ctx.Done():
		return
	}

	exists, err := o.marker.Exists()
	if err != nil {
		o.log.Warning("check lock marker: %v", err)
	}
	if !exists && err == nil {
		o.log.Info("lock marker released, no escalation needed")
		return
	}

	o.log.Error("restart did not finish within %s, forcing termination", o.budget)
	if err := o.marker.Remove(); err != nil {
		o.log.Error("remove lock marker: %v", err)
	}
	if o.term == nil {
		return
	}
	if err := o.term.Terminate(); err != nil {
		o.log.Error("terminate supervisor: %v", err)
	}
}
