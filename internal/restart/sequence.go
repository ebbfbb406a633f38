package restart

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/rustdocker/rustctl/pkg/rcon"
)

// Sequence states. Notice states are named "notice-<minutes>".
const (
	StateConnect = "connect"
	StateKick    = "kick"
	StateQuit    = "quit"
	StateClose   = "close"
	StateDone    = ""
)

// CountdownStep is one broadcast warning.
type CountdownStep struct {
	RemainingMinutes int
	Message          string
}

// NoticeMessage is the broadcast sent when minutes remain before the restart.
func NoticeMessage(minutes int) string {
	unit := "minute"
	if minutes > 1 {
		unit = "minutes"
	}
	return fmt.Sprintf("say NOTICE: We're updating the server in <color=orange>%d %s</color>, so get to a safe spot!", minutes, unit)
}

// DefaultCountdown returns the 5..1 minute notices.
func DefaultCountdown() []CountdownStep {
	steps := make([]CountdownStep, 0, 5)
	for m := 5; m >= 1; m-- {
		steps = append(steps, CountdownStep{RemainingMinutes: m, Message: NoticeMessage(m)})
	}
	return steps
}

// Step is one row of the restart table: wait Delay, run the action, move
// to Next. StateDone as Next ends the sequence.
type Step struct {
	State  string
	Delay  time.Duration
	Next   string
	action func(ctx context.Context, r *run) error
}

// run carries the per-restart session through the table.
type run struct {
	o    *Orchestrator
	conn Conn
}

func noticeState(minutes int) string {
	return fmt.Sprintf("notice-%d", minutes)
}

// buildSequence lays out the table for cfg. The rows are returned in
// execution order; the runner follows Next links, not slice order.
func buildSequence(cfg *Config) []Step {
	steps := make([]Step, 0, len(cfg.Countdown)+4)

	first := StateKick
	if len(cfg.Countdown) > 0 {
		first = noticeState(cfg.Countdown[0].RemainingMinutes)
	}
	steps = append(steps, Step{
		State:  StateConnect,
		Next:   first,
		action: connectAction,
	})

	for i, c := range cfg.Countdown {
		delay := cfg.NoticeInterval
		if i == 0 {
			delay = cfg.SettleDelay
		}
		next := StateKick
		if i+1 < len(cfg.Countdown) {
			next = noticeState(cfg.Countdown[i+1].RemainingMinutes)
		}
		steps = append(steps, Step{
			State:  noticeState(c.RemainingMinutes),
			Delay:  delay,
			Next:   next,
			action: sendAction(c.Message),
		})
	}

	kickDelay := cfg.KickDelay
	if len(cfg.Countdown) == 0 {
		kickDelay = cfg.SettleDelay
	}
	steps = append(steps,
		Step{State: StateKick, Delay: kickDelay, Next: StateQuit, action: sendAction(cfg.KickMessage)},
		Step{State: StateQuit, Delay: cfg.QuitDelay, Next: StateClose, action: sendAction(cfg.QuitMessage)},
		Step{State: StateClose, Delay: cfg.CloseDelay, Next: StateDone, action: closeAction},
	)
	return steps
}

// duration is the sum of every delay in the table.
func duration(steps []Step) time.Duration {
	var total time.Duration
	for _, s := range steps {
		total += s.Delay
	}
	return total
}

func connectAction(ctx context.Context, r *run) error {
	conn, err := r.o.dial(ctx)
	if err != nil {
		return fmt.Errorf("open rcon session: %w", err)
	}
	r.conn = conn
	r.o.log.Info("rcon session open")
	return nil
}

// sendAction is fire-and-forget: a failed send is logged and the table
// moves on, because the clock, not delivery, drives the countdown.
func sendAction(message string) func(context.Context, *run) error {
	return func(ctx context.Context, r *run) error {
		sendCtx, cancel := context.WithTimeout(ctx, r.o.cfg.SendTimeout)
		defer cancel()
		if err := r.conn.Send(sendCtx, rcon.NewCommand(message)); err != nil {
			r.o.log.Warning("send %q: %v", message, err)
			return nil
		}
		r.o.log.Debug("sent %q", message)
		return nil
	}
}

func closeAction(_ context.Context, r *run) error {
	if err := r.conn.Close(websocket.StatusNormalClosure); err != nil {
		r.o.log.Warning("close rcon session: %v", err)
	}
	return nil
}
