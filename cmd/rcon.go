package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/rustdocker/rustctl/cmd/common"
	"github.com/rustdocker/rustctl/pkg/rcon"
	"github.com/urfave/cli"
)

// relay sends the joined arguments as one console command and prints the
// replies that arrive within relayListenWindow.
func relay(ctx *cli.Context) error {
	command := strings.TrimSpace(strings.Join(ctx.Args(), " "))
	if command == "" {
		fmt.Println("Error: Please specify an RCON command")
		return nil
	}
	target, err := targetFromContext(ctx)
	if err != nil {
		return common.RuntimeExitErr(ctx, "rcon", "target", err)
	}
	log := newLogger(ctx.Bool("debug"))
	defer log.Close()

	sigCtx, cancel := setupShutdownHandler()
	defer cancel()

	log.Debug("relaying %q to %s", command, target)
	sess, err := rcon.Dial(sigCtx, target, &rcon.Options{Logger: log})
	if err != nil {
		return common.RuntimeExitErr(ctx, "rcon", "dial", err)
	}
	defer sess.Close(websocket.StatusNormalClosure)

	if !sleepCtx(sigCtx, relaySettleDelay) {
		return nil
	}
	// Only replies to our command are of interest.
	drain(sess.Messages())
	if err := sess.Send(sigCtx, rcon.NewCommand(command)); err != nil {
		return common.RuntimeExitErr(ctx, "rcon", "send", err)
	}

	timer := time.NewTimer(relayListenWindow)
	defer timer.Stop()
	msgs := sess.Messages()
	for msgs != nil {
		select {
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if text, ok := msg.Text(); ok {
				fmt.Println(text)
			}
		case <-timer.C:
			msgs = nil
		case <-sigCtx.Done():
			msgs = nil
		}
	}

	if err := sess.Err(); err != nil {
		return common.RuntimeExitErr(ctx, "rcon", "session", err)
	}
	if err := sess.Close(websocket.StatusNormalClosure); err != nil {
		log.Debug("close: %v", err)
	}
	return nil
}

// drain discards everything currently buffered in msgs.
func drain(msgs <-chan rcon.Message) {
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
