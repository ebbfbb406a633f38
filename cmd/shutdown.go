package cmd

import (
	"github.com/coder/websocket"
	"github.com/rustdocker/rustctl/cmd/common"
	"github.com/rustdocker/rustctl/internal/restart"
	"github.com/rustdocker/rustctl/pkg/rcon"
	"github.com/urfave/cli"
)

// shutdown sends quit without a countdown. It exits with 1 when the
// session could not be opened or failed before quit was sent; a server
// that drops the connection after quit is the expected outcome.
func shutdown(ctx *cli.Context) error {
	target, err := targetFromContext(ctx)
	if err != nil {
		return common.RuntimeExitErr(ctx, "shutdown", "target", err)
	}
	log := newLogger(ctx.Bool("debug"))
	defer log.Close()

	sigCtx, cancel := setupShutdownHandler()
	defer cancel()

	sess, err := rcon.Dial(sigCtx, target, &rcon.Options{Logger: log})
	if err != nil {
		return common.RuntimeExitErr(ctx, "shutdown", "dial", err)
	}
	defer sess.Close(websocket.StatusNormalClosure)

	if !sleepCtx(sigCtx, shutdownSettleDelay) {
		return nil
	}
	if err := sess.Err(); err != nil {
		return common.RuntimeExitErr(ctx, "shutdown", "session", err)
	}
	if err := sess.Send(sigCtx, rcon.NewCommand(restart.DefaultQuitMessage)); err != nil {
		return common.RuntimeExitErr(ctx, "shutdown", "send", err)
	}
	log.Info("quit sent to %s", sess.Target())

	sleepCtx(sigCtx, shutdownCloseDelay)
	if err := sess.Close(websocket.StatusNormalClosure); err != nil {
		log.Debug("close: %v", err)
	}
	return nil
}
