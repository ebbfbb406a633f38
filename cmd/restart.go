package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/rustdocker/rustctl/cmd/common"
	"github.com/rustdocker/rustctl/internal/daemon"
	"github.com/rustdocker/rustctl/internal/restart"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
)

// newRunner builds the agent. Tests replace it to inject fakes.
var newRunner = daemon.New

func restartAgent(ctx *cli.Context) error {
	target, err := targetFromContext(ctx)
	if err != nil {
		return common.RuntimeExitErr(ctx, "restart", "target", err)
	}
	debug := ctx.Bool("debug")
	log, err := withLogFile(newLogger(debug), ctx.String("log-file"), debug)
	if err != nil {
		return common.RuntimeExitErr(ctx, "restart", "log", err)
	}
	defer log.Close()

	cfg := &daemon.Config{
		Target:     target,
		Debug:      debug,
		StatusURL:  ctx.String("status-url"),
		Schedule:   ctx.String("schedule"),
		LockPath:   ctx.String("lock-file"),
		Supervisor: ctx.String("supervisor"),
		Restart:    restartTuning,
	}
	deps := &daemon.Dependencies{Logger: log}

	var progress *countdownProgress
	if ctx.Bool("progress") {
		progress, err = newCountdownProgress(cfg.Restart)
		if err != nil {
			return common.RuntimeExitErr(ctx, "restart", "progress", err)
		}
		deps.OnStep = progress.step
	}

	sigCtx, cancel := setupShutdownHandler()
	defer cancel()

	runner := newRunner(cfg, deps)
	err = runner.Start(sigCtx)
	if progress != nil {
		progress.finish()
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		log.Info("interrupted, restart state was %s", runner.State())
		return nil
	default:
		return common.RuntimeExitErr(ctx, "restart", "start", err)
	}
}

// countdownProgress mirrors restart steps onto a progress bar.
type countdownProgress struct {
	p       *mpb.Progress
	bar     *mpb.Bar
	setStep func(string)
}

func newCountdownProgress(cfg *restart.Config) (*countdownProgress, error) {
	steps, err := restart.Plan(cfg)
	if err != nil {
		return nil, err
	}
	p := mpb.New(mpb.WithOutput(os.Stderr), mpb.WithWidth(40))
	bar, setStep := common.InitCountdownBar(p, "", int64(len(steps)))
	return &countdownProgress{p: p, bar: bar, setStep: setStep}, nil
}

func (c *countdownProgress) step(s restart.Step) {
	if s.Next != restart.StateDone {
		c.setStep(s.Next)
	}
	c.bar.Increment()
}

// finish completes or aborts the bar and waits for the final render.
func (c *countdownProgress) finish() {
	if !c.bar.Completed() {
		c.bar.Abort(false)
	}
	c.p.Wait()
}
