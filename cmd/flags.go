package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/rustdocker/rustctl/common"
	"github.com/rustdocker/rustctl/internal/guard"
	"github.com/rustdocker/rustctl/internal/update"
	"github.com/rustdocker/rustctl/pkg/logger"
	"github.com/rustdocker/rustctl/pkg/rcon"
	"github.com/urfave/cli"
)

var errNoPort = errors.New("RCON port is not set, use --port or " + common.RconPortEnv)

var (
	hostFlag = cli.StringFlag{
		Name:   "host",
		Value:  common.DefaultHost,
		Usage:  "RCON host of the game server",
		EnvVar: common.RconHostEnv,
	}
	portFlag = cli.IntFlag{
		Name:   "port, p",
		Usage:  "RCON port of the game server",
		EnvVar: common.RconPortEnv,
	}
	passwordFlag = cli.StringFlag{
		Name:   "password",
		Usage:  "RCON password of the game server",
		EnvVar: common.RconPasswordEnv,
	}
	debugFlag = cli.BoolFlag{
		Name:   "debug, d",
		Usage:  "verbose logging and short restart timers",
		EnvVar: common.DebugEnv,
	}
)

var rconFlags = []cli.Flag{hostFlag, portFlag, passwordFlag, debugFlag}

var restartFlags = []cli.Flag{
	hostFlag,
	portFlag,
	passwordFlag,
	debugFlag,
	cli.BoolFlag{
		Name:  "progress",
		Usage: "draw a progress bar while the restart runs",
	},
	cli.StringFlag{
		Name:   "lock-file",
		Value:  guard.DefaultLockPath,
		Usage:  "lock marker held while a restart is in flight",
		EnvVar: common.LockFileEnv,
	},
	cli.StringFlag{
		Name:   "supervisor",
		Value:  guard.DefaultSupervisor,
		Usage:  "process name to terminate when the server does not go down",
		EnvVar: common.SupervisorEnv,
	},
	cli.StringFlag{
		Name:   "status-url",
		Value:  update.DefaultURL,
		Usage:  "update status endpoint",
		EnvVar: common.StatusURLEnv,
	},
	cli.StringFlag{
		Name:   "schedule",
		Usage:  "cron expression for the forced restart, e.g. \"0 4 * * *\" (default: 30 minutes after start)",
		EnvVar: common.ScheduleEnv,
	},
	cli.StringFlag{
		Name:   "log-file",
		Usage:  "also append the agent log to this file",
		EnvVar: common.LogFileEnv,
	},
}

// targetFromContext reads the RCON endpoint from flags and environment.
func targetFromContext(ctx *cli.Context) (rcon.Target, error) {
	t := rcon.Target{
		Host:     ctx.String("host"),
		Port:     ctx.Int("port"),
		Password: ctx.String("password"),
	}
	if t.Port == 0 {
		return t, errNoPort
	}
	if t.Port < 0 || t.Port > 65535 {
		return t, fmt.Errorf("%w: port %d", rcon.ErrInvalidTarget, t.Port)
	}
	return t, nil
}

// newLogger returns the command logger; debug enables Debug output.
func newLogger(debug bool) logger.Logger {
	l := log.New(os.Stdout, "", log.LstdFlags)
	if debug {
		return logger.NewDebugLogger(l)
	}
	return logger.NewStandardLogger(l)
}

// withLogFile adds a file backend to console when path is set.
func withLogFile(console logger.Logger, path string, debug bool) (logger.Logger, error) {
	if path == "" {
		return console, nil
	}
	file, err := logger.NewFileLogger(path, debug)
	if err != nil {
		return nil, err
	}
	return logger.NewMultiLogger(console, file), nil
}
