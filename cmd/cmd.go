package cmd

import (
	"fmt"
	"runtime"

	"github.com/rustdocker/rustctl/cmd/common"
	rcommon "github.com/rustdocker/rustctl/common"
	"github.com/urfave/cli"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

func Execute(args []string, bArgs BuildArgs) error {
	app := cli.App{
		Name:                  rcommon.AppName,
		HelpName:              rcommon.AppName,
		Usage:                 "Keeps a game server updated with graceful restarts.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "rustctl <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Commands: []cli.Command{
			{
				Name:               "restart",
				Aliases:            []string{"r"},
				Usage:              "run the update watcher and restart countdown",
				Action:             restartAgent,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        RestartDescription,
				Flags:              restartFlags,
			},
			{
				Name:               "rcon",
				Aliases:            []string{"c"},
				Usage:              "relay a console command to the server",
				ArgsUsage:          "<command...>",
				Action:             relay,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        RconDescription,
				Flags:              rconFlags,
				SkipArgReorder:     true,
			},
			{
				Name:               "shutdown",
				Aliases:            []string{"s"},
				Usage:              "quit the server immediately",
				Action:             shutdown,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        ShutdownDescription,
				Flags:              rconFlags,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of rustctl",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		Action:      common.Help,
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
