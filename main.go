package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rustdocker/rustctl/cmd"
	"github.com/urfave/cli"
)

var (
	version   string
	commit    string
	date      string
	buildType string = "unclassified"
)

var osExit = os.Exit

func main() {
	osExit(runMain(os.Args, func(args []string) error {
		return cmd.Execute(args, cmd.BuildArgs{
			Version:   version,
			Commit:    commit,
			Date:      date,
			BuildType: buildType,
		})
	}))
}

// runMain executes the CLI and maps its error to an exit code. Exit errors
// have already been reported by the CLI framework.
func runMain(args []string, execute func([]string) error) int {
	err := execute(args)
	if err == nil {
		return 0
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	fmt.Printf("rustctl: %s\n", err.Error())
	return 1
}
