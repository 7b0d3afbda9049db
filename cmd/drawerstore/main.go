// Command drawerstore manages specimen drawer imaging projects.
package main

import (
	"errors"
	"fmt"
	"os"

	"drawerstore/internal/cli"
	"drawerstore/internal/style"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, style.ErrorPrefix, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
