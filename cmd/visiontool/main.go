// Command visiontool serves and exercises the on-device vision runtime.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/visiontool/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
