// Command sprintrunner is the orchestrator process entrypoint: it loads
// configuration, wires every subsystem, and serves the dashboard HTTP API
// until signalled to stop.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
