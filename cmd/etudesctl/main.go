// Command etudesctl manages études and prints their KPIs from a terminal.
// It reads the same environment as the API server.
package main

import (
	"fmt"
	"os"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	// PersistentPostRun is skipped when a command fails.
	a.teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
