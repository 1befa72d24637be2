// Command buildorc is the CLI entry point for the build orchestration
// engine: a local recovery-loop build, a coordinator service, and a worker
// that connects to one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "buildorc",
		Short: "AI-assisted build orchestration with distributed execution",
	}
	root.AddCommand(getBuildCmd())
	root.AddCommand(getCoordinatorCmd())
	root.AddCommand(getWorkerCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
