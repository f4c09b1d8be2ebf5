// Command collctl is a small inspection and benchmarking tool over the
// allocator family, the root that wires log sinks and all three allocators
// together end to end. It mirrors the
// teacher's cmd/hivectl in shape: a Cobra root command with one subcommand
// per operation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "collctl",
		Short: "Inspect and benchmark the coll allocator family",
	}
	root.AddCommand(newBenchCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newLeakReportCmd())
	return root
}
