package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/arena"
	"github.com/gmartin/coll/allocator/leak"
	"github.com/gmartin/coll/allocator/numeric"
)

func newLeakReportCmd() *cobra.Command {
	var seed int64
	var steps int
	var dropFreeFraction float64

	cmd := &cobra.Command{
		Use:   "leak-report",
		Short: "Run a workload under a leak-tracking sink and print the CSV report of what's still live",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeakReport(cmd, seed, steps, dropFreeFraction)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&steps, "steps", 2000, "number of allocations to perform")
	cmd.Flags().Float64Var(&dropFreeFraction, "drop-free-fraction", 0.05, "fraction of allocations deliberately never freed, to exercise the report")
	return cmd
}

func runLeakReport(cmd *cobra.Command, seed int64, steps int, dropFreeFraction float64) error {
	a, err := arena.New(arena.Parameters{Size: 1 << 20, Fallback: allocator.SystemHeap()})
	if err != nil {
		return err
	}
	defer a.Close()

	sink := leak.New()
	scope := allocator.RegisterSink(sink)
	defer scope.Pop()

	rng := rand.New(rand.NewSource(seed))
	var live []numeric.AllocResult

	for i := 0; i < steps; i++ {
		size := numeric.ByteSize(1 << uint(rng.Intn(8)))
		res := a.Alloc(size, numeric.AlignFromBytes(8))
		if res.OK() {
			live = append(live, res)
		}
	}

	for _, res := range live {
		if rng.Float64() < dropFreeFraction {
			continue
		}
		a.Free(res.Buffer)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "live allocations: %d\n", sink.LiveAllocationCount())
	return sink.ReportCSV(cmd.OutOrStdout())
}
