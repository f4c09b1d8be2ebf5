package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/gmartin/coll/allocator"
	"github.com/gmartin/coll/allocator/arena"
	"github.com/gmartin/coll/allocator/buddy"
	"github.com/gmartin/coll/allocator/numeric"
	"github.com/gmartin/coll/allocator/stackalloc"
)

func newBenchCmd() *cobra.Command {
	var seed int64
	var steps int

	cmd := &cobra.Command{
		Use:       "bench {buddy|stack|arena}",
		Short:     "Run a randomized alloc/free workload against one allocator",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"buddy", "stack", "arena"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, args[0], seed, steps)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&steps, "steps", 10000, "number of alloc/free steps")
	return cmd
}

func runBench(cmd *cobra.Command, kind string, seed int64, steps int) error {
	var a allocator.Allocator
	switch kind {
	case "buddy":
		b, err := buddy.New(buddy.Parameters{
			BasicBlockSize: 16,
			TotalSize:      1 << 20,
			MaxAllocSize:   1 << 18,
		})
		if err != nil {
			return err
		}
		a = b
	case "stack":
		a = stackalloc.New(stackalloc.Parameters{MinBlockSize: 1 << 16, MaxBlockSize: 1 << 20})
	case "arena":
		ar, err := arena.New(arena.Parameters{Size: 1 << 20})
		if err != nil {
			return err
		}
		a = ar
	default:
		return fmt.Errorf("unknown allocator kind %q", kind)
	}

	rng := rand.New(rand.NewSource(seed))
	var live []numeric.AllocResult
	var allocCount, freeCount int
	start := time.Now()

	for i := 0; i < steps; i++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			n := rng.Intn(len(live))
			a.Free(live[n].Buffer)
			live = append(live[:n], live[n+1:]...)
			freeCount++
			continue
		}
		size := numeric.ByteSize(1 << uint(rng.Intn(10)))
		res := a.Alloc(size, numeric.AlignFromBytes(8))
		if res.OK() {
			live = append(live, res)
			allocCount++
		}
	}

	elapsed := time.Since(start)
	fmt.Fprintf(cmd.OutOrStdout(), "allocator=%s steps=%d allocs=%d frees=%d live=%d elapsed=%s\n",
		kind, steps, allocCount, freeCount, len(live), elapsed)
	return nil
}
