package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/gmartin/coll/allocator/buddy"
	"github.com/gmartin/coll/allocator/numeric"
)

func newValidateCmd() *cobra.Command {
	var seed int64
	var steps int

	cmd := &cobra.Command{
		Use:       "validate {buddy}",
		Short:     "Run a stress workload against an allocator and check its internal invariants",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"buddy"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "buddy" {
				return fmt.Errorf("unknown allocator kind %q", args[0])
			}
			return runValidateBuddy(cmd, seed, steps)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&steps, "steps", 20000, "number of alloc/free steps")
	return cmd
}

func runValidateBuddy(cmd *cobra.Command, seed int64, steps int) error {
	b, err := buddy.New(buddy.Parameters{
		BasicBlockSize: 16,
		TotalSize:      1 << 20,
		MaxAllocSize:   1 << 18,
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	var live []numeric.AllocResult

	for i := 0; i < steps; i++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			n := rng.Intn(len(live))
			b.Free(live[n].Buffer)
			live = append(live[:n], live[n+1:]...)
			continue
		}
		size := numeric.ByteSize(1 << uint(rng.Intn(10)))
		res := b.Alloc(size, numeric.AlignFromBytes(8))
		if res.OK() {
			live = append(live, res)
		}
		if err := b.Validate(); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL at step %d: %v\n", i, err)
			return err
		}
	}

	for _, res := range live {
		b.Free(res.Buffer)
	}
	if err := b.Validate(); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "FAIL after drain: %v\n", err)
		return err
	}

	stats := b.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "PASS steps=%d bytes_used=%d largest_free=%d\n", steps, stats.BytesUsed, stats.LargestFreeBlock)
	return nil
}
