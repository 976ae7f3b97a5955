package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lowmem/internal/cpufeat"
	"github.com/samcharles93/lowmem/internal/kernels"
	"github.com/samcharles93/lowmem/pkg/quant"
)

func benchCmd() *cli.Command {
	var (
		n      int64
		d      int64
		rounds int64
	)
	return &cli.Command{
		Name:  "bench",
		Usage: "Time the scalar and vector kernels and the quantised matmul paths",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "n", Usage: "input width", Value: 768, Destination: &n},
			&cli.Int64Flag{Name: "d", Usage: "output rows", Value: 2048, Destination: &d},
			&cli.Int64Flag{Name: "rounds", Usage: "repetitions per measurement", Value: 20, Destination: &rounds},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if n <= 0 || d <= 0 || rounds <= 0 {
				return fmt.Errorf("n, d and rounds must be positive")
			}
			x := probeVector(int(n))
			w := probeVector(int(n * d))
			out := make([]float32, d)
			norm := make([]float32, n)
			for i := range norm {
				norm[i] = 1
			}

			sets := []kernels.Set{kernels.Scalar()}
			if cpufeat.Host().VectorPathSafe() {
				sets = append(sets, kernels.Vector())
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "OP\tKERNELS\tPER CALL\t")
			for _, k := range sets {
				report(tw, "dot", k.Name, timeIt(rounds*d, func() { k.Dot(x, x) }))
				report(tw, "rmsnorm", k.Name, timeIt(rounds*d, func() { k.RMSNorm(out[:n], x, norm) }))
				report(tw, "matmul", k.Name, timeIt(rounds, func() { k.MatMul(out, x, w, int(n), int(d)) }))
			}
			for _, f := range []quant.Format{quant.Q8, quant.Q6} {
				m, err := quant.Quantize(f, w, int(d), int(n))
				if err != nil {
					return err
				}
				report(tw, "matmul float", f.Name, timeIt(rounds, func() { _ = quant.MatMulFloat(out, m, x, int(d), 1, int(n)) }))
				report(tw, "matmul hybrid", f.Name, timeIt(rounds, func() { _, _ = quant.MatMulHybrid(out, m, x, int(d), 1, int(n)) }))
			}
			return tw.Flush()
		},
	}
}

func timeIt(rounds int64, fn func()) time.Duration {
	fn()
	start := time.Now()
	for range rounds {
		fn()
	}
	return time.Since(start) / time.Duration(rounds)
}

func report(tw *tabwriter.Writer, op, set string, per time.Duration) {
	_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t\n", op, set, per)
}
