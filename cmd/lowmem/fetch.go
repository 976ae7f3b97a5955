package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/internal/session"
	"github.com/samcharles93/lowmem/pkg/layout"
	"github.com/samcharles93/lowmem/pkg/quant"
)

func fetchCmd() *cli.Command {
	var (
		src    source
		verify bool
		format string
	)
	return &cli.Command{
		Name:  "fetch",
		Usage: "Stream every chunk of a blob through the buffer and report throughput",
		Flags: append(src.flags(),
			&cli.BoolFlag{
				Name:        "verify",
				Usage:       "quantise each layer's wq and compare the hybrid projection with the float one",
				Destination: &verify,
			},
			&cli.StringFlag{Name: "format", Usage: "format for --verify", Value: quant.Q8.Name, Destination: &format},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applySourceConfig(cmd, cfg, &src)
			log := logger.FromContext(ctx)
			f, err := quant.FormatByName(format)
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			sess, o, err := src.session(ctx, log, reg)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			model := sess.Model()
			start := time.Now()
			var total uint64
			load := func(name string, get func() (*session.Layer, error)) (*session.Layer, error) {
				t0 := time.Now()
				l, err := get()
				if err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
				total += l.Region.Size
				log.Info("chunk", "name", name, "bytes", l.Region.Size, "took", time.Since(t0).Round(time.Microsecond))
				return l, nil
			}

			if _, err := load("embedding", func() (*session.Layer, error) { return sess.Embedding(ctx) }); err != nil {
				return err
			}
			x := probeVector(model.Dim)
			for i := 0; i < model.NumLayers; i++ {
				l, err := load(layout.LayerName(i), func() (*session.Layer, error) { return sess.Layer(ctx, i) })
				if err != nil {
					return err
				}
				if !verify {
					continue
				}
				diff, path, err := verifyLayer(sess, l, f, x)
				if err != nil {
					return fmt.Errorf("%s: %w", layout.LayerName(i), err)
				}
				log.Info("verified", "layer", i, "format", f.Name, "path", path, "max_abs_diff", diff)
			}
			if _, err := load("final", func() (*session.Layer, error) { return sess.Final(ctx) }); err != nil {
				return err
			}

			took := time.Since(start)
			fmt.Printf("streamed %s in %s (%.1f MiB/s) with %s kernels\n",
				humanBytes(total), took.Round(time.Millisecond),
				float64(total)/(1<<20)/took.Seconds(), sess.Kernels().Name)
			return reportFetches(reg)
		},
	}
}

// verifyLayer normalises x with the layer's attention norm, then projects it
// through wq both as floats and through the quantised hybrid path.
func verifyLayer(sess *session.Session, l *session.Layer, f quant.Format, x []float32) (float64, quant.Path, error) {
	model := sess.Model()
	k := sess.Kernels()

	norm, err := l.Float32(layout.TensorAttnNorm, nil)
	if err != nil {
		return 0, quant.PathFloat, err
	}
	xn := make([]float32, len(x))
	k.RMSNorm(xn, x, norm)

	w, err := l.Float32(layout.TensorWQ, nil)
	if err != nil {
		return 0, quant.PathFloat, err
	}
	ref := make([]float32, model.Dim)
	sess.Project(ref, xn, w, model.Dim, model.Dim)

	m, err := sess.Codec().Quantize(f, w, model.Dim, model.Dim)
	if err != nil {
		return 0, quant.PathFloat, err
	}
	got := make([]float32, model.Dim)
	path, err := sess.ProjectQuantized(got, xn, m)
	if err != nil {
		return 0, path, err
	}
	var diff float64
	for i := range ref {
		diff = max(diff, math.Abs(float64(got[i]-ref[i])))
	}
	return diff, path, nil
}

func probeVector(n int) []float32 {
	r := rand.New(rand.NewSource(1))
	x := make([]float32, n)
	for i := range x {
		x[i] = r.Float32()*2 - 1
	}
	return x
}

func reportFetches(g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if mf.GetName() != "lowmem_fetches_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var src, outcome string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "source":
					src = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			fmt.Printf("  %-5s %-6s %.0f\n", src, outcome, m.GetCounter().GetValue())
		}
	}
	return nil
}
