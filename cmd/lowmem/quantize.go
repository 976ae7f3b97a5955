package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/pkg/layout"
	"github.com/samcharles93/lowmem/pkg/quant"
)

func quantizeCmd() *cli.Command {
	var (
		src    source
		layer  int64
		tensor string
		format string
		out    string
	)
	return &cli.Command{
		Name:  "quantize",
		Usage: "Quantise one tensor of one streamed layer into a block file",
		Flags: append(src.flags(),
			&cli.Int64Flag{Name: "layer", Usage: "layer index", Destination: &layer},
			&cli.StringFlag{Name: "tensor", Usage: "tensor name (wq, wk, wv, wo, w1, w2, w3)", Value: layout.TensorWQ, Destination: &tensor},
			&cli.StringFlag{Name: "format", Usage: "q8_0 or q6_g64", Value: quant.Q8.Name, Destination: &format},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output path (omit to only report)", Destination: &out},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applySourceConfig(cmd, cfg, &src)
			log := logger.FromContext(ctx)
			f, err := quant.FormatByName(format)
			if err != nil {
				return err
			}
			sess, o, err := src.session(ctx, log, nil)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			l, err := sess.Layer(ctx, int(layer))
			if err != nil {
				return err
			}
			w, err := l.Float32(tensor, nil)
			if err != nil {
				return err
			}
			t, _ := l.Tensor(tensor)
			m, err := sess.Codec().Quantize(f, w, t.Rows, t.Cols)
			if err != nil {
				return err
			}

			deq := make([]float32, m.Len())
			if err := m.Dequantize(deq); err != nil {
				return err
			}
			var maxErr float64
			for i := range w {
				maxErr = max(maxErr, float64(abs32(w[i]-deq[i])))
			}
			fmt.Printf("%s layer %d [%dx%d] %s: %d blocks, %s -> %s, ratio %.2f (%.2f with scales), max error %.3g\n",
				tensor, layer, t.Rows, t.Cols, f.Name, len(m.Blocks),
				humanBytes(t.Region.Size), humanBytes(uint64(m.SizeBytes())),
				m.CompressionRatio(), m.FootprintRatio(), maxErr)

			if out == "" {
				return nil
			}
			file, err := os.Create(out)
			if err != nil {
				return err
			}
			err = quant.WriteMatrix(file, m)
			if cerr := file.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return errors.Join(err, os.Remove(out))
			}
			log.Info("wrote block file", "path", out, "format", f.Name)
			return nil
		},
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
