package main

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/pkg/layout"
)

func synthCmd() *cli.Command {
	var (
		out      string
		unshared bool

		dim, hidden, layers, heads, kvHeads int64
		vocab, seqLen, seed                 int64
	)
	return &cli.Command{
		Name:  "synth",
		Usage: "Write a synthetic weight blob with deterministic random weights",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output path", Required: true, Destination: &out},
			&cli.Int64Flag{Name: "dim", Value: 768, Destination: &dim},
			&cli.Int64Flag{Name: "hidden-dim", Value: 2048, Destination: &hidden},
			&cli.Int64Flag{Name: "layers", Value: 6, Destination: &layers},
			&cli.Int64Flag{Name: "heads", Value: 12, Destination: &heads},
			&cli.Int64Flag{Name: "kv-heads", Value: 12, Destination: &kvHeads},
			&cli.Int64Flag{Name: "vocab", Value: 32000, Destination: &vocab},
			&cli.Int64Flag{Name: "seq-len", Value: 1024, Destination: &seqLen},
			&cli.Int64Flag{Name: "seed", Value: 1, Destination: &seed},
			&cli.BoolFlag{Name: "unshared", Usage: "append a separate classifier", Destination: &unshared},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			c := layout.Config{
				Dim:              int(dim),
				HiddenDim:        int(hidden),
				NumLayers:        int(layers),
				NumHeads:         int(heads),
				NumKVHeads:       int(kvHeads),
				VocabSize:        int(vocab),
				SeqLen:           int(seqLen),
				SharedClassifier: !unshared,
			}
			if err := c.Validate(); err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			err = layout.WriteSynthetic(f, c, seed)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return errors.Join(err, os.Remove(out))
			}
			log.Info("wrote synthetic blob", "path", out, "bytes", c.TotalSize(), "layer_bytes", c.LayerSize(0))
			return nil
		},
	}
}
