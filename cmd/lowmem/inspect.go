package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/pkg/layout"
)

func inspectCmd() *cli.Command {
	var (
		src    source
		asJSON bool
		detail bool
	)
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the header and chunk layout of a weight blob",
		Flags: append(src.flags(),
			&cli.BoolFlag{Name: "json", Usage: "print the manifest as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "tensors", Usage: "list every tensor", Destination: &detail},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applySourceConfig(cmd, cfg, &src)
			o, err := src.open(ctx, logger.FromContext(ctx), nil)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			m := o.model.Manifest()
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}
			printManifest(m, detail)
			return nil
		},
	}
}

func printManifest(m layout.Manifest, detail bool) {
	c := m.Config
	fmt.Printf("dim=%d hidden=%d layers=%d heads=%d kv_heads=%d vocab=%d seq=%d shared_classifier=%t\n",
		c.Dim, c.HiddenDim, c.NumLayers, c.NumHeads, c.NumKVHeads, c.VocabSize, c.SeqLen, c.SharedClassifier)
	fmt.Printf("total %s, largest chunk %s\n\n", humanBytes(m.TotalSize), humanBytes(m.MaxChunk))

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CHUNK\tOFFSET\tSIZE\t")
	for _, ch := range m.Chunks {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t\n", ch.Name, ch.Region.Offset, humanBytes(ch.Region.Size))
		if !detail {
			continue
		}
		for _, t := range ch.Tensors {
			_, _ = fmt.Fprintf(tw, "  %s [%dx%d]\t+%d\t%s\t\n", t.Name, t.Rows, t.Cols, t.Region.Offset, humanBytes(t.Region.Size))
		}
	}
	_ = tw.Flush()
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
