package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lowmem/internal/version"
)

func main() {
	app := &cli.Command{
		Name:    "lowmem",
		Usage:   "Stream quantised model weights layer by layer",
		Version: version.String(),
		Flags:   loggingFlags(),
		Before:  setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			featuresCmd(),
			inspectCmd(),
			synthCmd(),
			quantizeCmd(),
			fetchCmd(),
			benchCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
