package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lowmem/internal/cpufeat"
	"github.com/samcharles93/lowmem/internal/kernels"
)

func featuresCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:  "features",
		Usage: "Report the CPU feature verdict and the kernel set it selects",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			gate := cpufeat.Host()
			v := gate.Verdict()
			set := kernels.Select(gate)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"verdict": v, "kernels": set.Name})
			}
			f := v.Features
			fmt.Printf("isa:          %s\n", f.Name)
			fmt.Printf("vector isa:   %t\n", f.VectorISA)
			fmt.Printf("os state:     %t\n", f.StateEnabled)
			fmt.Printf("fma:          %t\n", f.FMA)
			fmt.Printf("vector path:  %t\n", v.VectorAvailable)
			if os.Getenv(cpufeat.EnvNoSIMD) != "" {
				fmt.Printf("              (%s=%s)\n", cpufeat.EnvNoSIMD, os.Getenv(cpufeat.EnvNoSIMD))
			}
			fmt.Printf("kernels:      %s\n", set.Name)
			return nil
		},
	}
}
