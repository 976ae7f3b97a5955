package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lowmem/internal/logger"
)

const (
	envModelURL  = "LOWMEM_MODEL_URL"
	envModelPath = "LOWMEM_MODEL"
)

var (
	logLevel  string
	logFormat string
	debug     bool

	cfg Config
)

// source holds the flags shared by every command that reads a blob.
type source struct {
	path        string
	url         string
	noMmap      bool
	bufferBytes int64
	maxBlocks   int64
	retries     int64
	retryWait   time.Duration
	rate        float64
	timeout     time.Duration
}

func (s *source) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a local weight blob",
			Sources:     cli.EnvVars(envModelPath),
			Destination: &s.path,
		},
		&cli.StringFlag{
			Name:        "url",
			Usage:       "URL of a weight blob served with Range support",
			Sources:     cli.EnvVars(envModelURL),
			Destination: &s.url,
		},
		&cli.BoolFlag{
			Name:        "no-mmap",
			Usage:       "read the local blob with ReadAt instead of mapping it",
			Destination: &s.noMmap,
		},
		&cli.Int64Flag{
			Name:        "buffer",
			Usage:       "streaming buffer size in bytes (0 = largest chunk)",
			Destination: &s.bufferBytes,
		},
		&cli.Int64Flag{
			Name:        "max-quant-blocks",
			Usage:       "cap on quantisation blocks per allocation (0 = unlimited)",
			Destination: &s.maxBlocks,
		},
		&cli.Int64Flag{
			Name:        "retries",
			Usage:       "retries per network fetch",
			Value:       4,
			Destination: &s.retries,
		},
		&cli.DurationFlag{
			Name:        "retry-wait",
			Usage:       "initial wait between retries",
			Value:       100 * time.Millisecond,
			Destination: &s.retryWait,
		},
		&cli.Float64Flag{
			Name:        "rate",
			Usage:       "maximum network fetches per second (0 = unlimited)",
			Destination: &s.rate,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "HTTP timeout per fetch",
			Value:       time.Minute,
			Destination: &s.timeout,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setup loads the config file, applies it under the logging flags and puts
// the resulting logger in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error
	cfg, err = LoadConfig(configPath())
	if err != nil {
		return ctx, err
	}
	applyLoggingConfig(cmd, cfg)
	lvl, err := logger.ParseLevel(logLevel)
	if err != nil {
		return ctx, err
	}
	if debug {
		lvl = slog.LevelDebug
	}
	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return ctx, err
	}
	log := logger.New(os.Stderr, logger.Options{
		Format:  format,
		Level:   lvl,
		Source:  debug,
		NoColor: os.Getenv("NO_COLOR") != "",
	})
	return logger.WithContext(ctx, log), nil
}
