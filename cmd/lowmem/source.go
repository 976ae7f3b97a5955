package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samcharles93/lowmem/internal/cpufeat"
	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/internal/session"
	"github.com/samcharles93/lowmem/internal/stream"
	"github.com/samcharles93/lowmem/internal/transport"
	"github.com/samcharles93/lowmem/pkg/layout"
)

// opened is a fetcher chain plus whatever must be closed with it.
type opened struct {
	fetcher stream.Fetcher
	model   layout.Config
	closers []func() error
}

func (o *opened) Close() error {
	var errs []error
	for _, c := range o.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// open builds the fetch chain. A URL gives HTTP with pacing and retries;
// when a local path is also set it becomes the fallback. A path alone is
// read directly. The model header is read through the finished chain.
func (s *source) open(ctx context.Context, log logger.Logger, metrics *transport.Metrics) (*opened, error) {
	if s.url == "" && s.path == "" {
		return nil, fmt.Errorf("--model or --url is required (or set %s / %s)", envModelPath, envModelURL)
	}
	o := &opened{}

	var local stream.Fetcher
	if s.path != "" {
		f, err := transport.OpenFile(s.path, !s.noMmap)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, f.Close)
		log.Debug("opened local blob", "path", s.path, "bytes", f.Size(), "mmap", f.Mapped())
		local = instrument(f, "file", metrics)
	}

	o.fetcher = local
	if s.url != "" {
		h := &transport.HTTP{URL: s.url, Client: &http.Client{Timeout: s.timeout}}
		var remote stream.Fetcher = transport.RateLimited(instrument(h, "http", metrics), transport.PerSecond(s.rate, 1))
		policy := transport.DefaultRetryPolicy()
		policy.MaxRetries = uint64(max(s.retries, 0))
		policy.InitialInterval = s.retryWait
		remote = transport.Retry(remote, policy, log.With("component", "retry"))
		o.fetcher = remote
		if local != nil {
			o.fetcher = transport.Fallback(remote, local, log.With("component", "fallback"))
		}
	}

	hdr, err := stream.NewBuffer(layout.HeaderSize, o.fetcher).Request(ctx, layout.Region{Size: layout.HeaderSize})
	if err != nil {
		_ = o.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	model, err := layout.DecodeConfig(hdr)
	if err != nil {
		_ = o.Close()
		return nil, err
	}
	o.model = model
	return o, nil
}

func instrument(f stream.Fetcher, name string, m *transport.Metrics) stream.Fetcher {
	if m == nil {
		return f
	}
	return transport.Instrumented(f, name, m)
}

// session opens the source and builds a session over it.
func (s *source) session(ctx context.Context, log logger.Logger, reg prometheus.Registerer) (*session.Session, *opened, error) {
	o, err := s.open(ctx, log, transport.NewMetrics(reg))
	if err != nil {
		return nil, nil, err
	}
	sess, err := session.New(session.Config{
		Model:          o.model,
		BufferCapacity: int(s.bufferBytes),
		MaxQuantBlocks: int(s.maxBlocks),
	}, o.fetcher, cpufeat.Host(), log)
	if err != nil {
		_ = o.Close()
		return nil, nil, err
	}
	return sess, o, nil
}
