// Package server publishes a weight blob over HTTP so that streaming
// sessions elsewhere can fetch it range by range.
package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/pkg/layout"
)

// HeaderRequestID carries the id assigned to every request.
const HeaderRequestID = "X-Request-Id"

// Server serves one blob file.
type Server struct {
	path     string
	name     string
	size     int64
	modTime  time.Time
	model    layout.Config
	manifest []byte

	registry *prometheus.Registry
	served   *prometheus.CounterVec
	log      logger.Logger
}

// New opens path, decodes its header and checks that the file is as long as
// the header says. Metrics are registered with reg; a nil reg gets a private
// registry.
func New(path string, reg *prometheus.Registry, log logger.Logger) (*Server, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	model, err := layout.ReadConfig(f)
	if err != nil {
		return nil, fmt.Errorf("server: %s: %w", path, err)
	}
	if want := model.TotalSize(); uint64(st.Size()) < want {
		return nil, fmt.Errorf("server: %s is %d bytes, header describes %d", path, st.Size(), want)
	}
	manifest, err := json.Marshal(model.Manifest())
	if err != nil {
		return nil, err
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Server{
		path:     path,
		name:     filepath.Base(path),
		size:     st.Size(),
		modTime:  st.ModTime(),
		model:    model,
		manifest: manifest,
		registry: reg,
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lowmem",
			Name:      "served_requests_total",
			Help:      "Blob requests served, by route and status code.",
		}, []string{"route", "code"}),
		log: logger.OrDiscard(log),
	}
	if err := reg.Register(s.served); err != nil {
		return nil, err
	}
	return s, nil
}

// Model returns the decoded header.
func (s *Server) Model() layout.Config { return s.model }

// Register mounts the routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
	e.GET("/v1/manifest", s.handleManifest)
	e.GET("/v1/model", s.handleModel)
	e.GET("/v1/chunks/:name", s.handleChunk)
}

func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := c.Request().Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(HeaderRequestID, id)
		return next(c)
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "model": s.name})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleManifest(c *echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(http.StatusOK)
	_, err := io.Copy(res, bytes.NewReader(s.manifest))
	return err
}

// handleModel serves the whole blob, honouring Range and If-Range.
func (s *Server) handleModel(c *echo.Context) error {
	return s.serve(c, "model", s.name, 0, s.size)
}

// handleChunk serves one chunk of the manifest by name, for example
// /v1/chunks/layer.3. Range requests are relative to the chunk.
func (s *Server) handleChunk(c *echo.Context) error {
	name := c.Param("name")
	for _, ch := range s.model.Manifest().Chunks {
		if ch.Name == name {
			return s.serve(c, "chunk", s.name+"."+name, int64(ch.Region.Offset), int64(ch.Region.Size))
		}
	}
	s.served.WithLabelValues("chunk", strconv.Itoa(http.StatusNotFound)).Inc()
	return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown chunk " + strconv.Quote(name)})
}

func (s *Server) serve(c *echo.Context, route, name string, off, size int64) error {
	f, err := os.Open(s.path)
	if err != nil {
		s.log.Error("open blob", "path", s.path, "error", err)
		return err
	}
	defer func() { _ = f.Close() }()

	rw := &statusRecorder{ResponseWriter: c.Response(), code: http.StatusOK}
	req := c.Request()
	rw.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(rw, req, name, s.modTime, io.NewSectionReader(f, off, size))
	s.served.WithLabelValues(route, strconv.Itoa(rw.code)).Inc()
	s.log.Debug("served",
		"route", route,
		"range", req.Header.Get("Range"),
		"code", rw.code,
		"request_id", rw.Header().Get(HeaderRequestID),
	)
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}
