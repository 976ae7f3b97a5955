// Package session owns everything one streamed inference pass needs: the
// feature gate, the kernel set it selected, the model geometry and the single
// streaming buffer.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/lowmem/internal/cpufeat"
	"github.com/samcharles93/lowmem/internal/kernels"
	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/internal/stream"
	"github.com/samcharles93/lowmem/pkg/layout"
	"github.com/samcharles93/lowmem/pkg/quant"
)

var (
	// ErrStale is returned when a Layer is read after a later request has
	// replaced its bytes in the buffer.
	ErrStale = errors.New("session: layer no longer resident")

	ErrUnknownTensor = errors.New("session: unknown tensor")
)

// Config describes one session.
type Config struct {
	Model layout.Config `yaml:"model" json:"model"`
	// BufferCapacity is the streaming buffer size in bytes. Zero sizes it to
	// the model's largest region.
	BufferCapacity int `yaml:"buffer_capacity" json:"buffer_capacity"`
	// MaxQuantBlocks caps quantisation allocations; see quant.Codec.
	MaxQuantBlocks int `yaml:"max_quant_blocks" json:"max_quant_blocks"`
}

// Session is not safe for concurrent use.
type Session struct {
	model layout.Config
	gate  *cpufeat.Gate
	kern  kernels.Set
	codec quant.Codec
	buf   *stream.Buffer
	log   logger.Logger
}

// New validates cfg and allocates the buffer. A model whose largest region
// does not fit the buffer is rejected here with stream.ErrCapacity, before
// any fetch. A nil gate probes the host.
func New(cfg Config, f stream.Fetcher, gate *cpufeat.Gate, log logger.Logger) (*Session, error) {
	if err := cfg.Model.Validate(); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.New("session: nil fetcher")
	}
	if cfg.BufferCapacity < 0 || cfg.MaxQuantBlocks < 0 {
		return nil, fmt.Errorf("session: negative limit in %+v", cfg)
	}
	log = logger.OrDiscard(log)
	if gate == nil {
		gate = cpufeat.Host()
	}

	need := cfg.Model.MaxLayerSize()
	capacity := cfg.BufferCapacity
	if capacity == 0 {
		if need > uint64(maxInt) {
			return nil, fmt.Errorf("%w: model needs %d bytes", stream.ErrCapacity, need)
		}
		capacity = int(need)
	}
	if need > uint64(capacity) {
		return nil, fmt.Errorf("%w: largest region is %d bytes, buffer is %d", stream.ErrCapacity, need, capacity)
	}

	s := &Session{
		model: cfg.Model,
		gate:  gate,
		kern:  kernels.Select(gate),
		codec: quant.Codec{MaxBlocks: cfg.MaxQuantBlocks},
		log:   log,
	}
	s.buf = stream.NewBuffer(capacity, f, stream.WithLogger(log.With("component", "stream")))
	log.Info("session ready",
		"kernels", s.kern.Name,
		"buffer_bytes", capacity,
		"layers", cfg.Model.NumLayers,
		"layer_bytes", cfg.Model.LayerSize(0),
	)
	return s, nil
}

const maxInt = int(^uint(0) >> 1)

func (s *Session) Model() layout.Config   { return s.model }
func (s *Session) Gate() *cpufeat.Gate    { return s.gate }
func (s *Session) Kernels() kernels.Set   { return s.kern }
func (s *Session) Codec() quant.Codec     { return s.codec }
func (s *Session) Buffer() *stream.Buffer { return s.buf }

// Layer streams layer i into the buffer. The returned Layer is valid until
// the next Layer, Embedding or Final call.
func (s *Session) Layer(ctx context.Context, i int) (*Layer, error) {
	r, err := s.model.LayerRegion(i)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, i, r, s.model.Tensors())
}

// Embedding streams the token-embedding table.
func (s *Session) Embedding(ctx context.Context) (*Layer, error) {
	return s.load(ctx, IndexEmbedding, s.model.EmbeddingRegion(), s.model.EmbeddingTensors())
}

// Final streams the final norm and, for unshared models, the classifier.
func (s *Session) Final(ctx context.Context) (*Layer, error) {
	return s.load(ctx, IndexFinal, s.model.FinalRegion(), s.model.FinalTensors())
}

func (s *Session) load(ctx context.Context, index int, r layout.Region, tensors []layout.Tensor) (*Layer, error) {
	if _, err := s.buf.Request(ctx, r); err != nil {
		return nil, err
	}
	s.log.Debug("chunk resident", "index", index, "region", r.String())
	return &Layer{Index: index, Region: r, tensors: tensors, s: s}, nil
}

// Project computes out = W x for a float weight W of rows x cols using the
// session's kernels.
func (s *Session) Project(out, x, w []float32, rows, cols int) {
	s.kern.MatMul(out, x, w, cols, rows)
}

// ProjectQuantized computes out = W x for a quantised W through the hybrid
// integer path, falling back to the float path when the codec's block limit
// is too small for the temporaries.
func (s *Session) ProjectQuantized(out, x []float32, w *quant.Matrix) (quant.Path, error) {
	if w == nil {
		return quant.PathFloat, fmt.Errorf("%w: nil matrix", quant.ErrShape)
	}
	path, err := s.codec.MatMulHybrid(out, w, x, w.Rows, 1, w.Cols)
	if err == nil && path == quant.PathFloat {
		s.log.Debug("hybrid matmul fell back to float path", "rows", w.Rows, "cols", w.Cols)
	}
	return path, err
}
