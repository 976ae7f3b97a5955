// Package layout computes where each tensor of a flat float32 weight blob
// lives, so that one layer at a time can be fetched.
//
// The blob is a 28-byte header of seven little-endian int32 hyperparameters,
// the token-embedding table, then every layer's tensors back to back in the
// order wq, wk, wv, wo, w1, w2, w3, attention norm, feed-forward norm, then the
// final norm and, for unshared models, the classifier.
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the serialized size of Config.
	HeaderSize = 7 * 4

	// FloatSize is the byte width of every stored element.
	FloatSize = 4
)

var (
	ErrInvalidConfig = errors.New("layout: invalid config")
	ErrLayerRange    = errors.New("layout: layer index out of range")
)

// Config holds the model hyperparameters stored in the blob header.
type Config struct {
	Dim        int `yaml:"dim" json:"dim"`
	HiddenDim  int `yaml:"hidden_dim" json:"hidden_dim"`
	NumLayers  int `yaml:"n_layers" json:"n_layers"`
	NumHeads   int `yaml:"n_heads" json:"n_heads"`
	NumKVHeads int `yaml:"n_kv_heads" json:"n_kv_heads"`
	VocabSize  int `yaml:"vocab_size" json:"vocab_size"`
	SeqLen     int `yaml:"seq_len" json:"seq_len"`

	// SharedClassifier is decoded from the sign of the stored vocab size: a
	// negative value means the blob carries its own classifier matrix.
	SharedClassifier bool `yaml:"shared_classifier" json:"shared_classifier"`
}

// ReadConfig decodes the blob header.
func ReadConfig(r io.Reader) (Config, error) {
	var raw [HeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Config{}, fmt.Errorf("layout: read header: %w", err)
	}
	return DecodeConfig(raw[:])
}

// DecodeConfig decodes a header from the first HeaderSize bytes of b.
func DecodeConfig(b []byte) (Config, error) {
	if len(b) < HeaderSize {
		return Config{}, fmt.Errorf("%w: header is %d bytes", ErrInvalidConfig, len(b))
	}
	field := func(i int) int {
		return int(int32(binary.LittleEndian.Uint32(b[i*4:])))
	}
	c := Config{
		Dim:              field(0),
		HiddenDim:        field(1),
		NumLayers:        field(2),
		NumHeads:         field(3),
		NumKVHeads:       field(4),
		VocabSize:        field(5),
		SeqLen:           field(6),
		SharedClassifier: true,
	}
	if c.VocabSize < 0 {
		c.VocabSize = -c.VocabSize
		c.SharedClassifier = false
	}
	return c, c.Validate()
}

// MarshalBinary encodes the header.
func (c Config) MarshalBinary() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	vocab := c.VocabSize
	if !c.SharedClassifier {
		vocab = -vocab
	}
	out := make([]byte, HeaderSize)
	for i, v := range []int{c.Dim, c.HiddenDim, c.NumLayers, c.NumHeads, c.NumKVHeads, vocab, c.SeqLen} {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
	}
	return out, nil
}

// Validate checks that the dimensions describe a loadable model.
func (c Config) Validate() error {
	switch {
	case c.Dim <= 0 || c.HiddenDim <= 0:
		return fmt.Errorf("%w: dim=%d hidden_dim=%d", ErrInvalidConfig, c.Dim, c.HiddenDim)
	case c.NumLayers <= 0:
		return fmt.Errorf("%w: n_layers=%d", ErrInvalidConfig, c.NumLayers)
	case c.NumHeads <= 0 || c.NumKVHeads <= 0 || c.NumKVHeads > c.NumHeads:
		return fmt.Errorf("%w: n_heads=%d n_kv_heads=%d", ErrInvalidConfig, c.NumHeads, c.NumKVHeads)
	case c.Dim%c.NumHeads != 0:
		return fmt.Errorf("%w: dim %d not divisible by n_heads %d", ErrInvalidConfig, c.Dim, c.NumHeads)
	case c.VocabSize <= 0 || c.SeqLen <= 0:
		return fmt.Errorf("%w: vocab_size=%d seq_len=%d", ErrInvalidConfig, c.VocabSize, c.SeqLen)
	}
	return nil
}

// KVDim is the width of the key and value projections. It equals Dim when
// every head has its own key/value head.
func (c Config) KVDim() int {
	return c.Dim * c.NumKVHeads / c.NumHeads
}

// Region is the half-open byte range [Offset, Offset+Size) of a blob.
type Region struct {
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// End returns the first byte past the region.
func (r Region) End() uint64 {
	return r.Offset + r.Size
}

// Contains reports whether o lies entirely inside r.
func (r Region) Contains(o Region) bool {
	return o.Offset >= r.Offset && o.End() <= r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("[%d, %d)", r.Offset, r.End())
}

// Tensor names in blob order within a layer.
const (
	TensorWQ       = "wq"
	TensorWK       = "wk"
	TensorWV       = "wv"
	TensorWO       = "wo"
	TensorW1       = "w1"
	TensorW2       = "w2"
	TensorW3       = "w3"
	TensorAttnNorm = "attn_norm"
	TensorFFNNorm  = "ffn_norm"
)

// Tensor names outside the layers.
const (
	TensorEmbedding  = "token_embedding"
	TensorFinalNorm  = "final_norm"
	TensorClassifier = "classifier"
)

// Tensor is one named matrix or vector within a layer. Region is relative to
// the start of the layer.
type Tensor struct {
	Name   string `json:"name"`
	Rows   int    `json:"rows"`
	Cols   int    `json:"cols"`
	Region Region `json:"region"`
}

// Elements returns Rows*Cols.
func (t Tensor) Elements() int {
	return t.Rows * t.Cols
}

// Tensors lists one layer's tensors in blob order. Matrices are stored
// row-major as (output rows x input cols).
func (c Config) Tensors() []Tensor {
	kv := c.KVDim()
	shapes := []Tensor{
		{Name: TensorWQ, Rows: c.Dim, Cols: c.Dim},
		{Name: TensorWK, Rows: kv, Cols: c.Dim},
		{Name: TensorWV, Rows: kv, Cols: c.Dim},
		{Name: TensorWO, Rows: c.Dim, Cols: c.Dim},
		{Name: TensorW1, Rows: c.HiddenDim, Cols: c.Dim},
		{Name: TensorW2, Rows: c.Dim, Cols: c.HiddenDim},
		{Name: TensorW3, Rows: c.HiddenDim, Cols: c.Dim},
		{Name: TensorAttnNorm, Rows: 1, Cols: c.Dim},
		{Name: TensorFFNNorm, Rows: 1, Cols: c.Dim},
	}
	var off uint64
	for i := range shapes {
		size := uint64(shapes[i].Elements()) * FloatSize
		shapes[i].Region = Region{Offset: off, Size: size}
		off += size
	}
	return shapes
}

// EmbeddingRegion is the token-embedding table. It is a region of its own
// that precedes layer 0; no layer region includes it.
func (c Config) EmbeddingRegion() Region {
	return Region{
		Offset: HeaderSize,
		Size:   uint64(c.VocabSize) * uint64(c.Dim) * FloatSize,
	}
}

// EmbeddingTensors describes EmbeddingRegion as a single vocab x dim matrix.
func (c Config) EmbeddingTensors() []Tensor {
	r := c.EmbeddingRegion()
	return []Tensor{{Name: TensorEmbedding, Rows: c.VocabSize, Cols: c.Dim, Region: Region{Size: r.Size}}}
}

// LayerSize is the byte size of one layer's tensors. Every layer has the same
// shape; the index is accepted so callers can stay per-layer.
func (c Config) LayerSize(layer int) uint64 {
	var size uint64
	for _, t := range c.Tensors() {
		size += t.Region.Size
	}
	return size
}

// LayerOffset is the byte offset of layer's first tensor.
func (c Config) LayerOffset(layer int) uint64 {
	off := c.EmbeddingRegion().End()
	for i := 0; i < layer; i++ {
		off += c.LayerSize(i)
	}
	return off
}

// LayerRegion returns the region of one layer.
func (c Config) LayerRegion(layer int) (Region, error) {
	if layer < 0 || layer >= c.NumLayers {
		return Region{}, fmt.Errorf("%w: %d of %d", ErrLayerRange, layer, c.NumLayers)
	}
	return Region{Offset: c.LayerOffset(layer), Size: c.LayerSize(layer)}, nil
}

// MaxLayerSize is the largest single region a streaming buffer must hold:
// the biggest of one layer, the embedding table and the final region.
func (c Config) MaxLayerSize() uint64 {
	return max(c.LayerSize(0), c.EmbeddingRegion().Size, c.FinalRegion().Size)
}

// FinalRegion covers what follows the last layer: the final norm vector and,
// when the classifier is not shared with the embedding, the classifier.
func (c Config) FinalRegion() Region {
	size := uint64(c.Dim) * FloatSize
	if !c.SharedClassifier {
		size += uint64(c.VocabSize) * uint64(c.Dim) * FloatSize
	}
	return Region{Offset: c.LayerOffset(c.NumLayers), Size: size}
}

// FinalTensors lists FinalRegion's tensors relative to its start.
func (c Config) FinalTensors() []Tensor {
	norm := uint64(c.Dim) * FloatSize
	ts := []Tensor{{Name: TensorFinalNorm, Rows: 1, Cols: c.Dim, Region: Region{Size: norm}}}
	if !c.SharedClassifier {
		ts = append(ts, Tensor{
			Name:   TensorClassifier,
			Rows:   c.VocabSize,
			Cols:   c.Dim,
			Region: Region{Offset: norm, Size: uint64(c.VocabSize) * uint64(c.Dim) * FloatSize},
		})
	}
	return ts
}

// TotalSize is the full blob length.
func (c Config) TotalSize() uint64 {
	return c.FinalRegion().End()
}

// Find returns the named tensor of a layer.
func (c Config) Find(name string) (Tensor, bool) {
	for _, t := range c.Tensors() {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}
