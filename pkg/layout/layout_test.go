package layout

import (
	"bytes"
	"errors"
	"testing"
)

func testConfig() Config {
	return Config{
		Dim:              768,
		HiddenDim:        2048,
		NumLayers:        6,
		NumHeads:         12,
		NumKVHeads:       12,
		VocabSize:        32000,
		SeqLen:           1024,
		SharedClassifier: true,
	}
}

func perLayerFormula(dim, hidden uint64) uint64 {
	return 4*(4*dim*dim+3*dim*hidden+2*dim)
}

func TestLayerGeometry(t *testing.T) {
	t.Parallel()
	c := testConfig()
	emb := c.EmbeddingRegion()
	if emb.Offset != HeaderSize {
		t.Fatalf("embedding offset = %d, want %d", emb.Offset, HeaderSize)
	}
	if want := uint64(32000 * 768 * 4); emb.Size != want {
		t.Fatalf("embedding size = %d, want %d", emb.Size, want)
	}
	per := perLayerFormula(768, 2048)
	if got := c.LayerSize(0); got != per {
		t.Fatalf("LayerSize = %d, want %d", got, per)
	}
	if got := c.LayerOffset(0); got != emb.End() {
		t.Fatalf("LayerOffset(0) = %d, want %d", got, emb.End())
	}
	for k := 0; k < c.NumLayers; k++ {
		if d := c.LayerOffset(k+1) - c.LayerOffset(k); d != c.LayerSize(k) {
			t.Fatalf("layer %d: offset delta %d != size %d", k, d, c.LayerSize(k))
		}
	}

	r, err := c.LayerRegion(3)
	if err != nil {
		t.Fatal(err)
	}
	if want := HeaderSize + emb.Size + 3*per; r.Offset != want {
		t.Fatalf("layer 3 offset = %d, want %d", r.Offset, want)
	}
	if r.Size != per {
		t.Fatalf("layer 3 size = %d, want %d", r.Size, per)
	}
	if _, err := c.LayerRegion(6); !errors.Is(err, ErrLayerRange) {
		t.Fatalf("LayerRegion(6) err = %v, want ErrLayerRange", err)
	}
}

func TestTensorsTileTheLayer(t *testing.T) {
	t.Parallel()
	c := testConfig()
	c.NumKVHeads = 4
	var next uint64
	names := []string{TensorWQ, TensorWK, TensorWV, TensorWO, TensorW1, TensorW2, TensorW3, TensorAttnNorm, TensorFFNNorm}
	tensors := c.Tensors()
	if len(tensors) != len(names) {
		t.Fatalf("%d tensors, want %d", len(tensors), len(names))
	}
	for i, tt := range tensors {
		if tt.Name != names[i] {
			t.Fatalf("tensor %d is %q, want %q", i, tt.Name, names[i])
		}
		if tt.Region.Offset != next {
			t.Fatalf("%s starts at %d, want %d", tt.Name, tt.Region.Offset, next)
		}
		next = tt.Region.End()
	}
	if next != c.LayerSize(0) {
		t.Fatalf("tensors cover %d bytes, layer is %d", next, c.LayerSize(0))
	}
	if wk, _ := c.Find(TensorWK); wk.Rows != 256 {
		t.Fatalf("wk rows = %d, want kv dim 256", wk.Rows)
	}
}

func TestConfigHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	for _, shared := range []bool{true, false} {
		c := testConfig()
		c.SharedClassifier = shared
		b, err := c.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		if len(b) != HeaderSize {
			t.Fatalf("header is %d bytes", len(b))
		}
		got, err := ReadConfig(bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		if got != c {
			t.Fatalf("got %+v, want %+v", got, c)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	bad := testConfig()
	bad.NumHeads = 7
	if err := bad.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if _, err := DecodeConfig(make([]byte, 10)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("short header err = %v", err)
	}
}

func TestWriteSyntheticSize(t *testing.T) {
	t.Parallel()
	c := Config{Dim: 16, HiddenDim: 40, NumLayers: 3, NumHeads: 4, NumKVHeads: 2, VocabSize: 10, SeqLen: 8}
	var a, b bytes.Buffer
	if err := WriteSynthetic(&a, c, 42); err != nil {
		t.Fatal(err)
	}
	if uint64(a.Len()) != c.TotalSize() {
		t.Fatalf("blob is %d bytes, want %d", a.Len(), c.TotalSize())
	}
	if err := WriteSynthetic(&b, c, 42); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("same seed produced different blobs")
	}
	got, err := ReadConfig(bytes.NewReader(a.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got != c {
		t.Fatalf("header decoded as %+v", got)
	}
}

func TestFinalAndEmbeddingTensors(t *testing.T) {
	t.Parallel()
	c := testConfig()
	if ts := c.FinalTensors(); len(ts) != 1 || ts[0].Region.Size != c.FinalRegion().Size {
		t.Fatalf("shared model final tensors = %+v", ts)
	}
	c.SharedClassifier = false
	ts := c.FinalTensors()
	if len(ts) != 2 || ts[1].Name != TensorClassifier || ts[1].Region.End() != c.FinalRegion().Size {
		t.Fatalf("unshared model final tensors = %+v", ts)
	}
	if c.MaxLayerSize() != c.FinalRegion().Size {
		t.Fatalf("MaxLayerSize = %d, want final region %d", c.MaxLayerSize(), c.FinalRegion().Size)
	}
	emb := c.EmbeddingTensors()
	if len(emb) != 1 || emb[0].Elements() != c.VocabSize*c.Dim || emb[0].Region.Offset != 0 {
		t.Fatalf("embedding tensors = %+v", emb)
	}
}

func TestManifest(t *testing.T) {
	t.Parallel()
	c := testConfig()
	m := c.Manifest()
	if len(m.Chunks) != c.NumLayers+2 {
		t.Fatalf("%d chunks", len(m.Chunks))
	}
	next := uint64(HeaderSize)
	for _, ch := range m.Chunks {
		if ch.Region.Offset != next {
			t.Fatalf("chunk %s starts at %d, want %d", ch.Name, ch.Region.Offset, next)
		}
		if ch.Region.Size > m.MaxChunk {
			t.Fatalf("chunk %s is larger than MaxChunk", ch.Name)
		}
		next = ch.Region.End()
	}
	if next != m.TotalSize {
		t.Fatalf("chunks end at %d, total %d", next, m.TotalSize)
	}
	if m.Chunks[4].Name != "layer.3" {
		t.Fatalf("chunk 4 is %q", m.Chunks[4].Name)
	}
}
