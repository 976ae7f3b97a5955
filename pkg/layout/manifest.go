package layout

import "strconv"

// Chunk is one fetchable region with its tensors. Tensor regions are
// relative to the chunk.
type Chunk struct {
	Name    string   `json:"name"`
	Region  Region   `json:"region"`
	Tensors []Tensor `json:"tensors"`
}

// Manifest lists every chunk of a blob in file order.
type Manifest struct {
	Config    Config  `json:"config"`
	TotalSize uint64  `json:"total_size"`
	MaxChunk  uint64  `json:"max_chunk"`
	Chunks    []Chunk `json:"chunks"`
}

// Manifest describes the blob c lays out.
func (c Config) Manifest() Manifest {
	m := Manifest{
		Config:    c,
		TotalSize: c.TotalSize(),
		MaxChunk:  c.MaxLayerSize(),
		Chunks:    make([]Chunk, 0, c.NumLayers+2),
	}
	m.Chunks = append(m.Chunks, Chunk{Name: "embedding", Region: c.EmbeddingRegion(), Tensors: c.EmbeddingTensors()})
	for i := 0; i < c.NumLayers; i++ {
		r, _ := c.LayerRegion(i)
		m.Chunks = append(m.Chunks, Chunk{Name: LayerName(i), Region: r, Tensors: c.Tensors()})
	}
	m.Chunks = append(m.Chunks, Chunk{Name: "final", Region: c.FinalRegion(), Tensors: c.FinalTensors()})
	return m
}

// LayerName is the chunk name of layer i.
func LayerName(i int) string {
	return "layer." + strconv.Itoa(i)
}
