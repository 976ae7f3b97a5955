package layout

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"math/rand"
)

// WriteSynthetic writes a complete blob for c filled with deterministic
// pseudo-random weights. Matrices are uniform in [-0.1, 0.1); norm vectors
// are uniform in [0.9, 1.1). The same seed always yields the same bytes.
func WriteSynthetic(w io.Writer, c Config, seed int64) error {
	hdr, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(w, 1<<16)
	if _, err := bw.Write(hdr); err != nil {
		return err
	}
	r := rand.New(rand.NewSource(seed))
	var word [FloatSize]byte
	emit := func(n int, lo, span float32) error {
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(lo+span*r.Float32()))
			if _, err := bw.Write(word[:]); err != nil {
				return err
			}
		}
		return nil
	}

	if err := emit(c.VocabSize*c.Dim, -0.1, 0.2); err != nil {
		return err
	}
	for l := 0; l < c.NumLayers; l++ {
		for _, t := range c.Tensors() {
			lo, span := float32(-0.1), float32(0.2)
			if t.Rows == 1 {
				lo = 0.9
			}
			if err := emit(t.Elements(), lo, span); err != nil {
				return err
			}
		}
	}
	if err := emit(c.Dim, 0.9, 0.2); err != nil {
		return err
	}
	if !c.SharedClassifier {
		if err := emit(c.VocabSize*c.Dim, -0.1, 0.2); err != nil {
			return err
		}
	}
	return bw.Flush()
}
