package quant

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Block file constants must never change for version 1.
const (
	// FileMagic opens every quantised-block file.
	FileMagic = "QBLK"

	FileVersion uint32 = 1

	fileHeaderSize = 32
)

var (
	ErrInvalidMagic       = errors.New("quant: invalid block file magic")
	ErrUnsupportedVersion = errors.New("quant: unsupported block file version")
	ErrCorrupt            = errors.New("quant: corrupt block file")
)

// FileHeader is the fixed 32-byte little-endian preamble. Bits, Rows and Cols
// sit where earlier writers left reserved words.
type FileHeader struct {
	Magic     [4]byte
	Version   uint32
	Elements  uint32
	Groups    uint32
	GroupSize uint32
	Bits      uint32
	Rows      uint32
	Cols      uint32
}

// Valid checks the header's internal consistency.
func (h *FileHeader) Valid() bool {
	if string(h.Magic[:]) != FileMagic {
		return false
	}
	if h.GroupSize == 0 {
		return false
	}
	if uint64(h.Rows)*uint64(h.Cols) != uint64(h.Elements) {
		return false
	}
	want := (uint64(h.Elements) + uint64(h.GroupSize) - 1) / uint64(h.GroupSize)
	return uint64(h.Groups) == want
}

func (h *FileHeader) encode(dst []byte) {
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(dst[4:], h.Version)
	binary.LittleEndian.PutUint32(dst[8:], h.Elements)
	binary.LittleEndian.PutUint32(dst[12:], h.Groups)
	binary.LittleEndian.PutUint32(dst[16:], h.GroupSize)
	binary.LittleEndian.PutUint32(dst[20:], h.Bits)
	binary.LittleEndian.PutUint32(dst[24:], h.Rows)
	binary.LittleEndian.PutUint32(dst[28:], h.Cols)
}

func decodeFileHeader(src []byte) FileHeader {
	var h FileHeader
	copy(h.Magic[:], src[0:4])
	h.Version = binary.LittleEndian.Uint32(src[4:])
	h.Elements = binary.LittleEndian.Uint32(src[8:])
	h.Groups = binary.LittleEndian.Uint32(src[12:])
	h.GroupSize = binary.LittleEndian.Uint32(src[16:])
	h.Bits = binary.LittleEndian.Uint32(src[20:])
	h.Rows = binary.LittleEndian.Uint32(src[24:])
	h.Cols = binary.LittleEndian.Uint32(src[28:])
	return h
}

// WriteMatrix serialises m as a header followed by {scale, values} per group.
func WriteMatrix(w io.Writer, m *Matrix) error {
	if m == nil || !m.Format.valid() {
		return ErrFormat
	}
	if m.Rows < 0 || m.Cols < 0 || uint64(m.Len()) > math.MaxUint32 ||
		uint64(m.Rows) > math.MaxUint32 || uint64(m.Cols) > math.MaxUint32 {
		return fmt.Errorf("%w: %dx%d does not fit the header", ErrShape, m.Rows, m.Cols)
	}
	h := FileHeader{
		Version:   FileVersion,
		Elements:  uint32(m.Len()),
		Groups:    uint32(len(m.Blocks)),
		GroupSize: uint32(m.Format.GroupSize),
		Bits:      uint32(m.Format.Bits),
		Rows:      uint32(m.Rows),
		Cols:      uint32(m.Cols),
	}
	copy(h.Magic[:], FileMagic)
	if !h.Valid() {
		return fmt.Errorf("%w: block count %d does not match shape", ErrShape, len(m.Blocks))
	}

	var hdr [fileHeaderSize]byte
	h.encode(hdr[:])
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	rec := make([]byte, 4+m.Format.packedBytes())
	for i := range m.Blocks {
		b := &m.Blocks[i]
		binary.LittleEndian.PutUint32(rec, math.Float32bits(b.Scale))
		packValues(m.Format, rec[4:], b.Values)
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// ReadMatrix parses a block file with no block limit.
func ReadMatrix(r io.Reader) (*Matrix, error) {
	return Codec{}.ReadMatrix(r)
}

// ReadMatrix parses a block file written by WriteMatrix.
func (c Codec) ReadMatrix(r io.Reader) (*Matrix, error) {
	var hdr [fileHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	h := decodeFileHeader(hdr[:])
	if string(h.Magic[:]) != FileMagic {
		return nil, ErrInvalidMagic
	}
	if h.Version != FileVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if !h.Valid() {
		return nil, ErrCorrupt
	}
	f, ok := formatFor(int(h.GroupSize), int(h.Bits))
	if !ok {
		return nil, fmt.Errorf("%w: group size %d, %d bits", ErrFormat, h.GroupSize, h.Bits)
	}
	blocks, err := c.allocBlocks(f, int(h.Groups))
	if err != nil {
		return nil, err
	}
	rec := make([]byte, 4+f.packedBytes())
	for i := range blocks {
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrCorrupt, i, err)
		}
		blocks[i].Scale = math.Float32frombits(binary.LittleEndian.Uint32(rec))
		unpackValues(f, blocks[i].Values, rec[4:])
		for _, v := range blocks[i].Values {
			if int(v) > f.MaxQ || int(v) < -f.MaxQ {
				return nil, fmt.Errorf("%w: block %d value %d out of range", ErrCorrupt, i, v)
			}
		}
	}
	return &Matrix{Format: f, Blocks: blocks, Rows: int(h.Rows), Cols: int(h.Cols)}, nil
}

// packValues stores 8-bit values as bytes and 6-bit values four to three
// bytes, little-endian within each 24-bit word.
func packValues(f Format, dst []byte, vals []int8) {
	if f.Bits == 8 {
		for i, v := range vals {
			dst[i] = byte(v)
		}
		return
	}
	for i, o := 0, 0; i+3 < len(vals); i, o = i+4, o+3 {
		word := uint32(vals[i])&0x3f |
			(uint32(vals[i+1])&0x3f)<<6 |
			(uint32(vals[i+2])&0x3f)<<12 |
			(uint32(vals[i+3])&0x3f)<<18
		dst[o] = byte(word)
		dst[o+1] = byte(word >> 8)
		dst[o+2] = byte(word >> 16)
	}
}

func unpackValues(f Format, dst []int8, src []byte) {
	if f.Bits == 8 {
		for i := range dst {
			dst[i] = int8(src[i])
		}
		return
	}
	for i, o := 0, 0; i+3 < len(dst); i, o = i+4, o+3 {
		word := uint32(src[o]) | uint32(src[o+1])<<8 | uint32(src[o+2])<<16
		dst[i] = signExtend6(word)
		dst[i+1] = signExtend6(word >> 6)
		dst[i+2] = signExtend6(word >> 12)
		dst[i+3] = signExtend6(word >> 18)
	}
}

func signExtend6(v uint32) int8 {
	return int8(uint8(v&0x3f)<<2) >> 2
}
