package transport

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// File is the local-disk fetcher. It maps the blob read-only when the
// platform allows it and reads with ReadAt otherwise.
type File struct {
	f      *os.File
	data   []byte
	size   int64
	closed bool
}

// OpenFile opens path for fetching. With useMmap false, or when mapping
// fails, every fetch is a ReadAt.
func OpenFile(path string, useMmap bool) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size := st.Size()
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		_ = f.Close()
		return nil, fmt.Errorf("transport: %s: unsupported size %d", path, size)
	}
	ff := &File{f: f, size: size}
	if useMmap && size > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			ff.data = data
		}
	}
	return ff, nil
}

// Size is the file length.
func (f *File) Size() int64 { return f.size }

// Mapped reports whether fetches are served from a memory mapping.
func (f *File) Mapped() bool { return f.data != nil }

func (f *File) FetchAt(ctx context.Context, dst []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkRange(off, len(dst), f.size); err != nil {
		return 0, err
	}
	if f.data != nil {
		n := copy(dst, f.data[off:])
		if n < len(dst) {
			return n, io.ErrUnexpectedEOF
		}
		return n, nil
	}
	n, err := f.f.ReadAt(dst, off)
	if n == len(dst) {
		return n, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Close unmaps and closes the file.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	var err error
	if f.data != nil {
		err = unix.Munmap(f.data)
		f.data = nil
	}
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	return err
}
