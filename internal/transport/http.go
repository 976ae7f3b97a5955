package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// HTTP fetches byte ranges of a blob served over HTTP. Servers that answer
// 206 Partial Content are read directly; a server that ignores Range and
// answers 200 has its body skipped up to the offset.
type HTTP struct {
	URL    string
	Client *http.Client
	// Header is added to every request.
	Header http.Header
}

// NewHTTP returns a fetcher for url using http.DefaultClient.
func NewHTTP(url string) *HTTP {
	return &HTTP{URL: url}
}

func (h *HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

func (h *HTTP) FetchAt(ctx context.Context, dst []byte, off int64) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: offset %d", ErrOutOfRange, off)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return 0, err
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	last := off + int64(len(dst)) - 1
	req.Header.Set("Range", "bytes="+strconv.FormatInt(off, 10)+"-"+strconv.FormatInt(last, 10))

	resp, err := h.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, err := contentRangeStart(resp.Header.Get("Content-Range"))
		if err != nil {
			return 0, err
		}
		if start >= 0 && start != off {
			return 0, fmt.Errorf("transport: server returned range starting at %d, asked for %d", start, off)
		}
	case http.StatusOK:
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			if err == io.EOF {
				return 0, fmt.Errorf("%w: offset %d", ErrOutOfRange, off)
			}
			return 0, err
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, fmt.Errorf("%w: bytes %d-%d", ErrOutOfRange, off, last)
	default:
		return 0, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return io.ReadFull(resp.Body, dst)
}

// contentRangeStart parses the first byte position of "bytes a-b/size".
// A missing header is accepted.
func contentRangeStart(v string) (int64, error) {
	if v == "" {
		return -1, nil
	}
	rest, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, fmt.Errorf("transport: bad Content-Range %q", v)
	}
	a, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, fmt.Errorf("transport: bad Content-Range %q", v)
	}
	n, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("transport: bad Content-Range %q: %w", v, err)
	}
	return n, nil
}
