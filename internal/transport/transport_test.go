package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"github.com/samcharles93/lowmem/internal/stream"
	"github.com/samcharles93/lowmem/pkg/layout"
)

func blob(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + 7)
	}
	return b
}

func TestReaderAt(t *testing.T) {
	t.Parallel()
	data := blob(100)
	f := NewReaderAt(bytes.NewReader(data), int64(len(data)))
	dst := make([]byte, 10)
	n, err := f.FetchAt(context.Background(), dst, 40)
	if err != nil || n != 10 || !bytes.Equal(dst, data[40:50]) {
		t.Fatalf("FetchAt = %d, %v", n, err)
	}
	if n, err := f.FetchAt(context.Background(), dst, 95); !errors.Is(err, io.ErrUnexpectedEOF) || n != 5 {
		t.Fatalf("tail fetch = %d, %v", n, err)
	}
	if _, err := f.FetchAt(context.Background(), dst, 100); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("past-end fetch err = %v", err)
	}
}

func TestFile(t *testing.T) {
	t.Parallel()
	data := blob(4096 + 13)
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, useMmap := range []bool{true, false} {
		f, err := OpenFile(path, useMmap)
		if err != nil {
			t.Fatal(err)
		}
		if !useMmap && f.Mapped() {
			t.Fatal("mapped with mmap disabled")
		}
		if f.Size() != int64(len(data)) {
			t.Fatalf("Size = %d", f.Size())
		}
		dst := make([]byte, 300)
		n, err := f.FetchAt(context.Background(), dst, 4000)
		if err != nil || n != 300 || !bytes.Equal(dst, data[4000:4300]) {
			t.Fatalf("mmap=%v: FetchAt = %d, %v", useMmap, n, err)
		}
		if _, err := f.FetchAt(context.Background(), make([]byte, 100), 4050); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("mmap=%v: short read err = %v", useMmap, err)
		}
		if err := f.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := f.FetchAt(context.Background(), dst, 0); !errors.Is(err, ErrClosed) {
			t.Fatalf("fetch after close err = %v", err)
		}
	}
}

func TestHTTPRange(t *testing.T) {
	t.Parallel()
	data := blob(5000)
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		http.ServeContent(w, r, "model.bin", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	f := &HTTP{URL: srv.URL, Client: srv.Client(), Header: http.Header{"X-Test": {"1"}}}
	dst := make([]byte, 256)
	n, err := f.FetchAt(context.Background(), dst, 1000)
	if err != nil || n != 256 {
		t.Fatalf("FetchAt = %d, %v", n, err)
	}
	if gotRange != "bytes=1000-1255" {
		t.Fatalf("Range header = %q", gotRange)
	}
	if !bytes.Equal(dst, data[1000:1256]) {
		t.Fatal("wrong bytes")
	}
	if _, err := f.FetchAt(context.Background(), dst, 9000); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("unsatisfiable range err = %v", err)
	}
}

func TestHTTPIgnoredRange(t *testing.T) {
	t.Parallel()
	data := blob(3000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	f := NewHTTP(srv.URL)
	dst := make([]byte, 100)
	n, err := f.FetchAt(context.Background(), dst, 2500)
	if err != nil || n != 100 || !bytes.Equal(dst, data[2500:2600]) {
		t.Fatalf("FetchAt = %d, %v", n, err)
	}
	if n, err := f.FetchAt(context.Background(), dst, 2950); !errors.Is(err, io.ErrUnexpectedEOF) || n != 50 {
		t.Fatalf("short body = %d, %v", n, err)
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL).FetchAt(context.Background(), make([]byte, 8), 0)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable || !se.Temporary() {
		t.Fatalf("err = %v", err)
	}
	if (&StatusError{Code: 404}).Temporary() {
		t.Fatal("404 reported temporary")
	}
}

func TestContentRangeStart(t *testing.T) {
	t.Parallel()
	if n, err := contentRangeStart("bytes 100-199/5000"); err != nil || n != 100 {
		t.Fatalf("got %d, %v", n, err)
	}
	if n, err := contentRangeStart(""); err != nil || n != -1 {
		t.Fatalf("empty header = %d, %v", n, err)
	}
	for _, bad := range []string{"items 1-2/3", "bytes x-2/3", "bytes 12"} {
		if _, err := contentRangeStart(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

// flaky fails its first failures calls with err, then serves data.
type flaky struct {
	data     []byte
	failures int
	err      error
	calls    int
}

func (f *flaky) FetchAt(_ context.Context, dst []byte, off int64) (int, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, f.err
	}
	return copy(dst, f.data[off:]), nil
}

func fastPolicy(retries uint64) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetry(t *testing.T) {
	t.Parallel()
	data := blob(64)
	f := &flaky{data: data, failures: 2, err: errors.New("reset")}
	dst := make([]byte, 16)
	n, err := Retry(f, fastPolicy(3), nil).FetchAt(context.Background(), dst, 8)
	if err != nil || n != 16 || !bytes.Equal(dst, data[8:24]) {
		t.Fatalf("FetchAt = %d, %v", n, err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
}

func TestRetryGivesUp(t *testing.T) {
	t.Parallel()
	boom := errors.New("reset")
	f := &flaky{data: blob(64), failures: 100, err: boom}
	_, err := Retry(f, fastPolicy(2), nil).FetchAt(context.Background(), make([]byte, 8), 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
}

func TestRetryPermanent(t *testing.T) {
	t.Parallel()
	tests := []error{
		ErrOutOfRange,
		&StatusError{Code: 404, Status: "404 Not Found"},
		context.Canceled,
	}
	for _, perm := range tests {
		f := &flaky{data: blob(64), failures: 100, err: perm}
		_, err := Retry(f, fastPolicy(5), nil).FetchAt(context.Background(), make([]byte, 8), 0)
		if !errors.Is(err, perm) {
			t.Errorf("err = %v, want %v", err, perm)
		}
		if f.calls != 1 {
			t.Errorf("%v retried %d times", perm, f.calls-1)
		}
	}
}

func TestRetryShortRead(t *testing.T) {
	t.Parallel()
	f := &flaky{data: blob(10)}
	n, err := Retry(f, fastPolicy(1), nil).FetchAt(context.Background(), make([]byte, 8), 5)
	if !errors.Is(err, io.ErrUnexpectedEOF) || n != 5 {
		t.Fatalf("FetchAt = %d, %v", n, err)
	}
	if f.calls != 2 {
		t.Fatalf("calls = %d, want 2", f.calls)
	}
}

func TestRateLimited(t *testing.T) {
	t.Parallel()
	f := RateLimited(&flaky{data: blob(64)}, rate.NewLimiter(rate.Every(time.Hour), 1))
	if _, err := f.FetchAt(context.Background(), make([]byte, 4), 0); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.FetchAt(ctx, make([]byte, 4), 0); err == nil {
		t.Fatal("second fetch was not limited")
	}

	open := RateLimited(&flaky{data: blob(64)}, PerSecond(0, 0))
	for range 5 {
		if _, err := open.FetchAt(context.Background(), make([]byte, 4), 0); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFallback(t *testing.T) {
	t.Parallel()
	data := blob(64)
	primary := &flaky{data: data, failures: 1, err: errors.New("offline")}
	secondary := &flaky{data: data}
	f := Fallback(primary, secondary, nil)

	dst := make([]byte, 8)
	if n, err := f.FetchAt(context.Background(), dst, 4); err != nil || n != 8 || !bytes.Equal(dst, data[4:12]) {
		t.Fatalf("FetchAt = %d, %v", n, err)
	}
	if secondary.calls != 1 {
		t.Fatalf("secondary calls = %d", secondary.calls)
	}
	if _, err := f.FetchAt(context.Background(), dst, 4); err != nil {
		t.Fatal(err)
	}
	if secondary.calls != 1 {
		t.Fatal("secondary used although primary recovered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled := Fallback(&flaky{failures: 1, err: context.Canceled}, secondary, nil)
	if _, err := cancelled.FetchAt(ctx, dst, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if secondary.calls != 1 {
		t.Fatal("fell back on a cancelled context")
	}
}

func TestInstrumented(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)
	data := blob(64)
	var f stream.Fetcher = Instrumented(&flaky{data: data, failures: 1, err: errors.New("x")}, "http", m)

	_, _ = f.FetchAt(context.Background(), make([]byte, 16), 0)
	_, _ = f.FetchAt(context.Background(), make([]byte, 16), 0)
	_, _ = f.FetchAt(context.Background(), make([]byte, 16), 56)

	if got := testutil.ToFloat64(m.Fetches.WithLabelValues("http", "error")); got != 1 {
		t.Errorf("error fetches = %v", got)
	}
	if got := testutil.ToFloat64(m.Fetches.WithLabelValues("http", "ok")); got != 1 {
		t.Errorf("ok fetches = %v", got)
	}
	if got := testutil.ToFloat64(m.Fetches.WithLabelValues("http", "short")); got != 1 {
		t.Errorf("short fetches = %v", got)
	}
	if got := testutil.ToFloat64(m.Bytes.WithLabelValues("http")); got != 24 {
		t.Errorf("bytes = %v, want 24", got)
	}
	if n := testutil.CollectAndCount(m.Latency); n != 1 {
		t.Errorf("latency series = %d", n)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), "lowmem_") {
			t.Errorf("metric %s lacks namespace", mf.GetName())
		}
	}
}

func TestStackedIntoBuffer(t *testing.T) {
	t.Parallel()
	data := blob(1 << 12)
	primary := &flaky{data: data, failures: 100, err: &StatusError{Code: 502, Status: "502 Bad Gateway"}}
	disk := NewReaderAt(bytes.NewReader(data), int64(len(data)))
	f := Fallback(Retry(primary, fastPolicy(1), nil), disk, nil)

	buf := stream.NewBuffer(1024, f)
	view, err := buf.Request(context.Background(), regionOf(512, 1024))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(view, data[512:1536]) {
		t.Fatal("buffer holds wrong bytes")
	}
	if primary.calls != 2 {
		t.Fatalf("primary calls = %d, want 2", primary.calls)
	}
}

func regionOf(off, size uint64) layout.Region {
	return layout.Region{Offset: off, Size: size}
}
