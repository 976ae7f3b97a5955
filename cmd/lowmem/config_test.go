package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/pkg/layout"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if c, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err != nil || c.ModelURL != "" {
		t.Fatalf("missing file = %+v, %v", c, err)
	}

	path := filepath.Join(dir, "config.yaml")
	body := "url: http://weights.local/model.bin\nretries: 7\nretry_wait: 250ms\nrate: 2.5\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.ModelURL != "http://weights.local/model.bin" || *c.Retries != 7 || *c.RetryWait != 250*time.Millisecond || *c.Rate != 2.5 {
		t.Fatalf("config = %+v", c)
	}

	if err := os.WriteFile(path, []byte("retries: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestApplySourceConfig(t *testing.T) {
	t.Parallel()
	retries := int64(9)
	wait := time.Second
	c := Config{ModelURL: "http://a/b", ModelPath: "/from/config", Retries: &retries, RetryWait: &wait}

	var src source
	cmd := &cli.Command{
		Name:  "t",
		Flags: src.flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applySourceConfig(cmd, c, &src)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"t", "--model", "/from/flag", "--retries", "2"}); err != nil {
		t.Fatal(err)
	}
	if src.path != "/from/flag" || src.retries != 2 {
		t.Fatalf("flags overridden by config: %+v", src)
	}
	if src.url != "http://a/b" || src.retryWait != time.Second {
		t.Fatalf("config not applied to unset flags: %+v", src)
	}
}

func writeTestBlob(t *testing.T) (string, []byte, layout.Config) {
	t.Helper()
	c := layout.Config{Dim: 16, HiddenDim: 32, NumLayers: 2, NumHeads: 2, NumKVHeads: 2, VocabSize: 8, SeqLen: 16, SharedClassifier: true}
	var buf bytes.Buffer
	if err := layout.WriteSynthetic(&buf, c, 3); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, buf.Bytes(), c
}

func TestSourceOpenLocal(t *testing.T) {
	t.Parallel()
	path, _, c := writeTestBlob(t)
	src := source{path: path}
	o, err := src.open(context.Background(), logger.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = o.Close() }()
	if o.model != c {
		t.Fatalf("model = %+v, want %+v", o.model, c)
	}
	if _, err := (&source{}).open(context.Background(), logger.Discard(), nil); err == nil {
		t.Fatal("open without a source succeeded")
	}
}

func TestSourceFallsBackToDisk(t *testing.T) {
	t.Parallel()
	path, data, c := writeTestBlob(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	src := source{path: path, url: srv.URL, retries: 1, retryWait: time.Millisecond, timeout: time.Second}
	sess, o, err := src.session(context.Background(), logger.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = o.Close() }()

	l, err := sess.Layer(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	r, _ := c.LayerRegion(1)
	raw, err := l.Raw(layout.TensorWQ)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, data[r.Offset:r.Offset+uint64(len(raw))]) {
		t.Fatal("layer bytes differ from blob")
	}
}

func TestHumanBytes(t *testing.T) {
	t.Parallel()
	tests := map[uint64]string{
		12:      "12 B",
		2048:    "2.0 KiB",
		5 << 20: "5.0 MiB",
	}
	for in, want := range tests {
		if got := humanBytes(in); got != want {
			t.Errorf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
