package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		format Format
		want   string
	}{
		{FormatJSON, `"layer":3`},
		{FormatText, "layer=3"},
		{FormatPretty, "layer=3"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		log := New(&buf, Options{Format: tc.format, Level: slog.LevelInfo, NoColor: true})
		log.Info("fetched region", "layer", 3)
		out := buf.String()
		if !strings.Contains(out, "fetched region") || !strings.Contains(out, tc.want) {
			t.Errorf("%s: got %q, want it to contain %q", tc.format, out, tc.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, Options{Format: FormatJSON, Level: slog.LevelWarn})
	log.Info("dropped")
	if buf.Len() > 0 {
		t.Fatalf("info written at warn level: %s", buf.String())
	}
	if log.Enabled(slog.LevelInfo) || !log.Enabled(slog.LevelError) {
		t.Fatal("Enabled disagrees with the configured level")
	}
	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn missing: %s", buf.String())
	}
}

func TestWithAndGroup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, Options{Format: FormatJSON, Level: slog.LevelInfo})
	log.With("component", "stream").WithGroup("region").Info("resident", "offset", 28)
	out := buf.String()
	if !strings.Contains(out, `"component":"stream"`) || !strings.Contains(out, `"region":{"offset":28}`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.Error("nothing")
	if log.Enabled(slog.LevelError) {
		t.Fatal("discard logger reports enabled")
	}
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	if l := Default(); OrDiscard(l) != l {
		t.Fatal("OrDiscard replaced a non-nil logger")
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
	var buf bytes.Buffer
	log := New(&buf, Options{Format: FormatText, Level: slog.LevelInfo})
	FromContext(WithContext(context.Background(), log)).Info("via context")
	if !strings.Contains(buf.String(), "via context") {
		t.Fatalf("message not routed through context logger: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"Error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	if f, err := ParseFormat(""); err != nil || f != FormatPretty {
		t.Fatalf("empty format = %q, %v", f, err)
	}
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Fatalf("JSON = %q, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("xml accepted")
	}
}

func TestPrettyHandler(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil, false)
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("nil options should log at info")
	}
	if h.WithGroup("") != h {
		t.Fatal("empty group should return the receiver")
	}

	log := slog.New(h.WithAttrs([]slog.Attr{slog.String("src", "http")}).WithGroup("a").WithGroup("b"))
	log.Warn("retry", "note", "short read", "plain", "ok", slog.Group("g", "n", 1))
	out := buf.String()
	for _, want := range []string{"WRN retry", "src=http", `a.b.note="short read"`, "a.b.plain=ok", "a.b.g.n=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("colour codes written with colour disabled: %q", out)
	}
}

func TestPrettyColour(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil, true)).Error("boom")
	if !strings.Contains(buf.String(), ansiRed+"ERR"+ansiReset) {
		t.Fatalf("error level not coloured: %q", buf.String())
	}
}

func TestFormatValue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		v    slog.Value
		want string
	}{
		{slog.StringValue("simple"), "simple"},
		{slog.StringValue(""), `""`},
		{slog.StringValue("k=v"), `"k=v"`},
		{slog.StringValue("tab\there"), `"tab\there"`},
		{slog.IntValue(7), "7"},
	}
	for _, tc := range tests {
		if got := formatValue(tc.v); got != tc.want {
			t.Errorf("formatValue(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}
