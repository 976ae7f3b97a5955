package cpufeat

import "testing"

func countingProbe(f Features, calls *int) Probe {
	return func() Features {
		*calls++
		return f
	}
}

func TestGateProbesOnce(t *testing.T) {
	t.Setenv(EnvNoSIMD, "")
	calls := 0
	g := NewGate(countingProbe(Features{VectorISA: true, StateEnabled: true, Name: "test"}, &calls))

	first := g.VectorPathSafe()
	second := g.VectorPathSafe()
	if first != second {
		t.Fatalf("verdict changed between calls: %v then %v", first, second)
	}
	if !first {
		t.Fatal("expected vector path to be safe")
	}
	_ = g.Verdict()
	if calls != 1 {
		t.Fatalf("probe called %d times, want 1", calls)
	}
}

func TestGateRequiresEnabledState(t *testing.T) {
	t.Setenv(EnvNoSIMD, "")
	tests := []struct {
		name string
		f    Features
		want bool
	}{
		{"present and enabled", Features{VectorISA: true, StateEnabled: true}, true},
		{"present but disabled", Features{VectorISA: true}, false},
		{"enabled without extension", Features{StateEnabled: true}, false},
		{"nothing", Features{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(Fixed(tt.f))
			if got := g.VectorPathSafe(); got != tt.want {
				t.Fatalf("VectorPathSafe() = %v, want %v", got, tt.want)
			}
			v := g.Verdict()
			if !v.Tested {
				t.Fatal("verdict not marked tested")
			}
		})
	}
}

func TestGateEnvOverrideSkipsProbe(t *testing.T) {
	t.Setenv(EnvNoSIMD, "1")
	calls := 0
	g := NewGate(countingProbe(Features{VectorISA: true, StateEnabled: true}, &calls))
	if g.VectorPathSafe() {
		t.Fatal("expected scalar verdict with override set")
	}
	if calls != 0 {
		t.Fatalf("probe called %d times with override set", calls)
	}
}

func TestHostGateIsStable(t *testing.T) {
	g := Host()
	if g.VectorPathSafe() != g.VectorPathSafe() {
		t.Fatal("host verdict not stable")
	}
}
