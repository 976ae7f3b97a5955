// Package cpufeat decides, once per session, whether the vector kernels may
// run on this processor.
//
// The decision is made from CPU identification results only. A vector
// instruction is never executed to find out whether it works: on firmware
// without an OS there is nothing to catch the illegal-instruction fault.
package cpufeat

import (
	"os"
	"strings"
	"sync"
)

// EnvNoSIMD forces the scalar path when set to "1" or "true".
const EnvNoSIMD = "LOWMEM_NO_SIMD"

// Features is what a probe reports about the host.
type Features struct {
	// VectorISA is set when identification reports the vector extension.
	VectorISA bool
	// StateEnabled is set when the environment has enabled the register
	// state the extension needs (XCR0 on x86).
	StateEnabled bool
	FMA          bool
	Name         string
}

// Probe inspects processor identification. It must not execute vector code.
type Probe func() Features

// Verdict is the cached outcome of a probe.
type Verdict struct {
	VectorAvailable bool
	Tested          bool
	Features        Features
}

// Gate caches a single probe verdict. A negative verdict is a normal steady
// state on older or virtualised CPUs, not an error.
type Gate struct {
	probe   Probe
	once    sync.Once
	verdict Verdict
}

// NewGate returns a gate that will consult probe on first use.
// A nil probe means HostProbe.
func NewGate(probe Probe) *Gate {
	if probe == nil {
		probe = HostProbe
	}
	return &Gate{probe: probe}
}

// Host returns a gate backed by the host's identification flags.
func Host() *Gate {
	return NewGate(HostProbe)
}

// Fixed returns a probe that always reports f.
func Fixed(f Features) Probe {
	return func() Features { return f }
}

// VectorPathSafe reports whether vector kernels may be used.
// Only the first call runs the probe.
func (g *Gate) VectorPathSafe() bool {
	g.once.Do(g.evaluate)
	return g.verdict.VectorAvailable
}

// Verdict returns the cached verdict, probing first if needed.
func (g *Gate) Verdict() Verdict {
	g.once.Do(g.evaluate)
	return g.verdict
}

func (g *Gate) evaluate() {
	if disabledByEnv() {
		g.verdict = Verdict{Tested: true, Features: Features{Name: "disabled"}}
		return
	}
	f := g.probe()
	g.verdict = Verdict{
		VectorAvailable: f.VectorISA && f.StateEnabled,
		Tested:          true,
		Features:        f,
	}
}

func disabledByEnv() bool {
	v := strings.TrimSpace(os.Getenv(EnvNoSIMD))
	return v == "1" || strings.EqualFold(v, "true")
}
