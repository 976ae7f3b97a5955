//go:build amd64

package cpufeat

import "golang.org/x/sys/cpu"

// HostProbe reads the CPUID-derived flags collected by x/sys/cpu.
//
// x/sys/cpu only reports HasAVX when CPUID.1:ECX advertises AVX and OSXSAVE
// and XGETBV shows the XMM and YMM state bits (XCR0 bits 1 and 2) enabled,
// so HasAVX doubles as the state-enable check for AVX2. The vector kernels
// issue fused multiply-adds, so FMA is part of the ISA requirement.
func HostProbe() Features {
	return Features{
		VectorISA:    cpu.X86.HasAVX2 && cpu.X86.HasFMA,
		StateEnabled: cpu.X86.HasOSXSAVE && cpu.X86.HasAVX,
		FMA:          cpu.X86.HasFMA,
		Name:         "avx2",
	}
}
