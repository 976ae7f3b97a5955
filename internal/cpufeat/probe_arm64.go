//go:build arm64

package cpufeat

import "golang.org/x/sys/cpu"

// HostProbe reports Advanced SIMD. Its register state is architectural on
// arm64 and needs no separate enable check.
func HostProbe() Features {
	return Features{
		VectorISA:    cpu.ARM64.HasASIMD,
		StateEnabled: cpu.ARM64.HasASIMD,
		FMA:          cpu.ARM64.HasASIMD,
		Name:         "neon",
	}
}
