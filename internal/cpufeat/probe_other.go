//go:build !amd64 && !arm64

package cpufeat

// HostProbe has no vector extension to offer on this architecture.
func HostProbe() Features {
	return Features{Name: "scalar"}
}
