package codec

import "github.com/klauspost/cpuid/v2"

// Backend names the two interchangeable Reed-Solomon implementations
// the spec requires: a portable pure-Go path and an accelerated path
// that uses whatever SIMD extension the running CPU supports. Both are
// backed by klauspost/reedsolomon; the difference is entirely in which
// options are passed to reedsolomon.New, so the two backends are
// observationally equivalent by construction — the same matrix math
// runs either through Go code or through assembly kernels.
type Backend int

const (
	BackendPortable Backend = iota
	BackendAccelerated
)

func (b Backend) String() string {
	if b == BackendAccelerated {
		return "accelerated"
	}
	return "portable"
}

// SelectBackend is run once per process at startup. It picks the
// accelerated backend when the CPU advertises AVX2 or better, and falls
// back to the portable backend otherwise (including on non-amd64
// architectures where klauspost/reedsolomon has no asm kernels at all —
// requesting the accelerated backend there is harmless, since the
// library silently falls back to generic Go, but SelectBackend still
// reports "portable" so callers observe accurate provenance).
func SelectBackend() Backend {
	if cpuid.CPU.Supports(cpuid.AVX2) {
		return BackendAccelerated
	}
	return BackendPortable
}
