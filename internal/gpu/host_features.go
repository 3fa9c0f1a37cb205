package gpu

import (
	"strings"

	"golang.org/x/sys/cpu"
)

// hostFeatures summarizes the host CPU extensions relevant to half
// precision math. The emulated device reports it as its compute
// capability.
func hostFeatures() string {
	var features []string
	switch {
	case cpu.X86.HasAVX512F:
		features = append(features, "avx512f")
	case cpu.X86.HasAVX2:
		features = append(features, "avx2")
	case cpu.ARM64.HasASIMD:
		features = append(features, "asimd")
	}
	if cpu.X86.HasFMA {
		features = append(features, "fma")
	}
	if cpu.ARM64.HasFPHP && cpu.ARM64.HasASIMDHP {
		features = append(features, "fp16")
	}
	if len(features) == 0 {
		return "emulated"
	}
	return "emulated+" + strings.Join(features, "+")
}
