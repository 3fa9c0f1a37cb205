package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/hgemm/internal/gpu"
)

// printBanner writes the title and a device summary to w.
func printBanner(w io.Writer, backend string, info gpu.DeviceInfo) {
	myFigure := figure.NewFigure("hgemm", "", true)
	fmt.Fprintln(w, myFigure.String())

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Backend: %s\n", backend))
	sb.WriteString(fmt.Sprintf("Device: %s\n", info.Name))
	sb.WriteString(fmt.Sprintf("  Features: %s\n", info.ComputeCapability))
	sb.WriteString(fmt.Sprintf("  Multiprocessors: %d\n", info.MultiprocessorCount))
	sb.WriteString(fmt.Sprintf("  Shared memory: %d KiB per multiprocessor, %d KiB opt-in per block\n",
		info.SharedMemPerMultiprocessor>>10, info.SharedMemPerBlockOptin>>10))
	sb.WriteString(fmt.Sprintf("  Memory: %d MB total, %d MB available\n",
		info.TotalMemory>>20, info.AvailableMemory>>20))
	sb.WriteString("-----------------------------------------------\n")
	fmt.Fprint(w, sb.String())
}
