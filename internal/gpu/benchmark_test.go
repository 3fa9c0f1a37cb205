package gpu

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func BenchmarkEmulatedBackend_Launch(b *testing.B) {
	backend := NewEmulatedBackend(zap.NewNop(), EmulatedConfig{})
	require.NoError(b, backend.Initialize())
	defer backend.Cleanup()

	grids := []Dim3{{1, 1, 1}, {16, 4, 1}, {16, 16, 2}}

	for _, grid := range grids {
		b.Run(fmt.Sprintf("grid_%d", grid.Size()), func(b *testing.B) {
			cfg := LaunchConfig{Kernel: "barrier", Grid: grid, Block: Dim3{256, 1, 1}, SharedMemBytes: 4 << 10}
			for i := 0; i < b.N; i++ {
				err := backend.Launch(context.Background(), cfg, func(blk *Block) error {
					return blk.RunWarps(func(w *Warp) {
						w.SyncThreads()
						w.SyncThreads()
					})
				})
				if err != nil {
					b.Fatal(err)
				}
			}
			b.ReportMetric(float64(grid.Size()*b.N)/b.Elapsed().Seconds(), "blocks/s")
		})
	}
}

func BenchmarkCopyPipeline(b *testing.B) {
	src := make([]float32, 4096)
	for i := range src {
		src[i] = float32(i % 100)
	}
	halves := Float32ToHalf(src)
	dst := make([]float32, len(src))
	dstHalves := Float32ToHalf(dst)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := NewCopyPipeline(DefaultMaxCopyGroups)
		for off := 0; off < len(halves); off += 8 {
			p.Issue(dstHalves[off:off+8], halves[off:off+8])
		}
		p.Commit()
		p.Wait(0)
	}
	b.ReportMetric(float64(len(halves)*2*b.N)/(1<<20)/b.Elapsed().Seconds(), "MB/s")
}
