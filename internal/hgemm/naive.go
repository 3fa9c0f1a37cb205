package hgemm

import (
	"context"
	"fmt"

	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/x448/float16"
	"go.uber.org/zap"
)

// NaiveName is the registry name of the SIMT baseline.
const NaiveName = "simt_naive"

const naiveTile = 16

// NaiveKernel computes one output element per lane straight from global
// memory with float32 accumulation. It needs no shared memory and serves
// as the baseline the pipelined kernels are measured against.
type NaiveKernel struct {
	backend gpu.Backend
	logger  *zap.Logger
}

// NewNaiveKernel returns the baseline kernel on backend.
func NewNaiveKernel(backend gpu.Backend, logger *zap.Logger) *NaiveKernel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NaiveKernel{backend: backend, logger: logger.With(zap.String("kernel", NaiveName))}
}

func (k *NaiveKernel) Name() string { return NaiveName }

func (k *NaiveKernel) Setup() error { return nil }

func (k *NaiveKernel) Alignment() (int, int, int) { return 1, 1, 1 }

// Run computes C = A·B with a 16×16 output tile per block.
func (k *NaiveKernel) Run(ctx context.Context, a, b, c gpu.DevicePtr, m, n, kdim int) error {
	if err := checkProblem(k, a, b, c, m, n, kdim); err != nil {
		return err
	}
	cfg := gpu.LaunchConfig{
		Kernel: NaiveName,
		Grid:   gpu.Dim3{X: ceilDiv(n, naiveTile), Y: ceilDiv(m, naiveTile), Z: 1},
		Block:  gpu.Dim3{X: naiveTile * naiveTile, Y: 1, Z: 1},
		Args:   []gpu.DevicePtr{a, b, c},
	}
	k.logger.Debug("Launching kernel", zap.Stringer("grid", cfg.Grid))

	ae, be, ce := a.Elems(), b.Elems(), c.Elems()
	err := k.backend.Launch(ctx, cfg, func(blk *gpu.Block) error {
		return blk.RunWarps(func(w *gpu.Warp) {
			for lane := 0; lane < w.Size; lane++ {
				tid := w.ID*w.Size + lane
				row := blk.Idx.Y*naiveTile + tid/naiveTile
				col := blk.Idx.X*naiveTile + tid%naiveTile
				if row >= m || col >= n {
					continue
				}
				arow := ae[row*kdim : (row+1)*kdim]
				bcol := be[col*kdim : (col+1)*kdim]
				var sum float32
				for i := range arow {
					sum += arow[i].Float32() * bcol[i].Float32()
				}
				ce[row*n+col] = float16.Fromfloat32(sum)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("%s: %w", NaiveName, err)
	}
	return nil
}
