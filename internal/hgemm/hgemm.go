package hgemm

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxnlabs/hgemm/internal/gpu"
	"go.uber.org/zap"
)

// GEMM is a half-precision C = A·B kernel. A is M×K row-major, B is K×N
// column-major (N rows of K), C is M×N row-major.
type GEMM interface {
	Name() string
	// Setup prepares the kernel for launches on its backend. It is
	// idempotent.
	Setup() error
	Run(ctx context.Context, a, b, c gpu.DevicePtr, m, n, k int) error
	// Alignment returns the multiples M, N and K must be.
	Alignment() (m, n, k int)
}

// Kernel is the tiled, pipelined tensor-core GEMM.
type Kernel struct {
	tiling  Tiling
	backend gpu.Backend
	logger  *zap.Logger

	mu        sync.Mutex
	ready     bool
	smemBytes int
}

// NewKernel returns a pipelined kernel using tiling on backend.
func NewKernel(backend gpu.Backend, tiling Tiling, logger *zap.Logger) *Kernel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kernel{
		tiling:  tiling,
		backend: backend,
		logger:  logger.With(zap.String("kernel", tiling.Name)),
	}
}

func (k *Kernel) Name() string { return k.tiling.Name }

// Tiling returns the kernel's tile configuration.
func (k *Kernel) Tiling() Tiling { return k.tiling }

// SharedMemBytes returns the dynamic shared memory of one block.
func (k *Kernel) SharedMemBytes() int { return k.tiling.SharedMemBytes() }

func (k *Kernel) Alignment() (int, int, int) {
	return k.tiling.BlockRows, k.tiling.BlockCols, k.tiling.KMultiple()
}

// Setup computes the shared memory footprint and fails when a
// multiprocessor cannot hold one block, otherwise it raises the kernel's
// dynamic shared memory attribute to the footprint. Once it succeeds
// later calls return nil; a failed Setup may be retried.
func (k *Kernel) Setup() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ready {
		return nil
	}
	if err := k.setup(); err != nil {
		return err
	}
	k.ready = true
	return nil
}

func (k *Kernel) setup() error {
	t := k.tiling
	if err := t.Validate(); err != nil {
		return err
	}
	info := k.backend.GetDeviceInfo()
	if t.WarpSize != info.WarpSize {
		return fmt.Errorf("%w: %s: tiling warp size %d, device warp size %d",
			ErrInvalidTiling, t.Name, t.WarpSize, info.WarpSize)
	}

	k.smemBytes = t.SharedMemBytes()
	if k.smemBytes > info.SharedMemPerMultiprocessor {
		return fmt.Errorf("%w: %s needs %d bytes, device has %d per multiprocessor",
			ErrInsufficientSharedMemory, t.Name, k.smemBytes, info.SharedMemPerMultiprocessor)
	}
	if err := k.backend.SetMaxDynamicSharedMemory(t.Name, k.smemBytes); err != nil {
		return fmt.Errorf("setting shared memory attribute of %s: %w", t.Name, err)
	}

	k.logger.Debug("Kernel configured",
		zap.Int("shared_mem_bytes", k.smemBytes),
		zap.Int("warps_per_block", t.WarpsPerBlock()),
		zap.Int("stages", t.Stages))
	return nil
}

// Run computes C = A·B. M and N must be multiples of the block tile and
// K a multiple of the stage chunk; buffers must hold at least M×K, K×N
// and M×N elements.
func (k *Kernel) Run(ctx context.Context, a, b, c gpu.DevicePtr, m, n, kdim int) error {
	if err := k.Setup(); err != nil {
		return err
	}
	if err := checkProblem(k, a, b, c, m, n, kdim); err != nil {
		return err
	}

	t := k.tiling
	// Reinitializing the backend drops kernel attributes.
	if err := k.backend.SetMaxDynamicSharedMemory(t.Name, k.smemBytes); err != nil {
		return fmt.Errorf("setting shared memory attribute of %s: %w", t.Name, err)
	}
	cfg := gpu.LaunchConfig{
		Kernel:         t.Name,
		Grid:           t.Grid(m, n),
		Block:          t.Block(),
		SharedMemBytes: k.smemBytes,
		Args:           []gpu.DevicePtr{a, b, c},
	}
	k.logger.Debug("Launching kernel",
		zap.Stringer("grid", cfg.Grid),
		zap.Stringer("block", cfg.Block),
		zap.Int("m", m), zap.Int("n", n), zap.Int("k", kdim))

	ae, be, ce := a.Elems(), b.Elems(), c.Elems()
	return k.backend.Launch(ctx, cfg, func(blk *gpu.Block) error {
		row, col, ok := t.BlockOrigin(blk.Idx, blk.GridDim, m, n)
		if !ok {
			return nil
		}
		bt := &blockTile{t: t, a: ae, b: be, c: ce, m: m, n: n, k: kdim, row: row, col: col}
		return blk.RunWarps(bt.run)
	})
}

// checkProblem validates the problem shape against the kernel's
// alignment and the buffer sizes.
func checkProblem(g GEMM, a, b, c gpu.DevicePtr, m, n, k int) error {
	if m <= 0 || n <= 0 || k <= 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrInvalidProblem, m, n, k)
	}
	am, an, ak := g.Alignment()
	if m%am != 0 || n%an != 0 || k%ak != 0 {
		return fmt.Errorf("%w: %s needs M%%%d, N%%%d, K%%%d == 0, got %dx%dx%d",
			ErrUnalignedProblem, g.Name(), am, an, ak, m, n, k)
	}
	switch {
	case a.Len() < m*k:
		return fmt.Errorf("%w: A holds %d elements, need %d", ErrInvalidProblem, a.Len(), m*k)
	case b.Len() < k*n:
		return fmt.Errorf("%w: B holds %d elements, need %d", ErrInvalidProblem, b.Len(), k*n)
	case c.Len() < m*n:
		return fmt.Errorf("%w: C holds %d elements, need %d", ErrInvalidProblem, c.Len(), m*n)
	}
	return nil
}
