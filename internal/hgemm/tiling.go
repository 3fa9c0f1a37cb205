package hgemm

import (
	"fmt"

	"github.com/fxnlabs/hgemm/internal/gpu"
)

// Native matrix-multiply-accumulate fragment shape.
const (
	MMAM = 16
	MMAN = 16
	MMAK = 16
)

// vecElems is the number of half values moved by one 16-byte vector
// load or store.
const vecElems = 8

// Tiling is the immutable tile configuration of the pipelined kernel.
// Sizes are in elements unless noted otherwise.
type Tiling struct {
	Name string `yaml:"name"`

	// BlockRows × BlockCols is the output tile of one thread block.
	BlockRows int `yaml:"blockRows"`
	BlockCols int `yaml:"blockCols"`

	// WarpRows × WarpCols is the output sub-tile of one warp.
	WarpRows int `yaml:"warpRows"`
	WarpCols int `yaml:"warpCols"`

	// ChunkK is the K width of one pipeline stage, in MMAK steps.
	ChunkK int `yaml:"chunkK"`

	// Stages is the number of shared memory stage buffers.
	Stages int `yaml:"stages"`

	// BlockStride is the number of grid columns that split N.
	BlockStride int `yaml:"blockStride"`

	// SkewPadding pads shared memory rows to spread bank accesses.
	SkewPadding int `yaml:"skewPadding"`

	WarpSize int `yaml:"warpSize"`
}

// Presets.
var (
	MMAAsyncStage2 = Tiling{
		Name:        "mma_async_stage2",
		BlockRows:   256,
		BlockCols:   128,
		WarpRows:    64,
		WarpCols:    64,
		ChunkK:      2,
		Stages:      2,
		BlockStride: 16,
		SkewPadding: 8,
		WarpSize:    32,
	}

	MMAAsyncStage3 = Tiling{
		Name:        "mma_async_stage3",
		BlockRows:   256,
		BlockCols:   128,
		WarpRows:    64,
		WarpCols:    64,
		ChunkK:      2,
		Stages:      3,
		BlockStride: 16,
		SkewPadding: 8,
		WarpSize:    32,
	}

	MMAAsyncStage2Small = Tiling{
		Name:        "mma_async_stage2_small",
		BlockRows:   64,
		BlockCols:   64,
		WarpRows:    32,
		WarpCols:    32,
		ChunkK:      2,
		Stages:      2,
		BlockStride: 4,
		SkewPadding: 8,
		WarpSize:    32,
	}
)

// Presets returns the built-in tilings.
func Presets() []Tiling {
	return []Tiling{MMAAsyncStage2, MMAAsyncStage3, MMAAsyncStage2Small}
}

// BlockRowWarps is the number of warps along N.
func (t Tiling) BlockRowWarps() int { return t.BlockCols / t.WarpCols }

// BlockColWarps is the number of warps along M.
func (t Tiling) BlockColWarps() int { return t.BlockRows / t.WarpRows }

// WarpsPerBlock is the number of warps in a block.
func (t Tiling) WarpsPerBlock() int { return t.BlockRowWarps() * t.BlockColWarps() }

// ThreadsPerBlock is the number of lanes in a block.
func (t Tiling) ThreadsPerBlock() int { return t.WarpsPerBlock() * t.WarpSize }

// BlockRowTiles is the number of MMA tiles a block covers along M.
func (t Tiling) BlockRowTiles() int { return t.BlockRows / MMAM }

// BlockColTiles is the number of MMA tiles a block covers along N.
func (t Tiling) BlockColTiles() int { return t.BlockCols / MMAN }

// WarpRowTiles is the number of accumulator fragments of a warp along M.
func (t Tiling) WarpRowTiles() int { return t.WarpRows / MMAM }

// WarpColTiles is the number of accumulator fragments of a warp along N.
func (t Tiling) WarpColTiles() int { return t.WarpCols / MMAN }

// ChunkElems is the K width of one stage in elements.
func (t Tiling) ChunkElems() int { return t.ChunkK * MMAK }

// ABStride is the row stride of the A and B stage buffers.
func (t Tiling) ABStride() int { return t.ChunkElems() + t.SkewPadding }

// CStride is the row stride of the output staging buffer.
func (t Tiling) CStride() int { return t.BlockCols + t.SkewPadding }

// StageElems is the size of one stage buffer (A rows then B rows).
func (t Tiling) StageElems() int { return (t.BlockRows + t.BlockCols) * t.ABStride() }

// InputStagingBytes is the shared memory used by all input stages.
func (t Tiling) InputStagingBytes() int { return t.Stages * t.StageElems() * 2 }

// OutputStagingBytes is the shared memory used to stage the output tile.
func (t Tiling) OutputStagingBytes() int { return t.BlockRows * t.CStride() * 2 }

// SharedMemBytes is the dynamic shared memory of one block. Input and
// output staging reuse the same arena, so the larger of the two wins.
func (t Tiling) SharedMemBytes() int {
	return max(t.InputStagingBytes(), t.OutputStagingBytes())
}

// Validate checks that the tile sizes nest.
func (t Tiling) Validate() error {
	switch {
	case t.BlockRows <= 0 || t.BlockCols <= 0 || t.WarpRows <= 0 || t.WarpCols <= 0:
		return fmt.Errorf("%w: %s: tile sizes must be positive", ErrInvalidTiling, t.Name)
	case t.ChunkK <= 0 || t.BlockStride <= 0 || t.WarpSize <= 0 || t.SkewPadding < 0:
		return fmt.Errorf("%w: %s: chunk, stride, warp size must be positive", ErrInvalidTiling, t.Name)
	case t.Stages < 2:
		return fmt.Errorf("%w: %s: at least 2 pipeline stages are required, got %d", ErrInvalidTiling, t.Name, t.Stages)
	case t.WarpRows%MMAM != 0 || t.WarpCols%MMAN != 0:
		return fmt.Errorf("%w: %s: warp tile %dx%d is not a multiple of the %dx%d fragment",
			ErrInvalidTiling, t.Name, t.WarpRows, t.WarpCols, MMAM, MMAN)
	case t.BlockRows%t.WarpRows != 0 || t.BlockCols%t.WarpCols != 0:
		return fmt.Errorf("%w: %s: block tile %dx%d is not a multiple of the warp tile %dx%d",
			ErrInvalidTiling, t.Name, t.BlockRows, t.BlockCols, t.WarpRows, t.WarpCols)
	case t.BlockRows%t.WarpsPerBlock() != 0:
		return fmt.Errorf("%w: %s: %d block rows cannot be split over %d warps",
			ErrInvalidTiling, t.Name, t.BlockRows, t.WarpsPerBlock())
	case t.BlockCols%vecElems != 0 || t.SkewPadding%vecElems != 0:
		return fmt.Errorf("%w: %s: block columns and skew must be multiples of %d",
			ErrInvalidTiling, t.Name, vecElems)
	}
	return nil
}

// KMultiple is the granularity K must be a multiple of.
func (t Tiling) KMultiple() int { return t.ChunkElems() }

// Grid returns the launch grid for an M×N output. X strides N in
// BlockStride groups, Y tiles M, Z tiles the N stripes.
func (t Tiling) Grid(m, n int) gpu.Dim3 {
	return gpu.Dim3{
		X: t.BlockStride,
		Y: ceilDiv(m, t.BlockRows),
		Z: ceilDiv(n, t.BlockCols*t.BlockStride),
	}
}

// Block returns the launch block shape.
func (t Tiling) Block() gpu.Dim3 {
	return gpu.Dim3{X: t.ThreadsPerBlock(), Y: 1, Z: 1}
}

// BlockOrigin returns the first output row and column of block idx. Odd
// N stripes walk M from the bottom so consecutive blocks on one
// multiprocessor revisit recently used rows. ok is false for blocks
// whose origin falls past the ceiling tile count of M or N; those
// blocks exit without touching memory.
func (t Tiling) BlockOrigin(idx, grid gpu.Dim3, m, n int) (row, col int, ok bool) {
	mTiles := ceilDiv(m, MMAM)
	nTiles := ceilDiv(n, MMAN)

	var tileI int
	if idx.Z%2 == 1 {
		tileI = (grid.Y - idx.Y - 1) * t.BlockRowTiles()
	} else {
		tileI = idx.Y * t.BlockRowTiles()
	}
	tileJ := (idx.Z*grid.X + idx.X) * t.BlockColTiles()

	if tileI >= mTiles || tileJ >= nTiles {
		return 0, 0, false
	}
	return tileI * MMAM, tileJ * MMAN, true
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
