package hgemm

import (
	"testing"

	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiling_Derived(t *testing.T) {
	tests := []struct {
		tiling     Tiling
		warps      int
		threads    int
		abStride   int
		cStride    int
		smemBytes  int
		kMultiple  int
		warpTilesM int
		warpTilesN int
	}{
		{MMAAsyncStage2, 8, 256, 40, 136, 69632, 32, 4, 4},
		{MMAAsyncStage3, 8, 256, 40, 136, 92160, 32, 4, 4},
		{MMAAsyncStage2Small, 4, 128, 40, 72, 20480, 32, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.tiling.Name, func(t *testing.T) {
			require.NoError(t, tt.tiling.Validate())
			assert.Equal(t, tt.warps, tt.tiling.WarpsPerBlock())
			assert.Equal(t, tt.threads, tt.tiling.ThreadsPerBlock())
			assert.Equal(t, tt.abStride, tt.tiling.ABStride())
			assert.Equal(t, tt.cStride, tt.tiling.CStride())
			assert.Equal(t, tt.smemBytes, tt.tiling.SharedMemBytes())
			assert.Equal(t, tt.kMultiple, tt.tiling.KMultiple())
			assert.Equal(t, tt.warpTilesM, tt.tiling.WarpRowTiles())
			assert.Equal(t, tt.warpTilesN, tt.tiling.WarpColTiles())
		})
	}
}

func TestTiling_SharedMemBytesIsMaxOfStaging(t *testing.T) {
	for _, tiling := range Presets() {
		smem := tiling.SharedMemBytes()
		assert.GreaterOrEqual(t, smem, tiling.InputStagingBytes(), tiling.Name)
		assert.GreaterOrEqual(t, smem, tiling.OutputStagingBytes(), tiling.Name)
		assert.True(t, smem == tiling.InputStagingBytes() || smem == tiling.OutputStagingBytes(), tiling.Name)
	}
	// The default two stage preset is bound by its output staging.
	assert.Equal(t, MMAAsyncStage2.OutputStagingBytes(), MMAAsyncStage2.SharedMemBytes())
}

func TestTiling_Validate(t *testing.T) {
	mutate := func(f func(*Tiling)) Tiling {
		tl := MMAAsyncStage2Small
		f(&tl)
		return tl
	}
	tests := map[string]Tiling{
		"zero block rows":         mutate(func(tl *Tiling) { tl.BlockRows = 0 }),
		"single stage":            mutate(func(tl *Tiling) { tl.Stages = 1 }),
		"warp tile not fragments": mutate(func(tl *Tiling) { tl.WarpRows = 24 }),
		"block not warp multiple": mutate(func(tl *Tiling) { tl.BlockCols = 80 }),
		"negative skew":           mutate(func(tl *Tiling) { tl.SkewPadding = -8 }),
		"unaligned skew":          mutate(func(tl *Tiling) { tl.SkewPadding = 4 }),
		"zero chunk":              mutate(func(tl *Tiling) { tl.ChunkK = 0 }),
	}
	for name, tl := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, tl.Validate(), ErrInvalidTiling)
		})
	}
}

func TestTiling_Grid(t *testing.T) {
	assert.Equal(t, gpu.Dim3{X: 16, Y: 1, Z: 1}, MMAAsyncStage2.Grid(256, 256))
	assert.Equal(t, gpu.Dim3{X: 16, Y: 16, Z: 2}, MMAAsyncStage2.Grid(4096, 4096))
	assert.Equal(t, gpu.Dim3{X: 4, Y: 4, Z: 2}, MMAAsyncStage2Small.Grid(256, 512))
	assert.Equal(t, gpu.Dim3{X: 256, Y: 1, Z: 1}, MMAAsyncStage2.Block())
}

func TestTiling_BlockOrigin(t *testing.T) {
	t.Run("blocks tile the output exactly once", func(t *testing.T) {
		shapes := []struct {
			tiling Tiling
			m, n   int
		}{
			{MMAAsyncStage2Small, 256, 512},
			{MMAAsyncStage2Small, 192, 64},
			{MMAAsyncStage2, 256, 256},
			{MMAAsyncStage2, 512, 4096},
		}
		for _, s := range shapes {
			grid := s.tiling.Grid(s.m, s.n)
			covered := make([]int, s.m*s.n)
			for z := 0; z < grid.Z; z++ {
				for y := 0; y < grid.Y; y++ {
					for x := 0; x < grid.X; x++ {
						row, col, ok := s.tiling.BlockOrigin(gpu.Dim3{X: x, Y: y, Z: z}, grid, s.m, s.n)
						if !ok {
							continue
						}
						for r := row; r < row+s.tiling.BlockRows; r++ {
							for c := col; c < col+s.tiling.BlockCols; c++ {
								covered[r*s.n+c]++
							}
						}
					}
				}
			}
			for i, n := range covered {
				require.Equal(t, 1, n, "%s %dx%d element %d", s.tiling.Name, s.m, s.n, i)
			}
		}
	})

	t.Run("odd stripes walk M backwards", func(t *testing.T) {
		tl := MMAAsyncStage2Small
		grid := tl.Grid(256, 512)
		row, col, ok := tl.BlockOrigin(gpu.Dim3{X: 0, Y: 0, Z: 0}, grid, 256, 512)
		require.True(t, ok)
		assert.Equal(t, 0, row)
		assert.Equal(t, 0, col)

		row, col, ok = tl.BlockOrigin(gpu.Dim3{X: 1, Y: 0, Z: 1}, grid, 256, 512)
		require.True(t, ok)
		assert.Equal(t, 192, row)
		assert.Equal(t, 320, col)
	})

	t.Run("blocks past N exit", func(t *testing.T) {
		grid := MMAAsyncStage2.Grid(256, 256)
		_, _, ok := MMAAsyncStage2.BlockOrigin(gpu.Dim3{X: 1, Y: 0, Z: 0}, grid, 256, 256)
		assert.True(t, ok)
		_, _, ok = MMAAsyncStage2.BlockOrigin(gpu.Dim3{X: 2, Y: 0, Z: 0}, grid, 256, 256)
		assert.False(t, ok)
	})
}
