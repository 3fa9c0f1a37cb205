package hgemm

import (
	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/x448/float16"
)

// blockTile is the work of one thread block: the output tile whose top
// left corner is (row, col).
type blockTile struct {
	t       Tiling
	a, b, c []float16.Float16
	m, n, k int
	row     int
	col     int
}

// registers is the per-warp register file: two slots of operand
// fragments, flipped every k-step, and the accumulators.
type registers struct {
	a   [2][]fragmentA
	b   [2][]fragmentB
	acc []accumulator
}

func newRegisters(t Tiling) *registers {
	rs := &registers{acc: make([]accumulator, t.WarpRowTiles()*t.WarpColTiles())}
	for i := range rs.a {
		rs.a[i] = make([]fragmentA, t.WarpRowTiles())
		rs.b[i] = make([]fragmentB, t.WarpColTiles())
	}
	return rs
}

// run is the body of one warp:
//
//	PROLOGUE-LOAD → {WAIT-COPY → BARRIER → COMPUTE+PREFETCH}* →
//	DRAIN-COMPUTE → BARRIER → STAGE-OUTPUT → BARRIER → WRITE-GLOBAL
//
// Every warp of the block executes the same number of barriers.
func (bt *blockTile) run(w *gpu.Warp) {
	t := bt.t
	smem := w.Block.Shared
	warpM := w.ID / t.BlockRowWarps()
	warpN := w.ID % t.BlockRowWarps()
	rs := newRegisters(t)
	chunks := bt.k / t.ChunkElems()

	// One copy group per prefetched chunk; groups past the last chunk
	// are empty so the wait depth stays constant.
	for s := 0; s < t.Stages-1; s++ {
		if s < chunks {
			bt.issueChunk(w, s, s)
		}
		w.CommitGroup()
	}
	w.WaitGroup(t.Stages - 2)
	w.SyncThreads()

	cur := 0
	bt.loadFragments(smem, 0, 0, warpM, warpN, rs, cur)

	for c := 0; c < chunks-1; c++ {
		// The stage written here was last read before the previous barrier.
		if next := c + t.Stages - 1; next < chunks {
			bt.issueChunk(w, next, next%t.Stages)
		}
		w.CommitGroup()

		stage := c % t.Stages
		for ks := 0; ks < t.ChunkK-1; ks++ {
			bt.loadFragments(smem, stage, ks+1, warpM, warpN, rs, cur^1)
			bt.mma(rs, cur)
			cur ^= 1
		}

		w.WaitGroup(t.Stages - 2)
		w.SyncThreads()

		bt.loadFragments(smem, (c+1)%t.Stages, 0, warpM, warpN, rs, cur^1)
		bt.mma(rs, cur)
		cur ^= 1
	}

	// Drain the k-steps of the last chunk.
	stage := (chunks - 1) % t.Stages
	for ks := 0; ks < t.ChunkK-1; ks++ {
		bt.loadFragments(smem, stage, ks+1, warpM, warpN, rs, cur^1)
		bt.mma(rs, cur)
		cur ^= 1
	}
	bt.mma(rs, cur)

	// The output staging area aliases the stage buffers.
	w.WaitGroup(0)
	w.SyncThreads()
	bt.stageOutput(smem, warpM, warpN, rs)
	w.SyncThreads()
	bt.writeGlobal(w, smem)
}

// issueChunk issues the async copies of this warp's lanes for K chunk
// into stage. Lanes of the whole block stride over the 16-byte vectors
// of the A rows, then of the B rows.
func (bt *blockTile) issueChunk(w *gpu.Warp, chunk, stage int) {
	t := bt.t
	smem := w.Block.Shared
	ab := t.ABStride()
	base := stage * t.StageElems()
	k0 := chunk * t.ChunkElems()
	vecsPerLine := t.ChunkElems() / vecElems
	threads := t.ThreadsPerBlock()

	for lane := 0; lane < w.Size; lane++ {
		tid := w.ID*w.Size + lane
		for v := tid; v < t.BlockRows*vecsPerLine; v += threads {
			r, kv := v/vecsPerLine, (v%vecsPerLine)*vecElems
			dst := base + r*ab + kv
			src := (bt.row+r)*bt.k + k0 + kv
			w.CopyAsync(smem[dst:dst+vecElems], bt.a[src:src+vecElems])
		}
		for v := tid; v < t.BlockCols*vecsPerLine; v += threads {
			r, kv := v/vecsPerLine, (v%vecsPerLine)*vecElems
			dst := base + (t.BlockRows+r)*ab + kv
			src := (bt.col+r)*bt.k + k0 + kv
			w.CopyAsync(smem[dst:dst+vecElems], bt.b[src:src+vecElems])
		}
	}
}

// loadFragments loads the warp's operand fragments for k-step ks of
// stage into register slot idx.
func (bt *blockTile) loadFragments(smem []float16.Float16, stage, ks, warpM, warpN int, rs *registers, idx int) {
	t := bt.t
	ab := t.ABStride()
	base := stage*t.StageElems() + ks*MMAK

	for i := range rs.a[idx] {
		r := warpM*t.WarpRows + i*MMAM
		rs.a[idx][i].load(smem[base+r*ab:], ab)
	}
	for j := range rs.b[idx] {
		r := t.BlockRows + warpN*t.WarpCols + j*MMAN
		rs.b[idx][j].load(smem[base+r*ab:], ab)
	}
}

// mma multiplies the fragments in slot idx into the accumulators. Odd
// fragment rows walk the columns backwards so the B fragment used last
// is reused first.
func (bt *blockTile) mma(rs *registers, idx int) {
	rowTiles := len(rs.a[idx])
	colTiles := len(rs.b[idx])
	for i := 0; i < rowTiles; i++ {
		for jj := 0; jj < colTiles; jj++ {
			j := jj
			if i%2 == 1 {
				j = colTiles - 1 - jj
			}
			rs.acc[i*colTiles+j].mma(&rs.a[idx][i], &rs.b[idx][j])
		}
	}
}

// stageOutput writes the warp's accumulators into the block's output
// staging tile.
func (bt *blockTile) stageOutput(smem []float16.Float16, warpM, warpN int, rs *registers) {
	t := bt.t
	cs := t.CStride()
	colTiles := t.WarpColTiles()
	for i := 0; i < t.WarpRowTiles(); i++ {
		for j := 0; j < colTiles; j++ {
			r := warpM*t.WarpRows + i*MMAM
			c := warpN*t.WarpCols + j*MMAN
			rs.acc[i*colTiles+j].store(smem[r*cs+c:], cs)
		}
	}
}

// writeGlobal copies this warp's contiguous rows of the staged tile to
// C. Consecutive lanes take consecutive 16-byte vectors of a row.
func (bt *blockTile) writeGlobal(w *gpu.Warp, smem []float16.Float16) {
	t := bt.t
	cs := t.CStride()
	rowsPerWarp := t.BlockRows / t.WarpsPerBlock()
	vecsPerRow := t.BlockCols / vecElems

	for lane := 0; lane < w.Size; lane++ {
		for v := lane; v < rowsPerWarp*vecsPerRow; v += w.Size {
			r := w.ID*rowsPerWarp + v/vecsPerRow
			cv := (v % vecsPerRow) * vecElems
			src := r*cs + cv
			dst := (bt.row+r)*bt.n + bt.col + cv
			copy(bt.c[dst:dst+vecElems], smem[src:src+vecElems])
		}
	}
}
