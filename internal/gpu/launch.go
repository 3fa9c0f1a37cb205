package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/x448/float16"
)

// Dim3 represents 3D dimensions for grid and block configurations.
type Dim3 struct {
	X, Y, Z int
}

// Size returns X*Y*Z.
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

func (d Dim3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z)
}

// linearTo3D converts a linear index to coordinates in dim, X fastest.
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}

// LaunchConfig describes one kernel launch.
type LaunchConfig struct {
	// Kernel names the kernel for attribute lookup and logging.
	Kernel string
	Grid   Dim3
	Block  Dim3
	// SharedMemBytes is the dynamic shared memory of each block.
	SharedMemBytes int
	// Args are the device buffers the kernel reads or writes. Each must
	// be a live allocation of the launching backend.
	Args []DevicePtr
}

// KernelFunc is the body of one thread block. It usually calls
// Block.RunWarps to fan out over the block's warps.
type KernelFunc func(blk *Block) error

// Block is one thread block in flight. Its shared memory arena is owned
// by the block for its whole lifetime and is never visible to another
// block.
type Block struct {
	Idx      Dim3
	GridDim  Dim3
	BlockDim Dim3
	// Shared is the dynamic shared memory arena, SharedMemBytes/2 elements.
	// Its contents are undefined when the block starts.
	Shared []float16.Float16

	warpSize      int
	maxCopyGroups int
}

// NumWarps returns the number of warps in the block.
func (b *Block) NumWarps() int {
	return (b.BlockDim.Size() + b.warpSize - 1) / b.warpSize
}

// WarpSize returns the number of lanes per warp.
func (b *Block) WarpSize() int {
	return b.warpSize
}

// RunWarps runs fn once per warp, each on its own goroutine, and waits
// for all of them. The warps share one block barrier reached through
// Warp.SyncThreads. A panic in any warp fails the block; a barrier
// count mismatch between warps fails it with ErrBarrierDivergence.
func (b *Block) RunWarps(fn func(w *Warp)) error {
	n := b.NumWarps()
	barrier := NewBarrier(n)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
		barrier.Break(err)
	}

	wg.Add(n)
	for id := 0; id < n; id++ {
		w := &Warp{
			ID:      id,
			Size:    b.warpSize,
			Block:   b,
			barrier: barrier,
			copies:  NewCopyPipeline(b.maxCopyGroups),
		}
		go func() {
			defer wg.Done()
			defer func() {
				// Outstanding copies land before the warp retires.
				w.copies.Wait(0)
				if r := recover(); r != nil {
					err, ok := r.(error)
					if !ok || !errors.Is(err, ErrBarrierDivergence) {
						err = fmt.Errorf("%w: warp %d: %v", ErrLaunchFailure, w.ID, r)
					}
					fail(err)
				}
				barrier.Leave()
			}()
			fn(w)
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return fmt.Errorf("block %s: %w", b.Idx, firstErr)
	}
	if err := barrier.Err(); err != nil {
		return fmt.Errorf("block %s: %w", b.Idx, err)
	}
	return nil
}

// Warp is one lock-step group of lanes inside a block.
type Warp struct {
	ID    int
	Size  int
	Block *Block

	barrier *Barrier
	copies  *CopyPipeline
}

// SyncThreads is the block-wide barrier.
func (w *Warp) SyncThreads() {
	w.barrier.Wait()
}

// CopyAsync issues an asynchronous copy of src into dst.
func (w *Warp) CopyAsync(dst, src []float16.Float16) {
	w.copies.Issue(dst, src)
}

// CommitGroup commits every issued copy as one group.
func (w *Warp) CommitGroup() {
	w.copies.Commit()
}

// WaitGroup blocks until at most n committed copy groups are in flight.
func (w *Warp) WaitGroup(n int) {
	w.copies.Wait(n)
}
