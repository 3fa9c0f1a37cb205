package hgemm

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"go.uber.org/zap"
)

func newTestBackend(t *testing.T, cfg gpu.EmulatedConfig) *gpu.EmulatedBackend {
	t.Helper()
	backend := gpu.NewEmulatedBackend(zap.NewNop(), cfg)
	require.NoError(t, backend.Initialize())
	t.Cleanup(func() { _ = backend.Cleanup() })
	return backend
}

// problem holds host operands on a quarter-integer grid in [-2, 2], so
// every partial sum is exact in float32 and the rounded result does not
// depend on the summation order.
type problem struct {
	m, n, k int
	a, b    []float16.Float16
}

func newProblem(m, n, k int, seed uint64) problem {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	sample := func(n int) []float16.Float16 {
		out := make([]float16.Float16, n)
		for i := range out {
			out[i] = float16.Fromfloat32(float32(r.IntN(17)-8) / 4)
		}
		return out
	}
	return problem{m: m, n: n, k: k, a: sample(m * k), b: sample(n * k)}
}

// reference computes C in float64 with B stored as N rows of K.
func (p problem) reference() []float16.Float16 {
	c := make([]float16.Float16, p.m*p.n)
	for i := 0; i < p.m; i++ {
		for j := 0; j < p.n; j++ {
			var sum float64
			for kk := 0; kk < p.k; kk++ {
				sum += float64(p.a[i*p.k+kk].Float32()) * float64(p.b[j*p.k+kk].Float32())
			}
			c[i*p.n+j] = float16.Fromfloat32(float32(sum))
		}
	}
	return c
}

// run uploads the operands, runs g and returns C on the host.
func (p problem) run(t *testing.T, backend gpu.Backend, g GEMM) []float16.Float16 {
	t.Helper()
	alloc := func(host []float16.Float16, n int) gpu.DevicePtr {
		ptr, err := backend.Malloc(n)
		require.NoError(t, err)
		t.Cleanup(func() { _ = backend.Free(ptr) })
		if host != nil {
			require.NoError(t, backend.MemcpyHtoD(ptr, host))
		}
		return ptr
	}
	a := alloc(p.a, p.m*p.k)
	b := alloc(p.b, p.n*p.k)
	c := alloc(nil, p.m*p.n)
	// Poison C so untouched elements show up.
	require.NoError(t, backend.Memset(c, 0x7e))

	require.NoError(t, g.Run(context.Background(), a, b, c, p.m, p.n, p.k))

	out := make([]float16.Float16, p.m*p.n)
	require.NoError(t, backend.MemcpyDtoH(out, c))
	return out
}

func assertSameMatrix(t *testing.T, want, got []float16.Float16, n int) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("C[%d][%d] = %v, want %v", i/n, i%n, got[i], want[i])
		}
	}
}

func TestKernel_Correctness(t *testing.T) {
	backend := newTestBackend(t, gpu.EmulatedConfig{Multiprocessors: 4})

	stage3Small := MMAAsyncStage2Small
	stage3Small.Name = "mma_async_stage3_small"
	stage3Small.Stages = 3

	tests := []struct {
		name    string
		tiling  Tiling
		m, n, k int
	}{
		{"single block single chunk", MMAAsyncStage2Small, 64, 64, 32},
		{"two stages", MMAAsyncStage2Small, 128, 192, 96},
		{"three stages", stage3Small, 128, 192, 160},
		{"three stages fewer chunks than stages", stage3Small, 64, 128, 32},
		{"zig-zag stripes", MMAAsyncStage2Small, 192, 512, 64},
		{"default preset", MMAAsyncStage2, 256, 256, 256},
		{"three stage preset", MMAAsyncStage3, 256, 256, 128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProblem(tt.m, tt.n, tt.k, 42)
			kernel := NewKernel(backend, tt.tiling, zap.NewNop())
			require.NoError(t, kernel.Setup())
			assertSameMatrix(t, p.reference(), p.run(t, backend, kernel), tt.n)
		})
	}
}

func TestKernel_Deterministic(t *testing.T) {
	backend := newTestBackend(t, gpu.EmulatedConfig{Multiprocessors: 3})
	p := newProblem(128, 128, 64, 7)
	// Full-range random inputs, where rounding does depend on order.
	r := rand.New(rand.NewPCG(1, 2))
	for i := range p.a {
		p.a[i] = float16.Fromfloat32(r.Float32()*4 - 2)
	}
	for i := range p.b {
		p.b[i] = float16.Fromfloat32(r.Float32()*4 - 2)
	}

	kernel := NewKernel(backend, MMAAsyncStage2Small, nil)
	first := p.run(t, backend, kernel)
	for i := 0; i < 3; i++ {
		assertSameMatrix(t, first, p.run(t, backend, kernel), p.n)
	}
}

func TestKernel_Setup(t *testing.T) {
	t.Run("insufficient shared memory", func(t *testing.T) {
		backend := newTestBackend(t, gpu.EmulatedConfig{SharedMemPerMultiprocessor: 64 << 10})
		kernel := NewKernel(backend, MMAAsyncStage2, nil)
		err := kernel.Setup()
		assert.ErrorIs(t, err, ErrInsufficientSharedMemory)
		// Retrying fails the same way.
		assert.ErrorIs(t, kernel.Setup(), ErrInsufficientSharedMemory)
	})

	t.Run("raises the shared memory attribute", func(t *testing.T) {
		backend := newTestBackend(t, gpu.EmulatedConfig{Multiprocessors: 2})
		kernel := NewKernel(backend, MMAAsyncStage2, nil)
		require.NoError(t, kernel.Setup())
		assert.Equal(t, 69632, kernel.SharedMemBytes())

		// The same launch shape is rejected without the attribute.
		err := backend.Launch(context.Background(), gpu.LaunchConfig{
			Kernel:         "unconfigured",
			Grid:           gpu.Dim3{X: 1, Y: 1, Z: 1},
			Block:          MMAAsyncStage2.Block(),
			SharedMemBytes: kernel.SharedMemBytes(),
		}, func(*gpu.Block) error { return nil })
		assert.ErrorIs(t, err, gpu.ErrLaunchOutOfResources)
	})

	t.Run("before the backend is initialized", func(t *testing.T) {
		backend := gpu.NewEmulatedBackend(zap.NewNop(), gpu.EmulatedConfig{})
		kernel := NewKernel(backend, MMAAsyncStage2Small, nil)
		assert.ErrorIs(t, kernel.Setup(), gpu.ErrNotInitialized)

		require.NoError(t, backend.Initialize())
		t.Cleanup(func() { _ = backend.Cleanup() })
		assert.NoError(t, kernel.Setup())
	})

	t.Run("survives a backend reset", func(t *testing.T) {
		backend := newTestBackend(t, gpu.EmulatedConfig{Multiprocessors: 2})
		kernel := NewKernel(backend, MMAAsyncStage2, nil)
		require.NoError(t, kernel.Setup())

		require.NoError(t, backend.Cleanup())
		require.NoError(t, backend.Initialize())

		p := newProblem(256, 256, 64, 5)
		assertSameMatrix(t, p.reference(), p.run(t, backend, kernel), p.n)
	})

	t.Run("warp size mismatch", func(t *testing.T) {
		backend := newTestBackend(t, gpu.EmulatedConfig{})
		tl := MMAAsyncStage2Small
		tl.WarpSize = 64
		assert.ErrorIs(t, NewKernel(backend, tl, nil).Setup(), ErrInvalidTiling)
	})

	t.Run("invalid tiling", func(t *testing.T) {
		backend := newTestBackend(t, gpu.EmulatedConfig{})
		tl := MMAAsyncStage2Small
		tl.Stages = 1
		assert.ErrorIs(t, NewKernel(backend, tl, nil).Setup(), ErrInvalidTiling)
	})
}

func TestKernel_RunPreconditions(t *testing.T) {
	backend := newTestBackend(t, gpu.EmulatedConfig{})
	kernel := NewKernel(backend, MMAAsyncStage2Small, nil)

	alloc := func(n int) gpu.DevicePtr {
		ptr, err := backend.Malloc(n)
		require.NoError(t, err)
		return ptr
	}
	a, b, c := alloc(64*64), alloc(64*64), alloc(64*64)
	ctx := context.Background()

	assert.ErrorIs(t, kernel.Run(ctx, a, b, c, 0, 64, 64), ErrInvalidProblem)
	assert.ErrorIs(t, kernel.Run(ctx, a, b, c, 48, 64, 64), ErrUnalignedProblem)
	assert.ErrorIs(t, kernel.Run(ctx, a, b, c, 64, 64, 48), ErrUnalignedProblem)
	assert.ErrorIs(t, kernel.Run(ctx, a, b, c, 128, 64, 64), ErrInvalidProblem)
	assert.NoError(t, kernel.Run(ctx, a, b, c, 64, 64, 64))

	t.Run("freed buffer", func(t *testing.T) {
		out := alloc(64 * 64)
		require.NoError(t, backend.Free(out))
		for _, g := range []GEMM{kernel, NewNaiveKernel(backend, nil)} {
			assert.ErrorIs(t, g.Run(ctx, a, b, out, 64, 64, 64), gpu.ErrInvalidDevicePointer, g.Name())
		}
	})

	t.Run("foreign buffer", func(t *testing.T) {
		other := newTestBackend(t, gpu.EmulatedConfig{})
		foreign, err := other.Malloc(64 * 64)
		require.NoError(t, err)
		assert.ErrorIs(t, kernel.Run(ctx, foreign, b, c, 64, 64, 64), gpu.ErrInvalidDevicePointer)
	})
}

func TestNaiveKernel(t *testing.T) {
	backend := newTestBackend(t, gpu.EmulatedConfig{Multiprocessors: 4})
	kernel := NewNaiveKernel(backend, nil)
	require.NoError(t, kernel.Setup())

	// Shapes that are not tile multiples are fine for the baseline.
	p := newProblem(37, 50, 23, 3)
	assertSameMatrix(t, p.reference(), p.run(t, backend, kernel), p.n)
}

func BenchmarkKernel(b *testing.B) {
	backend := gpu.NewEmulatedBackend(zap.NewNop(), gpu.EmulatedConfig{})
	require.NoError(b, backend.Initialize())
	defer backend.Cleanup()

	const m, n, k = 256, 256, 256
	a, _ := backend.Malloc(m * k)
	bb, _ := backend.Malloc(n * k)
	c, _ := backend.Malloc(m * n)

	for _, g := range []GEMM{NewNaiveKernel(backend, nil), NewKernel(backend, MMAAsyncStage2, nil)} {
		b.Run(g.Name(), func(b *testing.B) {
			require.NoError(b, g.Setup())
			for i := 0; i < b.N; i++ {
				if err := g.Run(context.Background(), a, bb, c, m, n, k); err != nil {
					b.Fatal(err)
				}
			}
			b.ReportMetric(2*m*n*k*float64(b.N)/b.Elapsed().Seconds()/1e9, "GFLOPS")
		})
	}
}
