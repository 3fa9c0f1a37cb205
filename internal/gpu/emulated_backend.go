package gpu

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/x448/float16"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTotalMemory                = 8 << 30
	defaultSharedMemPerMultiprocessor = 100 << 10
	defaultSharedMemPerBlockOptin     = 99 << 10
	defaultDynamicSharedMem           = 48 << 10
	defaultWarpSize                   = 32
	defaultMaxThreadsPerBlock         = 1024
)

// EmulatedConfig describes the emulated device. Zero fields take the
// defaults of a tensor-core device with 100 KiB of shared memory per
// multiprocessor.
type EmulatedConfig struct {
	Name                       string
	Multiprocessors            int
	SharedMemPerMultiprocessor int
	SharedMemPerBlockOptin     int
	TotalMemory                int64
	MaxCopyGroups              int
}

func (c EmulatedConfig) withDefaults() EmulatedConfig {
	if c.Name == "" {
		c.Name = fmt.Sprintf("Emulated Tensor Core Device (%s/%s)", runtime.GOOS, runtime.GOARCH)
	}
	if c.Multiprocessors <= 0 {
		c.Multiprocessors = runtime.NumCPU()
	}
	if c.SharedMemPerMultiprocessor <= 0 {
		c.SharedMemPerMultiprocessor = defaultSharedMemPerMultiprocessor
	}
	if c.SharedMemPerBlockOptin <= 0 {
		c.SharedMemPerBlockOptin = min(defaultSharedMemPerBlockOptin, c.SharedMemPerMultiprocessor)
	}
	if c.TotalMemory <= 0 {
		c.TotalMemory = defaultTotalMemory
	}
	if c.MaxCopyGroups <= 0 {
		c.MaxCopyGroups = DefaultMaxCopyGroups
	}
	return c
}

// EmulatedBackend implements Backend on the host CPU. Thread blocks are
// scheduled onto at most Multiprocessors goroutines; each block runs one
// goroutine per warp.
type EmulatedBackend struct {
	logger *zap.Logger
	cfg    EmulatedConfig

	mu          sync.Mutex
	initialized bool
	allocs      map[uint64][]float16.Float16
	nextID      uint64
	used        int64
	attrs       map[string]int
}

// NewEmulatedBackend creates a new emulated backend instance
func NewEmulatedBackend(logger *zap.Logger, cfg EmulatedConfig) *EmulatedBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmulatedBackend{
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// Initialize prepares the emulated backend for use
func (e *EmulatedBackend) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	if e.cfg.SharedMemPerBlockOptin > e.cfg.SharedMemPerMultiprocessor {
		return fmt.Errorf("%w: opt-in shared memory per block (%d) exceeds shared memory per multiprocessor (%d)",
			ErrInvalidValue, e.cfg.SharedMemPerBlockOptin, e.cfg.SharedMemPerMultiprocessor)
	}
	e.allocs = make(map[uint64][]float16.Float16)
	e.attrs = make(map[string]int)
	e.used = 0
	e.initialized = true
	e.logger.Info("Emulated backend initialized",
		zap.String("device", e.cfg.Name),
		zap.Int("multiprocessors", e.cfg.Multiprocessors),
		zap.Int("shared_mem_per_mp", e.cfg.SharedMemPerMultiprocessor),
		zap.Int64("total_memory", e.cfg.TotalMemory))
	return nil
}

// Cleanup releases every allocation still held by the backend
func (e *EmulatedBackend) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil
	}
	if n := len(e.allocs); n > 0 {
		e.logger.Warn("Releasing leaked device allocations", zap.Int("count", n), zap.Int64("bytes", e.used))
	}
	e.allocs = nil
	e.attrs = nil
	e.used = 0
	e.initialized = false
	return nil
}

// IsAvailable checks if the backend is available (always true for the emulator)
func (e *EmulatedBackend) IsAvailable() bool {
	return true
}

// GetDeviceInfo returns the emulated device properties
func (e *EmulatedBackend) GetDeviceInfo() DeviceInfo {
	e.mu.Lock()
	used := e.used
	e.mu.Unlock()
	return DeviceInfo{
		Name:                       e.cfg.Name,
		TotalMemory:                e.cfg.TotalMemory,
		AvailableMemory:            e.cfg.TotalMemory - used,
		ComputeCapability:          hostFeatures(),
		DriverVersion:              runtime.Version(),
		MultiprocessorCount:        e.cfg.Multiprocessors,
		SharedMemPerMultiprocessor: e.cfg.SharedMemPerMultiprocessor,
		SharedMemPerBlockOptin:     e.cfg.SharedMemPerBlockOptin,
		DefaultDynamicSharedMem:    min(defaultDynamicSharedMem, e.cfg.SharedMemPerBlockOptin),
		WarpSize:                   defaultWarpSize,
		MaxThreadsPerBlock:         defaultMaxThreadsPerBlock,
	}
}

// Malloc allocates n half-precision elements of device memory
func (e *EmulatedBackend) Malloc(n int) (DevicePtr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return DevicePtr{}, ErrNotInitialized
	}
	if n <= 0 {
		return DevicePtr{}, fmt.Errorf("%w: allocation of %d elements", ErrInvalidValue, n)
	}
	bytes := int64(n) * 2
	if e.used+bytes > e.cfg.TotalMemory {
		return DevicePtr{}, fmt.Errorf("%w: requested %d bytes, %d of %d in use",
			ErrOutOfMemory, bytes, e.used, e.cfg.TotalMemory)
	}

	e.nextID++
	data := make([]float16.Float16, n)
	e.allocs[e.nextID] = data
	e.used += bytes

	e.logger.Debug("Device allocation", zap.Uint64("id", e.nextID), zap.Int64("bytes", bytes))
	return DevicePtr{id: e.nextID, data: data}, nil
}

// Free releases a device allocation
func (e *EmulatedBackend) Free(ptr DevicePtr) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	if _, err := e.lookupLocked(ptr); err != nil {
		return err
	}
	delete(e.allocs, ptr.id)
	e.used -= int64(ptr.Bytes())
	return nil
}

// MemcpyHtoD copies len(src) elements from host memory into dst
func (e *EmulatedBackend) MemcpyHtoD(dst DevicePtr, src []float16.Float16) error {
	data, err := e.lookup(dst)
	if err != nil {
		return err
	}
	if len(src) > len(data) {
		return fmt.Errorf("%w: host to device copy of %d elements into %d", ErrSizeMismatch, len(src), len(data))
	}
	copy(data, src)
	return nil
}

// MemcpyDtoH copies len(dst) elements from src into host memory
func (e *EmulatedBackend) MemcpyDtoH(dst []float16.Float16, src DevicePtr) error {
	data, err := e.lookup(src)
	if err != nil {
		return err
	}
	if len(dst) > len(data) {
		return fmt.Errorf("%w: device to host copy of %d elements from %d", ErrSizeMismatch, len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

// MemcpyDtoD copies the whole of src into dst
func (e *EmulatedBackend) MemcpyDtoD(dst, src DevicePtr) error {
	to, err := e.lookup(dst)
	if err != nil {
		return err
	}
	from, err := e.lookup(src)
	if err != nil {
		return err
	}
	if len(from) > len(to) {
		return fmt.Errorf("%w: device to device copy of %d elements into %d", ErrSizeMismatch, len(from), len(to))
	}
	copy(to, from)
	return nil
}

// Memset sets every byte of ptr to value
func (e *EmulatedBackend) Memset(ptr DevicePtr, value byte) error {
	data, err := e.lookup(ptr)
	if err != nil {
		return err
	}
	v := float16.Frombits(uint16(value)<<8 | uint16(value))
	for i := range data {
		data[i] = v
	}
	return nil
}

// SetMaxDynamicSharedMemory raises the dynamic shared memory budget of a kernel
func (e *EmulatedBackend) SetMaxDynamicSharedMemory(kernel string, bytes int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	if bytes < 0 || bytes > e.cfg.SharedMemPerBlockOptin {
		return fmt.Errorf("%w: %s requests %d bytes of dynamic shared memory, device allows %d",
			ErrInvalidValue, kernel, bytes, e.cfg.SharedMemPerBlockOptin)
	}
	e.attrs[kernel] = bytes
	return nil
}

// Launch executes kernel over every block of cfg.Grid
func (e *EmulatedBackend) Launch(ctx context.Context, cfg LaunchConfig, kernel KernelFunc) error {
	info := e.GetDeviceInfo()

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	limit, ok := e.attrs[cfg.Kernel]
	for i, arg := range cfg.Args {
		if _, err := e.lookupLocked(arg); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("launch %s: argument %d: %w", cfg.Kernel, i, err)
		}
	}
	e.mu.Unlock()
	if !ok {
		limit = info.DefaultDynamicSharedMem
	}

	if cfg.Grid.X <= 0 || cfg.Grid.Y <= 0 || cfg.Grid.Z <= 0 {
		return fmt.Errorf("%w: grid %s", ErrInvalidConfiguration, cfg.Grid)
	}
	threads := cfg.Block.Size()
	if cfg.Block.X <= 0 || cfg.Block.Y <= 0 || cfg.Block.Z <= 0 ||
		threads%info.WarpSize != 0 || threads > info.MaxThreadsPerBlock {
		return fmt.Errorf("%w: block %s", ErrInvalidConfiguration, cfg.Block)
	}
	if cfg.SharedMemBytes < 0 || cfg.SharedMemBytes > limit {
		return fmt.Errorf("%w: %s uses %d bytes of dynamic shared memory, limit is %d",
			ErrLaunchOutOfResources, cfg.Kernel, cfg.SharedMemBytes, limit)
	}

	arenas := sync.Pool{
		New: func() any {
			s := make([]float16.Float16, (cfg.SharedMemBytes+1)/2)
			return &s
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(info.MultiprocessorCount)
	total := cfg.Grid.Size()
	for i := 0; i < total && gctx.Err() == nil; i++ {
		idx := linearTo3D(i, cfg.Grid)
		g.Go(func() error {
			arena := arenas.Get().(*[]float16.Float16)
			defer arenas.Put(arena)
			return kernel(&Block{
				Idx:           idx,
				GridDim:       cfg.Grid,
				BlockDim:      cfg.Block,
				Shared:        *arena,
				warpSize:      info.WarpSize,
				maxCopyGroups: e.cfg.MaxCopyGroups,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("launch %s: %w", cfg.Kernel, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("launch %s: %w", cfg.Kernel, err)
	}
	return nil
}

// MemoryUsed returns the bytes currently allocated on the device
func (e *EmulatedBackend) MemoryUsed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.used
}

func (e *EmulatedBackend) lookup(ptr DevicePtr) ([]float16.Float16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.lookupLocked(ptr)
}

func (e *EmulatedBackend) lookupLocked(ptr DevicePtr) ([]float16.Float16, error) {
	data, ok := e.allocs[ptr.id]
	if !ok || ptr.IsNil() || len(data) != len(ptr.data) || &data[0] != &ptr.data[0] {
		return nil, fmt.Errorf("%w: id %d", ErrInvalidDevicePointer, ptr.id)
	}
	return data, nil
}
