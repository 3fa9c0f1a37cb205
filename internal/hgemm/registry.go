package hgemm

import (
	"fmt"
	"slices"
	"sync"

	"github.com/fxnlabs/hgemm/internal/gpu"
	"go.uber.org/zap"
)

// Registry maps kernel names to GEMM variants.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]GEMM
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		kernels: make(map[string]GEMM),
		logger:  logger.Named("kernel_registry"),
	}
}

// NewDefaultRegistry registers the SIMT baseline and one pipelined kernel
// per preset tiling.
func NewDefaultRegistry(backend gpu.Backend, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	if err := r.Register(NewNaiveKernel(backend, logger)); err != nil {
		return nil, err
	}
	for _, t := range Presets() {
		if err := r.Register(NewKernel(backend, t, logger)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds g under its name.
func (r *Registry) Register(g GEMM) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kernels[g.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKernel, g.Name())
	}
	r.kernels[g.Name()] = g
	r.logger.Debug("Kernel registered", zap.String("kernel", g.Name()))
	return nil
}

// Get returns the kernel registered under name.
func (r *Registry) Get(name string) (GEMM, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.kernels[name]
	return g, ok
}

// Lookup is Get returning ErrUnknownKernel for a missing name.
func (r *Registry) Lookup(name string) (GEMM, error) {
	g, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownKernel, name, r.Names())
	}
	return g, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kernels))
	for name := range r.kernels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
