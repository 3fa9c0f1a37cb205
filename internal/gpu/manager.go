package gpu

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager handles backend selection and lifecycle
type Manager struct {
	backend Backend
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewManager creates a new manager and initializes the emulated device
// described by cfg
func NewManager(logger *zap.Logger, cfg EmulatedConfig) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		logger: logger,
	}

	if err := m.initialize(NewEmulatedBackend(logger.Named("emulated"), cfg)); err != nil {
		return nil, err
	}

	return m, nil
}

// NewManagerWithBackend wraps an existing backend, initializing it if needed
func NewManagerWithBackend(logger *zap.Logger, backend Backend) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{logger: logger}
	if err := m.initialize(backend); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize(backend Backend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !backend.IsAvailable() {
		return fmt.Errorf("backend not available")
	}
	if err := backend.Initialize(); err != nil {
		_ = backend.Cleanup()
		return fmt.Errorf("failed to initialize backend: %w", err)
	}
	m.backend = backend

	info := backend.GetDeviceInfo()
	m.logger.Info("Backend selected",
		zap.String("backend", backendType(backend)),
		zap.String("device", info.Name),
		zap.String("compute_capability", info.ComputeCapability))
	return nil
}

// GetBackend returns the current backend
func (m *Manager) GetBackend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// GetDeviceInfo returns device information from the current backend
func (m *Manager) GetDeviceInfo() DeviceInfo {
	backend := m.GetBackend()
	if backend == nil {
		return DeviceInfo{Name: "No backend available"}
	}
	return backend.GetDeviceInfo()
}

// Cleanup releases resources held by the current backend
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend != nil {
		if err := m.backend.Cleanup(); err != nil {
			return err
		}
		m.backend = nil
	}
	return nil
}

// GetBackendType returns a string describing the current backend type
func (m *Manager) GetBackendType() string {
	return backendType(m.GetBackend())
}

func backendType(backend Backend) string {
	switch backend.(type) {
	case nil:
		return "none"
	case *EmulatedBackend:
		return "emulated"
	default:
		return "unknown"
	}
}
