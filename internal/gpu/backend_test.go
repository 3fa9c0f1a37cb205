package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager(t *testing.T) {
	manager, err := NewManager(zap.NewNop(), EmulatedConfig{Multiprocessors: 2})
	require.NoError(t, err)

	// Test that we have a backend
	backend := manager.GetBackend()
	require.NotNil(t, backend)
	assert.Equal(t, "emulated", manager.GetBackendType())

	// Test device info
	info := manager.GetDeviceInfo()
	assert.NotEmpty(t, info.Name)
	assert.Equal(t, 2, info.MultiprocessorCount)

	// The backend is usable through the manager
	ptr, err := backend.Malloc(4)
	require.NoError(t, err)
	require.NoError(t, backend.MemcpyHtoD(ptr, Float32ToHalf([]float32{1, 2, 3, 4})))
	assert.Equal(t, info.TotalMemory-8, manager.GetDeviceInfo().AvailableMemory)

	require.NoError(t, manager.Cleanup())
	assert.Nil(t, manager.GetBackend())
	assert.Equal(t, "none", manager.GetBackendType())
	assert.Equal(t, "No backend available", manager.GetDeviceInfo().Name)

	// Cleanup is idempotent
	assert.NoError(t, manager.Cleanup())
}

func TestManager_InitializeFailure(t *testing.T) {
	_, err := NewManager(zap.NewNop(), EmulatedConfig{
		SharedMemPerMultiprocessor: 16 << 10,
		SharedMemPerBlockOptin:     32 << 10,
	})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

// unavailableBackend is an emulated backend that reports no device.
type unavailableBackend struct {
	*EmulatedBackend
}

func (unavailableBackend) IsAvailable() bool { return false }

func TestNewManagerWithBackend(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		manager, err := NewManagerWithBackend(nil, NewEmulatedBackend(nil, EmulatedConfig{}))
		require.NoError(t, err)
		defer manager.Cleanup()
		assert.Equal(t, "emulated", manager.GetBackendType())
	})

	t.Run("unavailable", func(t *testing.T) {
		_, err := NewManagerWithBackend(nil, unavailableBackend{NewEmulatedBackend(nil, EmulatedConfig{})})
		assert.Error(t, err)
	})

	t.Run("unknown backend type", func(t *testing.T) {
		manager, err := NewManagerWithBackend(nil, struct{ Backend }{NewEmulatedBackend(nil, EmulatedConfig{})})
		require.NoError(t, err)
		defer manager.Cleanup()
		assert.Equal(t, "unknown", manager.GetBackendType())
	})
}

func TestUtilityFunctions(t *testing.T) {
	input := []float64{1.0, -2.5, 0.1, 65504, 1e-8}
	halves := Float64ToHalf(input)
	require.Len(t, halves, len(input))

	back := HalfToFloat64(halves)
	assert.Equal(t, 1.0, back[0])
	assert.Equal(t, -2.5, back[1])
	// 0.1 is not representable; rounding stays within half an ulp.
	assert.InDelta(t, 0.1, back[2], 0.1/2048)
	assert.Equal(t, 65504.0, back[3])
	assert.InDelta(t, 0.0, back[4], 1e-7)

	f32 := HalfToFloat32(Float32ToHalf([]float32{3, 0.5, -7}))
	assert.Equal(t, []float32{3, 0.5, -7}, f32)

	// Out of range values saturate to infinity.
	inf := HalfToFloat64(Float64ToHalf([]float64{1e6}))
	assert.Greater(t, inf[0], 65504.0)
}
