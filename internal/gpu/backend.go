package gpu

import (
	"context"

	"github.com/x448/float16"
)

// DeviceInfo contains information about the accelerator device
type DeviceInfo struct {
	Name              string `json:"name"`
	TotalMemory       int64  `json:"totalMemory"`     // in bytes
	AvailableMemory   int64  `json:"availableMemory"` // in bytes
	ComputeCapability string `json:"computeCapability"`
	DriverVersion     string `json:"driverVersion"`

	MultiprocessorCount        int `json:"multiprocessorCount"`
	SharedMemPerMultiprocessor int `json:"sharedMemPerMultiprocessor"` // in bytes
	SharedMemPerBlockOptin     int `json:"sharedMemPerBlockOptin"`     // in bytes
	DefaultDynamicSharedMem    int `json:"defaultDynamicSharedMem"`    // in bytes
	WarpSize                   int `json:"warpSize"`
	MaxThreadsPerBlock         int `json:"maxThreadsPerBlock"`
}

// Backend defines the interface for accelerator backends.
//
// The backend owns device memory and kernel execution. Host memory is
// never shared with the device: every transfer is an explicit copy that
// has completed by the time the call returns.
//
// Implementation notes:
//   - Operations on an uninitialized backend must fail
//   - Kernel attributes (dynamic shared memory budget) are keyed by kernel name
//   - Launch returns only after every block of the grid has finished
type Backend interface {
	// Initialize prepares the backend for use. Calling it twice is a no-op.
	Initialize() error

	// Cleanup releases every allocation still held by the backend.
	Cleanup() error

	// IsAvailable checks if the backend can be used on this host
	IsAvailable() bool

	// GetDeviceInfo returns the device properties used for launch
	// configuration and reporting.
	GetDeviceInfo() DeviceInfo

	// Malloc allocates n half-precision elements of device memory.
	Malloc(n int) (DevicePtr, error)

	// Free releases a device allocation.
	Free(ptr DevicePtr) error

	// MemcpyHtoD copies len(src) elements from host memory to dst.
	MemcpyHtoD(dst DevicePtr, src []float16.Float16) error

	// MemcpyDtoH copies len(dst) elements from src to host memory.
	MemcpyDtoH(dst []float16.Float16, src DevicePtr) error

	// MemcpyDtoD copies the whole of src into dst.
	MemcpyDtoD(dst, src DevicePtr) error

	// Memset sets every byte of ptr to value.
	Memset(ptr DevicePtr, value byte) error

	// SetMaxDynamicSharedMemory raises the dynamic shared memory budget
	// of the named kernel.
	SetMaxDynamicSharedMemory(kernel string, bytes int) error

	// Launch executes kernel over cfg.Grid blocks of cfg.Block threads.
	Launch(ctx context.Context, cfg LaunchConfig, kernel KernelFunc) error
}
