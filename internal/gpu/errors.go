package gpu

import "errors"

var (
	ErrNotInitialized         = errors.New("backend not initialized")
	ErrOutOfMemory            = errors.New("out of device memory")
	ErrInvalidDevicePointer   = errors.New("invalid device pointer")
	ErrSizeMismatch           = errors.New("copy size mismatch")
	ErrInvalidValue           = errors.New("invalid value")
	ErrLaunchOutOfResources   = errors.New("too many resources requested for launch")
	ErrInvalidConfiguration   = errors.New("invalid launch configuration")
	ErrLaunchFailure          = errors.New("unspecified launch failure")
	ErrBarrierDivergence      = errors.New("barrier divergence: warps reached different barrier counts")
)
