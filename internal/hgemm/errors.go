package hgemm

import "errors"

var (
	ErrInvalidTiling            = errors.New("invalid tiling")
	ErrInsufficientSharedMemory = errors.New("insufficient shared memory for tiling")
	ErrInvalidProblem           = errors.New("invalid gemm problem")
	ErrUnalignedProblem         = errors.New("problem size is not a multiple of the tile size")
	ErrUnknownKernel            = errors.New("unknown kernel")
	ErrDuplicateKernel          = errors.New("kernel already registered")
)
