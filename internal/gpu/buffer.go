package gpu

import "github.com/x448/float16"

// DevicePtr is a handle to a device allocation of half-precision
// elements. The zero value is a nil pointer.
//
// Host code must only move data through the Backend memcpy calls; the
// element view returned by Elems is for kernels running on the device.
type DevicePtr struct {
	id   uint64
	data []float16.Float16
}

// IsNil reports whether p refers to no allocation.
func (p DevicePtr) IsNil() bool {
	return p.id == 0
}

// Len returns the number of elements in the allocation.
func (p DevicePtr) Len() int {
	return len(p.data)
}

// Bytes returns the allocation size in bytes.
func (p DevicePtr) Bytes() int {
	return len(p.data) * 2
}

// Elems returns the device-resident elements. Only kernels may use it.
func (p DevicePtr) Elems() []float16.Float16 {
	return p.data
}
