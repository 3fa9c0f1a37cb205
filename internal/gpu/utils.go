package gpu

import "github.com/x448/float16"

// HalfToFloat64 widens a slice of half values to float64
func HalfToFloat64(input []float16.Float16) []float64 {
	output := make([]float64, len(input))
	for i, v := range input {
		output[i] = float64(v.Float32())
	}
	return output
}

// Float64ToHalf narrows a slice of float64 to half values, rounding to nearest even
func Float64ToHalf(input []float64) []float16.Float16 {
	output := make([]float16.Float16, len(input))
	for i, v := range input {
		output[i] = float16.Fromfloat32(float32(v))
	}
	return output
}

// Float32ToHalf narrows a slice of float32 to half values
func Float32ToHalf(input []float32) []float16.Float16 {
	output := make([]float16.Float16, len(input))
	for i, v := range input {
		output[i] = float16.Fromfloat32(v)
	}
	return output
}

// HalfToFloat32 widens a slice of half values to float32
func HalfToFloat32(input []float16.Float16) []float32 {
	output := make([]float32, len(input))
	for i, v := range input {
		output[i] = v.Float32()
	}
	return output
}
