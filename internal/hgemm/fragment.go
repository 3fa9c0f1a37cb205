package hgemm

import "github.com/x448/float16"

// fragmentA is a 16×16 row-major operand tile of A held in registers.
// Values are widened from half on load, which is exact.
type fragmentA [MMAM * MMAK]float32

// fragmentB is a 16×16 operand tile of B in column-major order:
// element (k, n) lives at n*MMAK + k.
type fragmentB [MMAK * MMAN]float32

// accumulator is a 16×16 row-major float32 output fragment.
type accumulator [MMAM * MMAN]float32

// load reads a fragment whose (0, 0) element is src[0] from a row-major
// buffer with the given row stride.
func (f *fragmentA) load(src []float16.Float16, stride int) {
	for r := 0; r < MMAM; r++ {
		row := src[r*stride : r*stride+MMAK]
		for k, v := range row {
			f[r*MMAK+k] = v.Float32()
		}
	}
}

// load reads a fragment from a buffer that stores B column by column
// (each shared memory row holds one output column over K).
func (f *fragmentB) load(src []float16.Float16, stride int) {
	for n := 0; n < MMAN; n++ {
		col := src[n*stride : n*stride+MMAK]
		for k, v := range col {
			f[n*MMAK+k] = v.Float32()
		}
	}
}

// mma accumulates a·b into acc.
func (acc *accumulator) mma(a *fragmentA, b *fragmentB) {
	for i := 0; i < MMAM; i++ {
		arow := a[i*MMAK : i*MMAK+MMAK]
		for j := 0; j < MMAN; j++ {
			bcol := b[j*MMAK : j*MMAK+MMAK]
			var sum float32
			for k := 0; k < MMAK; k++ {
				sum += arow[k] * bcol[k]
			}
			acc[i*MMAN+j] += sum
		}
	}
}

// store writes acc rounded to half into a row-major buffer.
func (acc *accumulator) store(dst []float16.Float16, stride int) {
	for i := 0; i < MMAM; i++ {
		row := dst[i*stride : i*stride+MMAN]
		for j := range row {
			row[j] = float16.Fromfloat32(acc[i*MMAN+j])
		}
	}
}
