// Package matrix provides a half-precision matrix with a host copy and a
// device mirror of the same length. Every transfer between the two is
// explicit and synchronous.
package matrix

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/x448/float16"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"
)

// Default sampling range.
const (
	DefaultMin = -2.0
	DefaultMax = 2.0
)

var (
	ErrInvalidShape  = errors.New("invalid matrix shape")
	ErrShapeMismatch = errors.New("matrix shape mismatch")
	ErrNilMatrix     = errors.New("nil matrix")
	ErrInvalidRange  = errors.New("invalid sampling range")
)

// Matrix owns a host buffer and a device buffer of Rows×Cols elements.
// Storage is never shared between instances.
type Matrix struct {
	name    string
	rows    int
	cols    int
	min     float64
	max     float64
	host    []float16.Float16
	device  gpu.DevicePtr
	backend gpu.Backend
	rng     *rand.Rand
	logger  *zap.Logger

	maxDiff float64
	avgDiff float64
}

type options struct {
	name   string
	min    float64
	max    float64
	seed   *uint64
	logger *zap.Logger
}

// Option configures New.
type Option func(*options)

// WithName labels the matrix in logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithRange sets the uniform sampling range [min, max).
func WithRange(min, max float64) Option {
	return func(o *options) { o.min, o.max = min, max }
}

// WithSeed makes sampling reproducible.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = &seed }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New allocates a rows×cols matrix on backend, fills the host side with
// uniform samples and copies them to the device, so both sides start
// identical.
func New(backend gpu.Backend, rows, cols int, opts ...Option) (*Matrix, error) {
	o := options{name: "matrix", min: DefaultMin, max: DefaultMax}
	for _, opt := range opts {
		opt(&o)
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %s is %dx%d", ErrInvalidShape, o.name, rows, cols)
	}
	if err := checkRange(o.min, o.max); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	var src rand.Source
	if o.seed != nil {
		src = rand.NewPCG(*o.seed, *o.seed^0x9e3779b97f4a7c15)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	device, err := backend.Malloc(rows * cols)
	if err != nil {
		return nil, fmt.Errorf("allocating device storage for %s: %w", o.name, err)
	}

	m := &Matrix{
		name:    o.name,
		rows:    rows,
		cols:    cols,
		min:     o.min,
		max:     o.max,
		host:    make([]float16.Float16, rows*cols),
		device:  device,
		backend: backend,
		rng:     rand.New(src),
		logger:  o.logger.With(zap.String("matrix", o.name)),
	}
	m.sample()
	if err := backend.MemcpyHtoD(m.device, m.host); err != nil {
		_ = backend.Free(device)
		return nil, fmt.Errorf("initializing %s: %w", o.name, err)
	}

	m.logger.Debug("Matrix created",
		zap.Int("rows", rows), zap.Int("cols", cols),
		zap.Float64("min", o.min), zap.Float64("max", o.max))
	return m, nil
}

func checkRange(min, max float64) error {
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) || min >= max {
		return fmt.Errorf("%w: [%v, %v)", ErrInvalidRange, min, max)
	}
	return nil
}

// sample draws every host element from U[min, max). Rounding to half can
// land exactly on max.
func (m *Matrix) sample() {
	dist := distuv.Uniform{Min: m.min, Max: m.max, Src: m.rng}
	for i := range m.host {
		m.host[i] = float16.Fromfloat32(float32(dist.Rand()))
	}
}

// Zeros clears the device side, then copies it to the host.
func (m *Matrix) Zeros() error {
	if err := m.checkLive(); err != nil {
		return err
	}
	if err := m.backend.Memset(m.device, 0); err != nil {
		return fmt.Errorf("zeroing %s: %w", m.name, err)
	}
	return m.MoveToHost()
}

// Random resamples the host side from U[min, max) and pushes the new
// values to the device.
func (m *Matrix) Random(min, max float64) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	if err := checkRange(min, max); err != nil {
		return err
	}
	m.min, m.max = min, max
	m.sample()
	if err := m.backend.MemcpyHtoD(m.device, m.host); err != nil {
		return fmt.Errorf("uploading %s: %w", m.name, err)
	}
	return nil
}

// TearUp loads base's host contents into this matrix's device storage.
// The host side of m is left unchanged.
func (m *Matrix) TearUp(base *Matrix) error {
	if err := m.checkShape(base); err != nil {
		return err
	}
	if err := m.backend.MemcpyHtoD(m.device, base.host); err != nil {
		return fmt.Errorf("loading %s into %s: %w", base.name, m.name, err)
	}
	return nil
}

// MoveToHost copies the device side over the host side.
func (m *Matrix) MoveToHost() error {
	if err := m.checkLive(); err != nil {
		return err
	}
	if err := m.backend.MemcpyDtoH(m.host, m.device); err != nil {
		return fmt.Errorf("downloading %s: %w", m.name, err)
	}
	return nil
}

// CheckValue measures the maximum and mean absolute difference between
// the host contents of m and base. Only m's diagnostics change.
func (m *Matrix) CheckValue(base *Matrix) (maxDiff, avgDiff float64, err error) {
	if err := m.checkShape(base); err != nil {
		return 0, 0, err
	}
	var sum float64
	for i, v := range m.host {
		diff := math.Abs(float64(v.Float32()) - float64(base.host[i].Float32()))
		sum += diff
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	avgDiff = sum / float64(len(m.host))

	m.maxDiff, m.avgDiff = maxDiff, avgDiff
	m.logger.Debug("Checked values",
		zap.String("base", base.name),
		zap.Float64("max_diff", maxDiff),
		zap.Float64("avg_diff", avgDiff))
	return maxDiff, avgDiff, nil
}

// checkLive fails once Destroy has released the storage.
func (m *Matrix) checkLive() error {
	if m.host == nil || m.device.IsNil() {
		return fmt.Errorf("%w: %s is destroyed", ErrNilMatrix, m.name)
	}
	return nil
}

func (m *Matrix) checkShape(base *Matrix) error {
	if base == nil {
		return fmt.Errorf("%w: base for %s", ErrNilMatrix, m.name)
	}
	if err := m.checkLive(); err != nil {
		return err
	}
	if err := base.checkLive(); err != nil {
		return fmt.Errorf("base for %s: %w", m.name, err)
	}
	if base.rows != m.rows || base.cols != m.cols {
		return fmt.Errorf("%w: %s is %dx%d, %s is %dx%d",
			ErrShapeMismatch, m.name, m.rows, m.cols, base.name, base.rows, base.cols)
	}
	return nil
}

// Destroy releases the device storage and drops the host buffer.
func (m *Matrix) Destroy() error {
	if m.device.IsNil() {
		return nil
	}
	err := m.backend.Free(m.device)
	m.device = gpu.DevicePtr{}
	m.host = nil
	if err != nil {
		return fmt.Errorf("freeing %s: %w", m.name, err)
	}
	return nil
}

func (m *Matrix) Name() string { return m.name }
func (m *Matrix) Rows() int    { return m.rows }
func (m *Matrix) Cols() int    { return m.cols }

// ElemNum returns Rows×Cols.
func (m *Matrix) ElemNum() int { return m.rows * m.cols }

// Host returns the host buffer. Writes to it reach the device only
// through TearUp.
func (m *Matrix) Host() []float16.Float16 { return m.host }

// Device returns the device buffer for kernel launches.
func (m *Matrix) Device() gpu.DevicePtr { return m.device }

// Range returns the current sampling range.
func (m *Matrix) Range() (min, max float64) { return m.min, m.max }

// MaxDiff returns the maximum absolute difference of the last CheckValue.
func (m *Matrix) MaxDiff() float64 { return m.maxDiff }

// AvgDiff returns the mean absolute difference of the last CheckValue.
func (m *Matrix) AvgDiff() float64 { return m.avgDiff }
