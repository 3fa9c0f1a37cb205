package bench

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/fxnlabs/hgemm/internal/config"
	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/fxnlabs/hgemm/internal/hgemm"
	"github.com/fxnlabs/hgemm/internal/matrix"
	"github.com/fxnlabs/hgemm/internal/metrics"
	"go.uber.org/zap"
)

// ErrVerificationFailed is returned by Run when at least one case does
// not match the reference.
var ErrVerificationFailed = errors.New("verification failed")

// Runner sweeps the configured shapes over the selected kernels.
type Runner struct {
	cfg     *config.Config
	manager *gpu.Manager
	kernels *hgemm.Registry
	logger  *zap.Logger
}

// NewRunner creates a runner over the manager's backend.
func NewRunner(cfg *config.Config, manager *gpu.Manager, kernels *hgemm.Registry, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		manager: manager,
		kernels: kernels,
		logger:  logger.Named("bench"),
	}
}

// Run executes every shape × kernel case. Unknown kernels and device
// errors abort the run; failed verifications are recorded and reported
// through ErrVerificationFailed together with the complete report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	b := r.cfg.Benchmark
	gemms := make([]hgemm.GEMM, 0, len(b.Kernels))
	for _, name := range b.Kernels {
		g, err := r.kernels.Lookup(name)
		if err != nil {
			return nil, err
		}
		gemms = append(gemms, g)
	}

	report := newReport(r.manager.GetBackendType(), r.manager.GetDeviceInfo())
	r.logger.Info("Starting benchmark",
		zap.Stringer("run_id", report.RunID),
		zap.Strings("kernels", b.Kernels),
		zap.Int("shapes", len(r.cfg.Problems())))

	for _, shape := range r.cfg.Problems() {
		results, err := r.runShape(ctx, shape, gemms)
		report.Results = append(report.Results, results...)
		if err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}
	}
	report.FinishedAt = time.Now().UTC()

	if n := report.Failed(); n > 0 {
		return report, fmt.Errorf("%w: %d of %d cases", ErrVerificationFailed, n, len(report.Results))
	}
	return report, nil
}

// problem holds the device matrices of one shape, shared by every kernel.
type problem struct {
	shape   config.Shape
	a, b, c *matrix.Matrix
	base    *matrix.Matrix
}

func (p *problem) destroy() {
	for _, m := range []*matrix.Matrix{p.a, p.b, p.c, p.base} {
		if m != nil {
			_ = m.Destroy()
		}
	}
}

func (r *Runner) newProblem(shape config.Shape) (*problem, error) {
	b := r.cfg.Benchmark
	backend := r.manager.GetBackend()
	opts := func(name string, seed uint64) []matrix.Option {
		return []matrix.Option{
			matrix.WithName(name),
			matrix.WithRange(b.Min, b.Max),
			matrix.WithSeed(seed),
			matrix.WithLogger(r.logger),
		}
	}

	p := &problem{shape: shape}
	var err error
	if p.a, err = matrix.New(backend, shape.M, shape.K, opts("A", b.Seed)...); err != nil {
		return nil, err
	}
	// B is K×N column-major: N rows of K.
	if p.b, err = matrix.New(backend, shape.N, shape.K, opts("B", b.Seed+1)...); err != nil {
		p.destroy()
		return nil, err
	}
	if p.c, err = matrix.New(backend, shape.M, shape.N, opts("C", b.Seed+2)...); err != nil {
		p.destroy()
		return nil, err
	}
	return p, nil
}

// useReference reports whether the shape is small enough for the full
// host reference.
func (r *Runner) useReference(shape config.Shape) bool {
	return int64(shape.M)*int64(shape.N)*int64(shape.K) <= r.cfg.Benchmark.Verify.ReferenceLimit
}

// reference computes base once per shape on the host.
func (r *Runner) reference(p *problem) error {
	if p.base != nil {
		return nil
	}
	base, err := matrix.New(r.manager.GetBackend(), p.shape.M, p.shape.N,
		matrix.WithName("base"), matrix.WithLogger(r.logger))
	if err != nil {
		return err
	}
	start := time.Now()
	copy(base.Host(), Reference(p.a.Host(), p.b.Host(), p.shape.M, p.shape.N, p.shape.K))
	r.logger.Debug("Reference computed",
		zap.Stringer("shape", p.shape),
		zap.Duration("elapsed", time.Since(start)))
	p.base = base
	return nil
}

func (r *Runner) runShape(ctx context.Context, shape config.Shape, gemms []hgemm.GEMM) ([]Result, error) {
	var p *problem
	defer func() {
		if p != nil {
			p.destroy()
		}
	}()

	results := make([]Result, 0, len(gemms))
	for _, g := range gemms {
		am, an, ak := g.Alignment()
		if shape.M%am != 0 || shape.N%an != 0 || shape.K%ak != 0 {
			reason := fmt.Sprintf("shape is not a multiple of %dx%dx%d", am, an, ak)
			r.logger.Warn("Skipping case",
				zap.String("kernel", g.Name()),
				zap.Stringer("shape", shape),
				zap.String("reason", reason))
			metrics.BenchmarkCases.WithLabelValues(g.Name(), StatusSkipped).Inc()
			results = append(results, Result{
				Kernel:       g.Name(),
				Shape:        shape,
				Status:       StatusSkipped,
				Reason:       reason,
				Verification: VerifyNone,
			})
			continue
		}

		if p == nil {
			var err error
			if p, err = r.newProblem(shape); err != nil {
				return results, fmt.Errorf("preparing %s: %w", shape, err)
			}
		}
		res, err := r.runCase(ctx, g, p)
		if err != nil {
			return results, fmt.Errorf("%s on %s: %w", g.Name(), shape, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) runCase(ctx context.Context, g hgemm.GEMM, p *problem) (Result, error) {
	b := r.cfg.Benchmark
	shape := p.shape
	log := r.logger.With(zap.String("kernel", g.Name()), zap.Stringer("shape", shape))
	res := Result{Kernel: g.Name(), Shape: shape, Iterations: b.ProfileIterations, Verification: VerifyNone}

	if err := g.Setup(); err != nil {
		return res, err
	}
	if err := p.c.Zeros(); err != nil {
		return res, err
	}

	a, bb, c := p.a.Device(), p.b.Device(), p.c.Device()
	for i := 0; i < b.WarmupIterations; i++ {
		if err := g.Run(ctx, a, bb, c, shape.M, shape.N, shape.K); err != nil {
			return res, err
		}
	}

	var total time.Duration
	minTime := time.Duration(math.MaxInt64)
	for i := 0; i < b.ProfileIterations; i++ {
		start := time.Now()
		if err := g.Run(ctx, a, bb, c, shape.M, shape.N, shape.K); err != nil {
			return res, err
		}
		elapsed := time.Since(start)
		total += elapsed
		minTime = min(minTime, elapsed)
		metrics.KernelDuration.WithLabelValues(g.Name(), shape.String()).Observe(float64(elapsed.Microseconds()) / 1000)
		log.Debug("Profiled iteration", zap.Int("iteration", i), zap.Duration("elapsed", elapsed))
	}
	avg := total / time.Duration(b.ProfileIterations)
	res.AvgTimeMs = float64(avg.Microseconds()) / 1000
	res.MinTimeMs = float64(minTime.Microseconds()) / 1000
	if avg > 0 {
		res.TFLOPS = shape.Flops() / avg.Seconds() / 1e12
	}
	metrics.KernelTFLOPS.WithLabelValues(g.Name(), shape.String()).Set(res.TFLOPS)
	info := r.manager.GetDeviceInfo()
	metrics.DeviceMemoryUsedBytes.Set(float64(info.TotalMemory - info.AvailableMemory))

	res.Status = StatusPass
	if b.Verify.Enabled {
		if err := r.verify(p, &res); err != nil {
			return res, err
		}
	}
	metrics.BenchmarkCases.WithLabelValues(g.Name(), res.Status).Inc()

	fields := []zap.Field{
		zap.String("status", res.Status),
		zap.Float64("avg_ms", res.AvgTimeMs),
		zap.Float64("tflops", res.TFLOPS),
		zap.String("verification", res.Verification),
		zap.Float64("max_diff", res.MaxDiff),
		zap.Float64("avg_diff", res.AvgDiff),
	}
	if res.Status == StatusFail {
		log.Error("Benchmark case failed", fields...)
	} else {
		log.Info("Benchmark case finished", fields...)
	}
	return res, nil
}

func (r *Runner) verify(p *problem, res *Result) error {
	v := r.cfg.Benchmark.Verify
	if err := p.c.MoveToHost(); err != nil {
		return err
	}

	if r.useReference(p.shape) {
		if err := r.reference(p); err != nil {
			return err
		}
		maxDiff, avgDiff, err := p.c.CheckValue(p.base)
		if err != nil {
			return err
		}
		res.Verification = VerifyReference
		res.MaxDiff, res.AvgDiff = maxDiff, avgDiff
		metrics.KernelMaxDiff.WithLabelValues(res.Kernel, p.shape.String()).Set(maxDiff)
		metrics.KernelAvgDiff.WithLabelValues(res.Kernel, p.shape.String()).Set(avgDiff)
		if maxDiff > v.MaxDiff || avgDiff > v.AvgDiff {
			res.Status = StatusFail
			res.Reason = fmt.Sprintf("max diff %g (limit %g), avg diff %g (limit %g)", maxDiff, v.MaxDiff, avgDiff, v.AvgDiff)
		}
		return nil
	}

	s := p.shape
	rng := rand.New(rand.NewPCG(r.cfg.Benchmark.Seed, uint64(s.M)<<32|uint64(s.N)))
	ok := FreivaldsVerify(
		denseFromHalf(s.M, s.K, p.a.Host()),
		denseFromHalf(s.N, s.K, p.b.Host()),
		denseFromHalf(s.M, s.N, p.c.Host()),
		v.FreivaldsIterations, v.FreivaldsTolerance, rng)
	res.Verification = VerifyFreivalds
	if !ok {
		res.Status = StatusFail
		res.Reason = "Freivalds check rejected the product"
	}
	return nil
}
