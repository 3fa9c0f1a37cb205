package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Shape is one GEMM problem size.
type Shape struct {
	M int `yaml:"m" json:"m"`
	N int `yaml:"n" json:"n"`
	K int `yaml:"k" json:"k"`
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.M, s.N, s.K)
}

// Flops is the floating point operation count of C = A·B.
func (s Shape) Flops() float64 {
	return 2 * float64(s.M) * float64(s.N) * float64(s.K)
}

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Format    string `yaml:"format"`
	} `yaml:"logger"`
	Device struct {
		Name                       string `yaml:"name"`
		Multiprocessors            int    `yaml:"multiprocessors"`
		SharedMemPerMultiprocessor int    `yaml:"sharedMemPerMultiprocessor"`
		SharedMemPerBlockOptin     int    `yaml:"sharedMemPerBlockOptin"`
		TotalMemory                int64  `yaml:"totalMemory"`
		MaxCopyGroups              int    `yaml:"maxCopyGroups"`
	} `yaml:"device"`
	Benchmark struct {
		Kernels []string `yaml:"kernels"`
		Shapes  []Shape  `yaml:"shapes"`
		// Sweep adds square problems Start, Start+Step, ... up to End.
		Sweep struct {
			Start int `yaml:"start"`
			End   int `yaml:"end"`
			Step  int `yaml:"step"`
		} `yaml:"sweep"`
		WarmupIterations  int     `yaml:"warmupIterations"`
		ProfileIterations int     `yaml:"profileIterations"`
		Min               float64 `yaml:"min"`
		Max               float64 `yaml:"max"`
		Seed              uint64  `yaml:"seed"`
		Verify            struct {
			Enabled bool    `yaml:"enabled"`
			MaxDiff float64 `yaml:"maxDiff"`
			AvgDiff float64 `yaml:"avgDiff"`
			// Problems with more than ReferenceLimit multiply-adds are
			// checked with Freivalds' test instead of a full reference.
			ReferenceLimit      int64   `yaml:"referenceLimit"`
			FreivaldsIterations int     `yaml:"freivaldsIterations"`
			FreivaldsTolerance  float64 `yaml:"freivaldsTolerance"`
		} `yaml:"verify"`
	} `yaml:"benchmark"`
	Metrics struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
	Report struct {
		Path string `yaml:"path"`
	} `yaml:"report"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.Logger.Verbosity = "info"
	c.Logger.Format = "json"
	c.Benchmark.Kernels = []string{"mma_async_stage2"}
	c.Benchmark.Shapes = []Shape{{M: 256, N: 256, K: 256}}
	c.Benchmark.WarmupIterations = 1
	c.Benchmark.ProfileIterations = 10
	c.Benchmark.Min = -2
	c.Benchmark.Max = 2
	c.Benchmark.Seed = 1
	c.Benchmark.Verify.Enabled = true
	c.Benchmark.Verify.MaxDiff = 0.1
	c.Benchmark.Verify.AvgDiff = 0.01
	c.Benchmark.Verify.ReferenceLimit = 1 << 30
	c.Benchmark.Verify.FreivaldsIterations = 8
	c.Benchmark.Verify.FreivaldsTolerance = 1e-3
	c.Metrics.ListenAddress = "127.0.0.1:9090"
	return &c
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Problems returns the explicit shapes followed by the sweep.
func (c *Config) Problems() []Shape {
	shapes := append([]Shape(nil), c.Benchmark.Shapes...)
	sw := c.Benchmark.Sweep
	if sw.Start > 0 && sw.Step > 0 {
		for s := sw.Start; s <= sw.End; s += sw.Step {
			shapes = append(shapes, Shape{M: s, N: s, K: s})
		}
	}
	return shapes
}

func (c *Config) Validate() error {
	b := c.Benchmark
	if len(b.Kernels) == 0 {
		return fmt.Errorf("%w: no kernels selected", ErrInvalidConfig)
	}
	problems := c.Problems()
	if len(problems) == 0 {
		return fmt.Errorf("%w: no problem shapes", ErrInvalidConfig)
	}
	for _, s := range problems {
		if s.M <= 0 || s.N <= 0 || s.K <= 0 {
			return fmt.Errorf("%w: shape %s", ErrInvalidConfig, s)
		}
	}
	if b.Sweep.Start > 0 && (b.Sweep.Step <= 0 || b.Sweep.End < b.Sweep.Start) {
		return fmt.Errorf("%w: sweep %d..%d step %d", ErrInvalidConfig, b.Sweep.Start, b.Sweep.End, b.Sweep.Step)
	}
	if b.WarmupIterations < 0 || b.ProfileIterations <= 0 {
		return fmt.Errorf("%w: %d warmup and %d profile iterations", ErrInvalidConfig, b.WarmupIterations, b.ProfileIterations)
	}
	if b.Min >= b.Max {
		return fmt.Errorf("%w: sampling range [%v, %v)", ErrInvalidConfig, b.Min, b.Max)
	}
	if v := b.Verify; v.Enabled && (v.MaxDiff < 0 || v.AvgDiff < 0 || v.FreivaldsIterations <= 0 || v.FreivaldsTolerance < 0) {
		return fmt.Errorf("%w: verification thresholds", ErrInvalidConfig)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("%w: metrics enabled without a listen address", ErrInvalidConfig)
	}
	return nil
}
