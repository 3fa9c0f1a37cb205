package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/hgemm/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "console", config.Logger.Format)
		assert.Equal(t, 4, config.Device.Multiprocessors)
		assert.Equal(t, 102400, config.Device.SharedMemPerMultiprocessor)
		assert.Equal(t, []string{"mma_async_stage2_small", "simt_naive"}, config.Benchmark.Kernels)
		assert.Equal(t, 2, config.Benchmark.WarmupIterations)
		assert.Equal(t, 5, config.Benchmark.ProfileIterations)
		assert.Equal(t, 0.5, config.Benchmark.Verify.MaxDiff)
		assert.True(t, config.Metrics.Enabled)
		assert.Equal(t, "127.0.0.1:9191", config.Metrics.ListenAddress)
		assert.Equal(t, "/tmp/hgemm-report.json", config.Report.Path)

		// Unset fields keep their defaults.
		assert.Equal(t, 0.01, config.Benchmark.Verify.AvgDiff)
		assert.Equal(t, -2.0, config.Benchmark.Min)
		assert.Equal(t, 2.0, config.Benchmark.Max)

		assert.Equal(t, []Shape{
			{M: 128, N: 128, K: 64},
			{M: 256, N: 256, K: 256},
			{M: 512, N: 512, K: 512},
		}, config.Problems())
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir, err := os.Getwd()
		require.NoError(t, err)

		configPath := filepath.Join(dir, "..", "..", "fixtures", "tests", "invalid_config", "config.yaml")
		_, err = LoadConfig(configPath)
		assert.Error(t, err)
	})

	t.Run("embedded template", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, fixtures.ConfigTemplate, 0o600))

		config, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"simt_naive", "mma_async_stage2", "mma_async_stage3"}, config.Benchmark.Kernels)
		assert.Equal(t, []Shape{{M: 256, N: 256, K: 256}}, config.Problems())
		assert.Equal(t, 8, config.Device.MaxCopyGroups)
		assert.False(t, config.Metrics.Enabled)
	})
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	tests := map[string]func(c *Config){
		"no kernels":       func(c *Config) { c.Benchmark.Kernels = nil },
		"no shapes":        func(c *Config) { c.Benchmark.Shapes = nil },
		"negative shape":   func(c *Config) { c.Benchmark.Shapes = []Shape{{M: -1, N: 1, K: 1}} },
		"zero iterations":  func(c *Config) { c.Benchmark.ProfileIterations = 0 },
		"empty range":      func(c *Config) { c.Benchmark.Min = 1; c.Benchmark.Max = 1 },
		"backwards sweep":  func(c *Config) { c.Benchmark.Sweep.Start = 512; c.Benchmark.Sweep.End = 256 },
		"bad thresholds":   func(c *Config) { c.Benchmark.Verify.MaxDiff = -1 },
		"metrics address":  func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" },
		"freivalds rounds": func(c *Config) { c.Benchmark.Verify.FreivaldsIterations = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestShape(t *testing.T) {
	s := Shape{M: 256, N: 128, K: 64}
	assert.Equal(t, "256x128x64", s.String())
	assert.Equal(t, 2.0*256*128*64, s.Flops())
}
