package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a production logger at the given verbosity. format is
// "json" (the default when empty) or "console".
func New(verbosity, format string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level

	switch format {
	case "", "json":
	case "console":
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	// Benchmark runs log per iteration at debug level.
	config.Sampling = nil
	return config.Build()
}
