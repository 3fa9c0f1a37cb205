package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxnlabs/hgemm/internal/config"
	"github.com/fxnlabs/hgemm/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const defaultConfigPath = "hgemm.yaml"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		if log, ok := app.Metadata["logger"].(*zap.Logger); ok {
			log.Fatal("failed to run app", zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var configPath, verbosity string

	return &cli.App{
		Name:  "hgemm",
		Usage: "Half-precision GEMM micro-benchmark on an emulated tensor-core device",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Value:       defaultConfigPath,
				Usage:       "Path to the YAML config; defaults apply when the file does not exist",
				EnvVars:     []string{"HGEMM_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "verbosity",
				Usage:       "Override the configured log level",
				EnvVars:     []string{"HGEMM_VERBOSITY"},
				Destination: &verbosity,
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if verbosity != "" {
				cfg.Logger.Verbosity = verbosity
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity, cfg.Logger.Format)
			if err != nil {
				return err
			}
			c.App.Metadata["config"] = cfg
			c.App.Metadata["configPath"] = configPath
			c.App.Metadata["logger"] = zapLogger.Named("hgemm")
			return nil
		},
		After: func(c *cli.Context) error {
			if log, ok := c.App.Metadata["logger"].(*zap.Logger); ok {
				_ = log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand(),
			deviceCommand(),
			configCommands(),
		},
	}
}

// loadConfig reads path, falling back to the defaults when it is missing.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}
