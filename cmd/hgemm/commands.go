package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fxnlabs/hgemm/fixtures"
	"github.com/fxnlabs/hgemm/internal/bench"
	"github.com/fxnlabs/hgemm/internal/config"
	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func metadata(c *cli.Context) (*config.Config, *zap.Logger) {
	return c.App.Metadata["config"].(*config.Config), c.App.Metadata["logger"].(*zap.Logger)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the configured benchmark sweep",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "kernel",
				Usage: "Kernel to benchmark; repeat to select several (overrides the config)",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write the JSON report to this path (overrides the config)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Do not print the banner",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log := metadata(c)
			if kernels := c.StringSlice("kernel"); len(kernels) > 0 {
				cfg.Benchmark.Kernels = kernels
			}
			if path := c.String("report"); path != "" {
				cfg.Report.Path = path
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				runner  *bench.Runner
				manager *gpu.Manager
			)
			app := fx.New(appOptions(cfg, log), fx.Populate(&runner, &manager))
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := app.Stop(context.Background()); err != nil {
					log.Error("failed to stop app", zap.Error(err))
				}
			}()

			if !c.Bool("quiet") {
				printBanner(c.App.Writer, manager.GetBackendType(), manager.GetDeviceInfo())
			}

			report, err := runner.Run(ctx)
			if report != nil && cfg.Report.Path != "" {
				if serr := report.Save(cfg.Report.Path); serr != nil {
					return errors.Join(err, serr)
				}
				log.Info("Report written", zap.String("path", cfg.Report.Path), zap.Stringer("run_id", report.RunID))
			}
			return err
		},
	}
}

func deviceCommand() *cli.Command {
	return &cli.Command{
		Name:  "device",
		Usage: "Print the emulated device properties as JSON",
		Action: func(c *cli.Context) error {
			cfg, log := metadata(c)

			var manager *gpu.Manager
			app := fx.New(appOptions(cfg, log), fx.Populate(&manager))
			if err := app.Start(c.Context); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			data, err := json.MarshalIndent(manager.GetDeviceInfo(), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, string(data))
			return err
		},
	}
}

func configCommands() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the benchmark config",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the default config template",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					_, log := metadata(c)
					path := c.App.Metadata["configPath"].(string)
					if !c.Bool("force") {
						if _, err := os.Stat(path); err == nil {
							return fmt.Errorf("%s already exists, use --force to overwrite", path)
						}
					}
					if err := os.WriteFile(path, fixtures.ConfigTemplate, 0o644); err != nil {
						return err
					}
					log.Info("Config written", zap.String("path", path))
					return nil
				},
			},
		},
	}
}
