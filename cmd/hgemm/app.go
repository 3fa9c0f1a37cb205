package main

import (
	"context"

	"github.com/fxnlabs/hgemm/internal/bench"
	"github.com/fxnlabs/hgemm/internal/config"
	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/fxnlabs/hgemm/internal/hgemm"
	"github.com/fxnlabs/hgemm/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// appOptions assembles the benchmark object graph around cfg and log.
func appOptions(cfg *config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		fx.Provide(
			newManager,
			newKernelRegistry,
			bench.NewRunner,
		),
		fx.Invoke(registerMetricsServer),
	)
}

func newManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gpu.Manager, error) {
	d := cfg.Device
	manager, err := gpu.NewManager(log.Named("gpu"), gpu.EmulatedConfig{
		Name:                       d.Name,
		Multiprocessors:            d.Multiprocessors,
		SharedMemPerMultiprocessor: d.SharedMemPerMultiprocessor,
		SharedMemPerBlockOptin:     d.SharedMemPerBlockOptin,
		TotalMemory:                d.TotalMemory,
		MaxCopyGroups:              d.MaxCopyGroups,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return manager.Cleanup()
		},
	})
	return manager, nil
}

func newKernelRegistry(manager *gpu.Manager, log *zap.Logger) (*hgemm.Registry, error) {
	return hgemm.NewDefaultRegistry(manager.GetBackend(), log)
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	server := metrics.NewServer(cfg.Metrics.ListenAddress, log)
	lc.Append(fx.Hook{
		OnStart: server.Start,
		OnStop:  server.Stop,
	})
}
