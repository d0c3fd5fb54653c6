// Package app wires the benchmark components together with fx.
package app

import (
	"context"
	"strings"

	"github.com/jonassorgenfrei/OpenCL/internal/bench"
	"github.com/jonassorgenfrei/OpenCL/internal/config"
	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
	"github.com/jonassorgenfrei/OpenCL/internal/logger"
	"github.com/jonassorgenfrei/OpenCL/internal/metrics"
	"github.com/jonassorgenfrei/OpenCL/internal/strategy"
	"github.com/jonassorgenfrei/OpenCL/kernels"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides everything a benchmark run needs from a *config.Config.
var Module = fx.Options(
	fx.Provide(
		NewLogger,
		NewManager,
		NewBackend,
		NewLoader,
		NewBenchConfig,
		bench.NewRunner,
	),
	fx.Invoke(RegisterMetricsServer),
)

// New builds an application over cfg. Extra options typically populate or
// invoke the runner.
func New(cfg *config.Config, opts ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{
		fx.Supply(cfg),
		fx.NopLogger,
		Module,
	}, opts...)...)
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Logger.Verbosity)
}

// CPUOptions translates the device section of cfg into emulated device
// options. Unset values keep the device defaults.
func CPUOptions(cfg *config.Config) []gpu.CPUOption {
	var opts []gpu.CPUOption
	if cfg.Device.Workers > 0 {
		opts = append(opts, gpu.WithWorkers(cfg.Device.Workers))
	}
	if cfg.Device.MemoryLimit > 0 {
		opts = append(opts, gpu.WithMemoryLimit(cfg.Device.MemoryLimit))
	}
	if cfg.Device.LocalMemory > 0 {
		opts = append(opts, gpu.WithLocalMemory(cfg.Device.LocalMemory))
	}
	if cfg.Device.MaxWorkGroupSize > 0 {
		opts = append(opts, gpu.WithMaxWorkGroupSize(cfg.Device.MaxWorkGroupSize))
	}
	return opts
}

// NewManager enumerates the devices and releases them on stop.
func NewManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gpu.Manager, error) {
	manager, err := gpu.NewManager(log.Named("gpu"), CPUOptions(cfg)...)
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

// NewBackend selects the configured device.
func NewBackend(cfg *config.Config, manager *gpu.Manager) (gpu.Backend, error) {
	return manager.Select(cfg.Device.Index)
}

func NewLoader(cfg *config.Config) *kernels.Loader {
	return kernels.NewLoader(cfg.Kernels.Dir)
}

// NewBenchConfig translates the benchmark section of cfg.
func NewBenchConfig(cfg *config.Config) (bench.Config, error) {
	b := cfg.Benchmark
	strategies, err := strategy.ParseKinds(b.Strategies)
	if err != nil {
		return bench.Config{}, err
	}
	return bench.Config{
		Order:      b.Order,
		Count:      b.Count,
		AVal:       b.AVal,
		BVal:       b.BVal,
		Tolerance:  b.Tolerance,
		Options:    strategy.Options{BlockSize: b.BlockSize, WorkGroupSize: b.WorkGroupSize},
		Strategies: strategies,
		RunHost:    b.RunHost,
		FailFast:   b.FailFast,

		FreivaldsRounds: b.FreivaldsRounds,
	}, nil
}

// RegisterMetricsServer serves /metrics for the lifetime of the app when a
// listen address is configured.
func RegisterMetricsServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.Metrics.ListenAddress)
	if addr == "" {
		return
	}
	srv := metrics.NewServer(addr, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
}
