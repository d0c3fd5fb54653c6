package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jonassorgenfrei/OpenCL/fixtures"
	"github.com/jonassorgenfrei/OpenCL/internal/app"
	"github.com/jonassorgenfrei/OpenCL/internal/bench"
	"github.com/jonassorgenfrei/OpenCL/internal/config"
	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
	"github.com/jonassorgenfrei/OpenCL/internal/report"
	"github.com/jonassorgenfrei/OpenCL/internal/strategy"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the benchmark on the selected device",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Usage: "Device index, see `matmul devices`"},
			&cli.IntFlag{Name: "order", Aliases: []string{"n"}, Usage: "Order of the square matrices"},
			&cli.IntFlag{Name: "count", Usage: "Iterations per strategy"},
			&cli.Float64Flag{Name: "tolerance", Usage: "Accepted accumulated squared error"},
			&cli.IntFlag{Name: "block-size", Usage: "Tile edge of the tiled strategy"},
			&cli.IntFlag{Name: "work-group-size", Usage: "Work-group size of the row-private strategies"},
			&cli.StringSliceFlag{Name: "strategy", Aliases: []string{"s"}, Usage: "Strategies to run, all when unset"},
			&cli.StringFlag{Name: "kernels", Usage: "Directory to load kernel sources from"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address"},
			&cli.BoolFlag{Name: "host", Usage: "Also time the sequential multiply on the host"},
			&cli.BoolFlag{Name: "fail-fast", Usage: "Stop at the first failed strategy"},
		},
		Action: func(c *cli.Context) error {
			cfg, log := metadata(c)
			applyRunFlags(c, cfg)
			if err := cfg.Validate(); err != nil {
				return cli.Exit(err.Error(), 2)
			}

			var (
				runner  *bench.Runner
				manager *gpu.Manager
			)
			application := app.New(cfg, fx.Populate(&runner, &manager))
			if err := application.Err(); err != nil {
				return exitError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := application.Start(ctx); err != nil {
				return exitError(err)
			}
			defer func() {
				if err := application.Stop(context.Background()); err != nil {
					log.Warn("failed to stop cleanly", zap.Error(err))
				}
			}()

			figure.NewFigure("matmul", "", true).Print()
			fmt.Println()
			fmt.Printf("Backend: %s\n", manager.GetBackendType())
			if !manager.IsGPUAvailable() {
				log.Warn("No OpenCL device selected, timings come from the emulated device",
					zap.String("device", manager.GetDeviceInfo().Name))
			}

			res, err := runner.Run(ctx)
			if res != nil {
				report.Results(os.Stdout, res)
			}
			if err != nil {
				return exitError(err)
			}
			if err := res.Err(); err != nil {
				errs := multierr.Errors(err)
				for _, e := range errs {
					fmt.Fprintf(os.Stderr, "%s\n", describe(e))
				}
				return cli.Exit(fmt.Sprintf("%d of %d strategies failed", len(errs), len(res.Strategies)), 1)
			}
			return nil
		},
	}
}

func applyRunFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("device") {
		cfg.Device.Index = c.Int("device")
	}
	if c.IsSet("order") {
		cfg.Benchmark.Order = c.Int("order")
	}
	if c.IsSet("count") {
		cfg.Benchmark.Count = c.Int("count")
	}
	if c.IsSet("tolerance") {
		cfg.Benchmark.Tolerance = c.Float64("tolerance")
	}
	if c.IsSet("block-size") {
		cfg.Benchmark.BlockSize = c.Int("block-size")
	}
	if c.IsSet("work-group-size") {
		cfg.Benchmark.WorkGroupSize = c.Int("work-group-size")
	}
	if c.IsSet("strategy") {
		cfg.Benchmark.Strategies = c.StringSlice("strategy")
	}
	if c.IsSet("kernels") {
		cfg.Kernels.Dir = c.String("kernels")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.ListenAddress = c.String("metrics-addr")
	}
	if c.IsSet("host") {
		cfg.Benchmark.RunHost = c.Bool("host")
	}
	if c.IsSet("fail-fast") {
		cfg.Benchmark.FailFast = c.Bool("fail-fast")
	}
}

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the available compute devices",
		Action: func(c *cli.Context) error {
			cfg, log := metadata(c)
			manager, err := gpu.NewManager(log.Named("gpu"), app.CPUOptions(cfg)...)
			if err != nil {
				return exitError(err)
			}
			defer func() { _ = manager.Cleanup() }()

			devices := manager.Devices()
			fmt.Printf("Number of devices: %d\n", len(devices))
			report.Devices(os.Stdout, devices)
			return nil
		},
	}
}

func strategiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "strategies",
		Usage: "Show the dispatch configuration of every strategy",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "order", Aliases: []string{"n"}, Usage: "Order of the square matrices"},
			&cli.IntFlag{Name: "block-size", Usage: "Tile edge of the tiled strategy"},
			&cli.IntFlag{Name: "work-group-size", Usage: "Work-group size of the row-private strategies"},
		},
		Action: func(c *cli.Context) error {
			cfg, _ := metadata(c)
			applyRunFlags(c, cfg)
			opts := strategy.Options{BlockSize: cfg.Benchmark.BlockSize, WorkGroupSize: cfg.Benchmark.WorkGroupSize}
			report.Strategies(os.Stdout, strategy.All(), cfg.Benchmark.Order, opts)
			return nil
		},
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Write a configuration file template",
		ArgsUsage: "[path]",
		Flags:     []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
		},
		Action: func(c *cli.Context) error {
			_, log := metadata(c)
			path := defaultConfigPath
			if c.Args().Present() {
				path = c.Args().First()
			}
			if _, err := os.Stat(path); err == nil && !c.Bool("force") {
				return cli.Exit(fmt.Sprintf("%s already exists, use --force to overwrite", path), 1)
			}
			if err := os.WriteFile(path, fixtures.ConfigTemplate, 0644); err != nil {
				return err
			}
			log.Info("Configuration written", zap.String("path", path))
			return nil
		},
	}
}

// exitError maps device errors to an exit carrying their status code.
func exitError(err error) error {
	return cli.Exit(describe(err), 1)
}

func describe(err error) string {
	if code := gpu.CodeOf(err); code != gpu.StatusSuccess {
		msg := fmt.Sprintf("%v (code %d)", err, code)
		if log := gpu.BuildLog(err); log != "" {
			msg += "\n" + log
		}
		return msg
	}
	return err.Error()
}
