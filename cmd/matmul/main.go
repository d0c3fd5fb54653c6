package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jonassorgenfrei/OpenCL/internal/config"
	"github.com/jonassorgenfrei/OpenCL/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const defaultConfigPath = "matmul.yaml"

func main() {
	app := &cli.App{
		Name:     "matmul",
		Usage:    "Benchmark matrix multiply dispatch strategies on OpenCL devices",
		Metadata: map[string]interface{}{},
		Flags:    []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "Path to the configuration file",
				EnvVars: []string{"MATMUL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"), c.IsSet("config"))
			if err != nil {
				return err
			}
			if c.IsSet("verbosity") {
				cfg.Logger.Verbosity = c.String("verbosity")
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity)
			if err != nil {
				return err
			}
			c.App.Metadata["config"] = cfg
			c.App.Metadata["logger"] = zapLogger.Named("cli")
			return nil
		},
		Commands: []*cli.Command{
			runCommand(),
			devicesCommand(),
			strategiesCommand(),
			initCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path over the defaults. A missing file is only an error
// when the path was given explicitly.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

func metadata(c *cli.Context) (*config.Config, *zap.Logger) {
	return c.App.Metadata["config"].(*config.Config), c.App.Metadata["logger"].(*zap.Logger)
}
