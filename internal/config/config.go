package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Device struct {
		// Index selects the device from the enumerated list; the emulated
		// device is always last.
		Index       int   `yaml:"index"`
		Workers     int   `yaml:"workers"`
		MemoryLimit int64 `yaml:"memoryLimit"`
		// LocalMemory and MaxWorkGroupSize override the emulated device's
		// limits when positive.
		LocalMemory      int64 `yaml:"localMemory"`
		MaxWorkGroupSize int   `yaml:"maxWorkGroupSize"`
	} `yaml:"device"`
	Kernels struct {
		Dir string `yaml:"dir"`
	} `yaml:"kernels"`
	Benchmark struct {
		Order           int      `yaml:"order"`
		Count           int      `yaml:"count"`
		AVal            float32  `yaml:"aval"`
		BVal            float32  `yaml:"bval"`
		Tolerance       float64  `yaml:"tolerance"`
		FreivaldsRounds int      `yaml:"freivaldsRounds"`
		BlockSize       int      `yaml:"blockSize"`
		WorkGroupSize   int      `yaml:"workGroupSize"`
		Strategies      []string `yaml:"strategies"`
		RunHost         bool     `yaml:"runHost"`
		FailFast        bool     `yaml:"failFast"`
	} `yaml:"benchmark"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var config Config
	config.Logger.Verbosity = "info"
	config.Benchmark.Order = 1024
	config.Benchmark.Count = 10
	config.Benchmark.AVal = 3
	config.Benchmark.BVal = 5
	config.Benchmark.Tolerance = 0.001
	config.Benchmark.FreivaldsRounds = 2
	config.Benchmark.BlockSize = 16
	return &config
}

// LoadConfig reads the YAML file at path over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the values a run cannot start without.
func (c *Config) Validate() error {
	if c.Device.Index < 0 {
		return fmt.Errorf("device.index must not be negative, got %d", c.Device.Index)
	}
	if c.Benchmark.Order <= 0 {
		return fmt.Errorf("benchmark.order must be positive, got %d", c.Benchmark.Order)
	}
	if c.Benchmark.Count <= 0 {
		return fmt.Errorf("benchmark.count must be positive, got %d", c.Benchmark.Count)
	}
	if c.Benchmark.Tolerance < 0 {
		return fmt.Errorf("benchmark.tolerance must not be negative, got %g", c.Benchmark.Tolerance)
	}
	if c.Benchmark.FreivaldsRounds < 0 {
		return fmt.Errorf("benchmark.freivaldsRounds must not be negative, got %d", c.Benchmark.FreivaldsRounds)
	}
	if c.Benchmark.BlockSize < 0 || c.Benchmark.WorkGroupSize < 0 {
		return fmt.Errorf("benchmark block and work-group sizes must not be negative")
	}
	if c.Device.LocalMemory < 0 || c.Device.MaxWorkGroupSize < 0 {
		return fmt.Errorf("device limits must not be negative")
	}
	return nil
}
