package gpu

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Manager handles device enumeration, selection and lifecycle
type Manager struct {
	devices  []Backend
	selected Backend
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewManager creates a new device manager and enumerates the available
// devices. Real OpenCL devices come first when compiled in; the emulated
// CPU device is always last and is configured by cpuOpts.
func NewManager(logger *zap.Logger, cpuOpts ...CPUOption) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	devices := append(discoverOpenCLDevices(logger), NewCPUBackend(logger.Named("cpu"), cpuOpts...))
	m := NewManagerWithDevices(logger, devices...)

	for i, d := range m.devices {
		if !d.IsAvailable() {
			continue
		}
		m.logger.Debug("Found device", zap.Int("index", i), zap.String("device", d.GetDeviceInfo().Name))
	}
	if len(m.devices) == 0 {
		return nil, fmt.Errorf("no compute device available")
	}
	return m, nil
}

// NewManagerWithDevices creates a manager over an explicit device list.
func NewManagerWithDevices(logger *zap.Logger, devices ...Backend) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{devices: devices, logger: logger}
}

// Devices returns information on every enumerated device, in index order.
func (m *Manager) Devices() []DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]DeviceInfo, len(m.devices))
	for i, d := range m.devices {
		infos[i] = d.GetDeviceInfo()
	}
	return infos
}

// Select initializes the device at index and makes it the current backend.
func (m *Manager) Select(index int) (Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.devices) {
		return nil, Errorf(KindConfiguration, "select device", StatusInvalidDevice,
			"%w: %d, %d devices found", ErrInvalidDevice, index, len(m.devices))
	}
	backend := m.devices[index]
	if !backend.IsAvailable() {
		return nil, Errorf(KindConfiguration, "select device", StatusInvalidDevice,
			"%w: device %d is not available", ErrInvalidDevice, index)
	}
	if m.selected != nil && m.selected != backend {
		if err := m.selected.Cleanup(); err != nil {
			return nil, err
		}
	}
	if err := backend.Initialize(); err != nil {
		_ = backend.Cleanup()
		return nil, err
	}
	m.selected = backend

	info := backend.GetDeviceInfo()
	m.logger.Info("Using device",
		zap.Int("index", index),
		zap.String("device", info.Name),
		zap.String("type", info.Type),
		zap.Int("max_work_group_size", info.MaxWorkGroupSize))
	return backend, nil
}

// GetBackend returns the current backend
func (m *Manager) GetBackend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}

// GetDeviceInfo returns device information from the current backend
func (m *Manager) GetDeviceInfo() DeviceInfo {
	backend := m.GetBackend()
	if backend == nil {
		return DeviceInfo{Name: "No device selected"}
	}
	return backend.GetDeviceInfo()
}

// IsGPUAvailable returns true if the current backend is a real device
func (m *Manager) IsGPUAvailable() bool {
	backend := m.GetBackend()
	if backend == nil {
		return false
	}
	_, isCPU := backend.(*CPUBackend)
	return !isCPU
}

// Cleanup releases resources held by every device
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for _, d := range m.devices {
		err = multierr.Append(err, d.Cleanup())
	}
	m.selected = nil
	return err
}

// GetBackendType returns a string describing the current backend type
func (m *Manager) GetBackendType() string {
	backend := m.GetBackend()
	if backend == nil {
		return "none"
	}

	if _, isCPU := backend.(*CPUBackend); isCPU {
		return "cpu"
	}

	if m.IsGPUAvailable() {
		return "opencl"
	}

	return "unknown"
}
