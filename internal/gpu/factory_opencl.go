//go:build opencl

package gpu

import (
	"github.com/jgillich/go-opencl/cl"
	"go.uber.org/zap"
)

// discoverOpenCLDevices enumerates the devices of every OpenCL platform, in
// platform order.
func discoverOpenCLDevices(logger *zap.Logger) []Backend {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		logger.Warn("OpenCL platforms not available", zap.Error(err))
		return nil
	}

	var devices []Backend
	for _, platform := range platforms {
		platDevices, err := platform.GetDevices(cl.DeviceTypeAll)
		if err != nil {
			logger.Warn("Failed to list OpenCL devices", zap.String("platform", platform.Name()), zap.Error(err))
			continue
		}
		for _, d := range platDevices {
			devices = append(devices, NewOpenCLBackend(logger.Named("opencl"), platform.Name(), d))
		}
	}
	return devices
}
