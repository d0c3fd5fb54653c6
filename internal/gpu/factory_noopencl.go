//go:build !opencl

package gpu

import "go.uber.org/zap"

// discoverOpenCLDevices finds nothing when built without the opencl tag
func discoverOpenCLDevices(logger *zap.Logger) []Backend {
	logger.Debug("Built without OpenCL support, only the emulated device is available")
	return nil
}
