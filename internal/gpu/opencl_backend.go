//go:build opencl

package gpu

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jgillich/go-opencl/cl"
	"go.uber.org/zap"
)

// OpenCLBackend implements Backend on a real OpenCL device
type OpenCLBackend struct {
	logger      *zap.Logger
	device      *cl.Device
	platform    string
	initialized bool
	deviceInfo  DeviceInfo

	mu      sync.Mutex
	context *cl.Context
	queue   *cl.CommandQueue
}

// NewOpenCLBackend creates a new OpenCL backend instance for device
func NewOpenCLBackend(logger *zap.Logger, platform string, device *cl.Device) *OpenCLBackend {
	o := &OpenCLBackend{
		logger:   logger,
		device:   device,
		platform: platform,
	}
	o.deviceInfo = DeviceInfo{
		Name:              device.Name(),
		Vendor:            device.Vendor(),
		Type:              device.Type().String(),
		TotalMemory:       device.GlobalMemSize(),
		AvailableMemory:   device.GlobalMemSize(), // OpenCL doesn't report free memory
		LocalMemory:       device.LocalMemSize(),
		ComputeUnits:      device.MaxComputeUnits(),
		MaxWorkGroupSize:  device.MaxWorkGroupSize(),
		ComputeCapability: device.Version(),
		DriverVersion:     device.DriverVersion(),
		Extensions:        strings.Fields(device.Extensions()),
	}
	return o
}

// Initialize creates the context and command queue
func (o *OpenCLBackend) Initialize() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return nil
	}

	o.logger.Debug("Initializing OpenCL backend", zap.String("platform", o.platform))

	context, err := cl.CreateContext([]*cl.Device{o.device})
	if err != nil {
		return o.wrap(KindResource, "create context", err)
	}
	queue, err := context.CreateCommandQueue(o.device, 0)
	if err != nil {
		context.Release()
		return o.wrap(KindResource, "create command queue", err)
	}
	o.context = context
	o.queue = queue
	o.initialized = true

	o.logger.Info("OpenCL backend initialized",
		zap.String("device", o.deviceInfo.Name),
		zap.String("platform", o.platform),
		zap.Int("compute_units", o.deviceInfo.ComputeUnits),
		zap.Int64("local_memory_kb", o.deviceInfo.LocalMemory/1024),
		zap.Float64("total_memory_gb", float64(o.deviceInfo.TotalMemory)/(1<<30)))
	return nil
}

// CreateBuffer allocates n float32 elements of device memory
func (o *OpenCLBackend) CreateBuffer(access Access, n int) (Buffer, error) {
	if !o.initialized {
		return nil, &DeviceError{Kind: KindConfiguration, Op: "create buffer", Code: StatusInvalidOperation, Err: ErrNotInitialized}
	}
	if n <= 0 {
		return nil, Errorf(KindConfiguration, "create buffer", StatusInvalidBufferSize, "buffer of %d elements", n)
	}
	var flags cl.MemFlag
	switch access {
	case ReadOnly:
		flags = cl.MemReadOnly
	case WriteOnly:
		flags = cl.MemWriteOnly
	default:
		flags = cl.MemReadWrite
	}
	mem, err := o.context.CreateEmptyBuffer(flags, 4*n)
	if err != nil {
		return nil, o.wrap(KindResource, "create buffer", err)
	}
	return &clBuffer{mem: mem, n: n, access: access}, nil
}

// Write uploads src into buf and blocks until the transfer completes
func (o *OpenCLBackend) Write(buf Buffer, src []float32) error {
	b, ok := buf.(*clBuffer)
	if !ok || b.mem == nil {
		return Errorf(KindConfiguration, "write buffer", StatusInvalidKernelArgs, "buffer %T does not belong to this device", buf)
	}
	if len(src) != b.n {
		return Errorf(KindConfiguration, "write buffer", StatusInvalidValue, "host size %d, buffer size %d", len(src), b.n)
	}
	ev, err := o.queue.EnqueueWriteBufferFloat32(b.mem, true, 0, src, nil)
	if err != nil {
		return o.wrap(KindExecution, "write buffer", err)
	}
	releaseEvent(ev)
	return nil
}

// Read copies buf back into dst and blocks until the transfer completes
func (o *OpenCLBackend) Read(buf Buffer, dst []float32) error {
	b, ok := buf.(*clBuffer)
	if !ok || b.mem == nil {
		return Errorf(KindConfiguration, "read buffer", StatusInvalidKernelArgs, "buffer %T does not belong to this device", buf)
	}
	if len(dst) != b.n {
		return Errorf(KindConfiguration, "read buffer", StatusInvalidValue, "host size %d, buffer size %d", len(dst), b.n)
	}
	ev, err := o.queue.EnqueueReadBufferFloat32(b.mem, true, 0, dst, nil)
	if err != nil {
		return o.wrap(KindExecution, "read buffer", err)
	}
	releaseEvent(ev)
	return nil
}

// Build compiles the kernel's OpenCL C source for this device
func (o *OpenCLBackend) Build(spec KernelSpec) (Kernel, error) {
	if !o.initialized {
		return nil, &DeviceError{Kind: KindConfiguration, Op: "build kernel", Code: StatusInvalidOperation, Err: ErrNotInitialized}
	}
	if spec.Source == "" {
		return nil, &DeviceError{Kind: KindResource, Op: "build kernel", Code: StatusInvalidProgram,
			Log: fmt.Sprintf("kernel %q has no OpenCL source", spec.Name), Err: ErrBuildFailure}
	}

	program, err := o.context.CreateProgramWithSource([]string{spec.Source})
	if err != nil {
		return nil, o.wrap(KindResource, "create program", err)
	}
	if err := program.BuildProgram(nil, spec.Options); err != nil {
		program.Release()
		return nil, &DeviceError{Kind: KindResource, Op: "build program", Code: StatusBuildProgramFailure,
			Log: err.Error(), Err: fmt.Errorf("%w: %s", ErrBuildFailure, spec.Name)}
	}
	kernel, err := program.CreateKernel(spec.Name)
	if err != nil {
		program.Release()
		return nil, o.wrap(KindResource, "create kernel", err)
	}
	o.logger.Debug("Kernel built", zap.String("kernel", spec.Name))
	return &clKernel{name: spec.Name, program: program, kernel: kernel}, nil
}

// Enqueue binds args, dispatches the kernel and waits on the queue
func (o *OpenCLBackend) Enqueue(kernel Kernel, r NDRange, args ...any) error {
	k, ok := kernel.(*clKernel)
	if !ok || k.kernel == nil {
		return Errorf(KindExecution, "enqueue kernel", StatusInvalidOperation, "%w: kernel", ErrReleased)
	}
	if err := r.Validate(o.deviceInfo.MaxWorkGroupSize); err != nil {
		return err
	}

	clArgs := make([]interface{}, len(args))
	var local int64
	for i, arg := range args {
		switch v := arg.(type) {
		case Buffer:
			b, ok := v.(*clBuffer)
			if !ok || b.mem == nil {
				return Errorf(KindConfiguration, "set kernel args", StatusInvalidKernelArgs, "buffer %T at index %d", v, i)
			}
			clArgs[i] = b.mem
		case LocalArg:
			local += v.Bytes()
			clArgs[i] = cl.LocalBuffer(v.Bytes())
		case int:
			clArgs[i] = int32(v)
		case int32, uint32, float32:
			clArgs[i] = v
		default:
			return Errorf(KindConfiguration, "set kernel args", StatusInvalidKernelArgs, "unsupported argument %T at index %d", arg, i)
		}
	}
	if local > o.deviceInfo.LocalMemory {
		return Errorf(KindResource, "set kernel args", StatusOutOfResources,
			"%d bytes of local scratch requested, device has %d", local, o.deviceInfo.LocalMemory)
	}
	if err := k.kernel.SetArgs(clArgs...); err != nil {
		return o.wrap(KindConfiguration, "set kernel args", err)
	}

	ev, err := o.queue.EnqueueNDRangeKernel(k.kernel, nil, r.Global, r.Local, nil)
	if err != nil {
		return o.wrap(KindExecution, "enqueue kernel", err)
	}
	releaseEvent(ev)
	if err := o.queue.Finish(); err != nil {
		return o.wrap(KindExecution, "finish", err)
	}
	return nil
}

// GetDeviceInfo returns information about the OpenCL device
func (o *OpenCLBackend) GetDeviceInfo() DeviceInfo {
	return o.deviceInfo
}

// IsAvailable checks if the device can be used
func (o *OpenCLBackend) IsAvailable() bool {
	return o.device != nil
}

// Cleanup releases the command queue and context
func (o *OpenCLBackend) Cleanup() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil
	}
	o.logger.Debug("Cleaning up OpenCL backend")
	o.queue.Release()
	o.context.Release()
	o.queue, o.context = nil, nil
	o.initialized = false
	return nil
}

// wrap classifies an OpenCL runtime error
func (o *OpenCLBackend) wrap(kind ErrorKind, op string, err error) error {
	code := StatusExecutionFailure
	switch {
	case errors.Is(err, cl.ErrMemObjectAllocationFailure):
		kind, code = KindResource, StatusMemAllocationFailure
	case errors.Is(err, cl.ErrOutOfResources):
		kind, code = KindResource, StatusOutOfResources
	case errors.Is(err, cl.ErrBuildProgramFailure):
		kind, code = KindResource, StatusBuildProgramFailure
	case errors.Is(err, cl.ErrInvalidWorkGroupSize):
		kind, code = KindConfiguration, StatusInvalidWorkGroupSize
	case errors.Is(err, cl.ErrInvalidDevice):
		kind, code = KindConfiguration, StatusInvalidDevice
	}
	return &DeviceError{Kind: kind, Op: op, Code: code, Err: err}
}

type clBuffer struct {
	mem    *cl.MemObject
	n      int
	access Access
}

func (b *clBuffer) Len() int       { return b.n }
func (b *clBuffer) Access() Access { return b.access }

func (b *clBuffer) Release() error {
	if b.mem != nil {
		b.mem.Release()
		b.mem = nil
	}
	return nil
}

type clKernel struct {
	name    string
	program *cl.Program
	kernel  *cl.Kernel
}

func (k *clKernel) Name() string { return k.name }

func (k *clKernel) Release() error {
	if k.kernel != nil {
		k.kernel.Release()
		k.program.Release()
		k.kernel, k.program = nil, nil
	}
	return nil
}

func releaseEvent(ev *cl.Event) {
	if ev != nil {
		ev.Release()
	}
}
