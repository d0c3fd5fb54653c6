package gpu

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"
)

const (
	defaultMaxWorkGroupSize = 1024
	defaultLocalMemory      = 64 * 1024
	fallbackTotalMemory     = 8 * 1024 * 1024 * 1024 // 8GB
)

// CPUBackend implements Backend by emulating a compute device on the host.
// Work-groups are scheduled on a bounded pool of goroutines; the work-items
// of a group that synchronises on barriers run concurrently.
type CPUBackend struct {
	logger      *zap.Logger
	initialized bool
	info        DeviceInfo

	workers          int
	memoryLimit      int64
	localMemory      int64
	maxWorkGroupSize int

	mu        sync.Mutex
	allocated int64
}

// CPUOption tunes the emulated device.
type CPUOption func(*CPUBackend)

// WithWorkers bounds the number of work-groups executing at once.
func WithWorkers(n int) CPUOption {
	return func(c *CPUBackend) { c.workers = n }
}

// WithMemoryLimit caps the global memory the device hands out, in bytes.
func WithMemoryLimit(bytes int64) CPUOption {
	return func(c *CPUBackend) { c.memoryLimit = bytes }
}

// WithLocalMemory sets the group-shared scratch available per work-group.
func WithLocalMemory(bytes int64) CPUOption {
	return func(c *CPUBackend) { c.localMemory = bytes }
}

// WithMaxWorkGroupSize sets the largest accepted work-group.
func WithMaxWorkGroupSize(n int) CPUOption {
	return func(c *CPUBackend) { c.maxWorkGroupSize = n }
}

// NewCPUBackend creates a new emulated device instance
func NewCPUBackend(logger *zap.Logger, opts ...CPUOption) *CPUBackend {
	c := &CPUBackend{
		logger:           logger,
		workers:          runtime.GOMAXPROCS(0),
		localMemory:      defaultLocalMemory,
		maxWorkGroupSize: defaultMaxWorkGroupSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize prepares the emulated device for use
func (c *CPUBackend) Initialize() error {
	if c.initialized {
		return nil
	}

	total, available := systemMemory()
	if c.memoryLimit <= 0 || c.memoryLimit > total {
		c.memoryLimit = total
	}
	if available > c.memoryLimit {
		available = c.memoryLimit
	}

	c.info = DeviceInfo{
		Name:              fmt.Sprintf("Emulated device (CPU %s)", runtime.GOARCH),
		Vendor:            "Go runtime",
		Type:              "CPU",
		TotalMemory:       c.memoryLimit,
		AvailableMemory:   available,
		LocalMemory:       c.localMemory,
		ComputeUnits:      c.workers,
		MaxWorkGroupSize:  c.maxWorkGroupSize,
		ComputeCapability: "N/A",
		DriverVersion:     runtime.Version(),
		Extensions:        cpuExtensions(),
	}
	c.initialized = true
	c.logger.Info("CPU backend initialized",
		zap.String("device", c.info.Name),
		zap.Int("compute_units", c.info.ComputeUnits),
		zap.Int64("total_memory_mb", c.info.TotalMemory/(1024*1024)),
		zap.Strings("extensions", c.info.Extensions))
	return nil
}

// Cleanup releases any resources (none for CPU backend)
func (c *CPUBackend) Cleanup() error {
	c.initialized = false
	return nil
}

// IsAvailable checks if the backend is available (always true for CPU)
func (c *CPUBackend) IsAvailable() bool {
	return true
}

// GetDeviceInfo returns device information for the emulated device
func (c *CPUBackend) GetDeviceInfo() DeviceInfo {
	if !c.initialized {
		return DeviceInfo{Name: fmt.Sprintf("Emulated device (CPU %s)", runtime.GOARCH), Type: "CPU"}
	}
	info := c.info
	c.mu.Lock()
	info.AvailableMemory = min(info.AvailableMemory, c.memoryLimit-c.allocated)
	c.mu.Unlock()
	return info
}

// CreateBuffer allocates n float32 elements of emulated device memory.
func (c *CPUBackend) CreateBuffer(access Access, n int) (Buffer, error) {
	const op = "create buffer"
	if !c.initialized {
		return nil, &DeviceError{Kind: KindConfiguration, Op: op, Code: StatusInvalidOperation, Err: ErrNotInitialized}
	}
	if n <= 0 {
		return nil, Errorf(KindConfiguration, op, StatusInvalidBufferSize, "buffer of %d elements", n)
	}
	if access < ReadOnly || access > ReadWrite {
		return nil, Errorf(KindConfiguration, op, StatusInvalidValue, "invalid access flag %d", access)
	}

	size := int64(n) * 4
	c.mu.Lock()
	if c.allocated+size > c.memoryLimit {
		allocated := c.allocated
		c.mu.Unlock()
		return nil, Errorf(KindResource, op, StatusMemAllocationFailure,
			"%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, size, allocated, c.memoryLimit)
	}
	c.allocated += size
	c.mu.Unlock()

	return &cpuBuffer{owner: c, access: access, data: make([]float32, n)}, nil
}

// Write uploads src into buf.
func (c *CPUBackend) Write(buf Buffer, src []float32) error {
	b, err := c.buffer("write buffer", buf)
	if err != nil {
		return err
	}
	if len(src) != len(b.data) {
		return Errorf(KindConfiguration, "write buffer", StatusInvalidValue, "host size %d, buffer size %d", len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

// Read copies buf back into dst.
func (c *CPUBackend) Read(buf Buffer, dst []float32) error {
	b, err := c.buffer("read buffer", buf)
	if err != nil {
		return err
	}
	if len(dst) != len(b.data) {
		return Errorf(KindConfiguration, "read buffer", StatusInvalidValue, "host size %d, buffer size %d", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

// Build checks the kernel's source declares its entry point and binds the
// host rendition.
func (c *CPUBackend) Build(spec KernelSpec) (Kernel, error) {
	const op = "build kernel"
	if !c.initialized {
		return nil, &DeviceError{Kind: KindConfiguration, Op: op, Code: StatusInvalidOperation, Err: ErrNotInitialized}
	}
	if spec.Name == "" {
		return nil, Errorf(KindResource, op, StatusInvalidKernelName, "kernel without a name")
	}
	if spec.Func == nil {
		return nil, &DeviceError{
			Kind: KindResource, Op: op, Code: StatusBuildProgramFailure,
			Log: fmt.Sprintf("kernel %q has no host rendition", spec.Name),
			Err: ErrBuildFailure,
		}
	}
	if spec.Source != "" && !declaresKernel(spec.Source, spec.Name) {
		return nil, &DeviceError{
			Kind: KindResource, Op: op, Code: StatusInvalidKernelName,
			Log: fmt.Sprintf("no __kernel function named %q in program source", spec.Name),
			Err: ErrBuildFailure,
		}
	}
	c.logger.Debug("Kernel built", zap.String("kernel", spec.Name), zap.Bool("barriers", spec.Barriers))
	return &cpuKernel{spec: spec}, nil
}

// Enqueue runs kernel over r and returns once every work-group finished.
func (c *CPUBackend) Enqueue(kernel Kernel, r NDRange, args ...any) error {
	const op = "enqueue kernel"
	if !c.initialized {
		return &DeviceError{Kind: KindConfiguration, Op: op, Code: StatusInvalidOperation, Err: ErrNotInitialized}
	}
	k, ok := kernel.(*cpuKernel)
	if !ok || k.released {
		return Errorf(KindExecution, op, StatusInvalidOperation, "%w: kernel", ErrReleased)
	}
	if err := r.Validate(c.maxWorkGroupSize); err != nil {
		return err
	}
	if r.Local == nil {
		r = r.WithLocal(defaultLocal(r.Global, c.maxWorkGroupSize)...)
		if err := r.Validate(c.maxWorkGroupSize); err != nil {
			return err
		}
	}

	base, err := c.resolveArgs(args)
	if err != nil {
		return err
	}

	d := newDispatch(k.spec, r, base)
	groups := r.Groups()
	total := 1
	for _, g := range groups {
		total *= g
	}

	c.logger.Debug("Dispatching kernel",
		zap.String("kernel", k.spec.Name),
		zap.Stringer("range", r),
		zap.Int("work_items", r.WorkItems()),
		zap.Int("work_groups", total))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(max(c.workers, 1))
	for gi := 0; gi < total; gi++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			return d.runGroup(gi)
		})
	}
	if err := g.Wait(); err != nil {
		return &DeviceError{Kind: KindExecution, Op: op, Code: StatusExecutionFailure, Err: fmt.Errorf("%w: %s: %w", ErrLaunchFailure, k.spec.Name, err)}
	}
	return nil
}

// resolveArgs maps kernel arguments onto host values. LocalArg entries are
// left in place and allocated per work-group.
func (c *CPUBackend) resolveArgs(args []any) ([]any, error) {
	const op = "set kernel args"
	var local int64
	resolved := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case Buffer:
			b, err := c.buffer(op, v)
			if err != nil {
				return nil, err
			}
			resolved[i] = b.data
		case LocalArg:
			if v <= 0 {
				return nil, Errorf(KindConfiguration, op, StatusInvalidArgValue, "local scratch of %d elements at arg %d", v, i)
			}
			local += v.Bytes()
			resolved[i] = v
		case int32, int, uint32, float32:
			resolved[i] = v
		default:
			return nil, Errorf(KindConfiguration, op, StatusInvalidKernelArgs, "unsupported argument %T at index %d", arg, i)
		}
	}
	if local > c.localMemory {
		return nil, Errorf(KindResource, op, StatusOutOfResources, "%d bytes of local scratch requested, device has %d", local, c.localMemory)
	}
	return resolved, nil
}

func (c *CPUBackend) buffer(op string, buf Buffer) (*cpuBuffer, error) {
	if !c.initialized {
		return nil, &DeviceError{Kind: KindConfiguration, Op: op, Code: StatusInvalidOperation, Err: ErrNotInitialized}
	}
	b, ok := buf.(*cpuBuffer)
	if !ok || b.owner != c {
		return nil, Errorf(KindConfiguration, op, StatusInvalidKernelArgs, "buffer %T does not belong to this device", buf)
	}
	if b.data == nil {
		return nil, Errorf(KindExecution, op, StatusInvalidOperation, "%w: buffer", ErrReleased)
	}
	return b, nil
}

func (c *CPUBackend) free(size int64) {
	c.mu.Lock()
	c.allocated -= size
	c.mu.Unlock()
}

type cpuBuffer struct {
	owner  *CPUBackend
	access Access
	data   []float32
}

func (b *cpuBuffer) Len() int       { return len(b.data) }
func (b *cpuBuffer) Access() Access { return b.access }

func (b *cpuBuffer) Release() error {
	if b.data == nil {
		return nil
	}
	b.owner.free(int64(len(b.data)) * 4)
	b.data = nil
	return nil
}

type cpuKernel struct {
	spec     KernelSpec
	released bool
}

func (k *cpuKernel) Name() string { return k.spec.Name }

func (k *cpuKernel) Release() error {
	k.released = true
	return nil
}

// dispatch holds the state shared by the work-groups of one Enqueue.
type dispatch struct {
	spec   KernelSpec
	local  [3]int
	groups [3]int
	args   []any
}

func newDispatch(spec KernelSpec, r NDRange, args []any) *dispatch {
	d := &dispatch{spec: spec, args: args}
	d.local, d.groups = [3]int{1, 1, 1}, [3]int{1, 1, 1}
	for i := 0; i < r.Dims(); i++ {
		d.local[i] = r.Local[i]
		d.groups[i] = r.Global[i] / r.Local[i]
	}
	return d
}

func (d *dispatch) runGroup(index int) (err error) {
	group := unflatten(index, d.groups)

	args := make([]any, len(d.args))
	for i, a := range d.args {
		if l, ok := a.(LocalArg); ok {
			args[i] = make([]float32, l)
			continue
		}
		args[i] = a
	}

	size := d.local[0] * d.local[1] * d.local[2]
	items := make([]WorkItem, size)
	for li := range items {
		local := unflatten(li, d.local)
		wi := &items[li]
		wi.local = local
		wi.group = group
		wi.localSize = d.local
		for dim := 0; dim < 3; dim++ {
			wi.global[dim] = group[dim]*d.local[dim] + local[dim]
		}
	}

	if !d.spec.Barriers {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("work-group %v: %v", group, r)
			}
		}()
		for li := range items {
			d.spec.Func(&items[li], args)
		}
		return nil
	}

	bar := newBarrier(size)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for li := range items {
		items[li].barrier = bar
		wg.Add(1)
		go func(wi *WorkItem) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					if r != errBarrierBroken {
						once.Do(func() {
							firstErr = fmt.Errorf("work-group %v, local id %v: %v", group, wi.local, r)
						})
					}
					bar.breakAll()
					return
				}
				bar.leave()
			}()
			d.spec.Func(wi, args)
		}(&items[li])
	}
	wg.Wait()
	if firstErr == nil && bar.broken {
		firstErr = fmt.Errorf("work-group %v: %w", group, errBarrierBroken)
	}
	return firstErr
}

func unflatten(index int, extent [3]int) [3]int {
	return [3]int{
		index % extent[0],
		(index / extent[0]) % extent[1],
		index / (extent[0] * extent[1]),
	}
}

func declaresKernel(source, name string) bool {
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "__kernel") && !strings.HasPrefix(line, "kernel") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == '('
		})
		for i, f := range fields {
			if f == "void" && i+1 < len(fields) && fields[i+1] == name {
				return true
			}
		}
	}
	return false
}

// systemMemory returns total and available host memory in bytes
func systemMemory() (int64, int64) {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return fallbackTotalMemory, fallbackTotalMemory / 2
	}
	return int64(vm.Total), int64(vm.Available)
}

// cpuExtensions reports the host SIMD features the emulated device runs on
func cpuExtensions() []string {
	var ext []string
	add := func(ok bool, name string) {
		if ok {
			ext = append(ext, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasFP, "fp")
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasSVE, "sve")
	}
	return ext
}
