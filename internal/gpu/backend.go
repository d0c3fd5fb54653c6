package gpu

// DeviceInfo contains information about a compute device
type DeviceInfo struct {
	Name              string   `json:"name"`
	Vendor            string   `json:"vendor"`
	Type              string   `json:"type"`
	TotalMemory       int64    `json:"totalMemory"`     // in bytes
	AvailableMemory   int64    `json:"availableMemory"` // in bytes
	LocalMemory       int64    `json:"localMemory"`     // group-shared scratch per work-group, in bytes
	ComputeUnits      int      `json:"computeUnits"`
	MaxWorkGroupSize  int      `json:"maxWorkGroupSize"`
	ComputeCapability string   `json:"computeCapability"`
	DriverVersion     string   `json:"driverVersion"`
	Extensions        []string `json:"extensions,omitempty"`
}

// Access tags a device buffer for the duration of a kernel invocation.
type Access int

const (
	ReadOnly Access = iota + 1
	WriteOnly
	ReadWrite
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	case ReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// Buffer is a device-resident mirror of a host matrix.
type Buffer interface {
	// Len returns the number of float32 elements held by the buffer.
	Len() int
	Access() Access
	Release() error
}

// LocalArg requests a group-shared scratch region of the given number of
// float32 elements. It is passed as a kernel argument.
type LocalArg int

// Bytes returns the size of the scratch region in bytes.
func (l LocalArg) Bytes() int64 {
	return int64(l) * 4
}

// Kernel is a compiled kernel bound to one device.
type Kernel interface {
	Name() string
	Release() error
}

// Backend defines the narrow dispatch interface to a compute device.
// Multiple device implementations (OpenCL, the CPU emulator) sit behind it and
// the dispatch strategies are written once against it.
//
// Implementation notes:
//   - Enqueue is host-synchronous: it returns after the dispatch completed
//   - Write and Read block until the transfer is done
//   - Every failure is returned as a *DeviceError carrying its ErrorKind
//   - Resource cleanup is critical to prevent device memory leaks
type Backend interface {
	// CreateBuffer allocates n float32 elements of device memory.
	CreateBuffer(access Access, n int) (Buffer, error)

	// Write uploads src into buf. len(src) must equal buf.Len().
	Write(buf Buffer, src []float32) error

	// Read copies buf back into dst. len(dst) must equal buf.Len().
	Read(buf Buffer, dst []float32) error

	// Build compiles a kernel for this device. Build failures carry the
	// compiler diagnostic log on the returned DeviceError.
	Build(spec KernelSpec) (Kernel, error)

	// Enqueue dispatches kernel over r and waits for completion.
	//
	// Arguments follow the kernel's signature in order: int32 scalars,
	// Buffers and LocalArg scratch sizes.
	Enqueue(kernel Kernel, r NDRange, args ...any) error

	// GetDeviceInfo returns information about the device
	// This information is used for:
	// - Validating work-group sizes and scratch requests
	// - Console reporting and metrics
	GetDeviceInfo() DeviceInfo

	// IsAvailable checks if the backend is available for use
	// This should perform a quick check without heavy initialization
	IsAvailable() bool

	// Initialize prepares the backend for use
	// Should be called once before first use
	Initialize() error

	// Cleanup releases any resources held by the backend
	// Must be called when the backend is no longer needed
	Cleanup() error
}
