package gpu

// WorkItemFunc is the host rendition of a kernel. It runs once per
// work-item. args holds the resolved kernel arguments in signature order:
// scalars as passed, Buffers as their []float32 contents and LocalArg
// entries as the work-group's shared []float32 scratch.
type WorkItemFunc func(wi *WorkItem, args []any)

// KernelSpec describes one kernel in both of its renditions: OpenCL C source
// for real devices and a WorkItemFunc for the emulated device.
type KernelSpec struct {
	// Name is the kernel entry point in Source.
	Name    string
	Source  string
	Options string
	Func    WorkItemFunc
	// Barriers marks kernels that synchronise their work-group. The emulator
	// runs the work-items of such groups concurrently.
	Barriers bool
}
