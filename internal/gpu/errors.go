package gpu

import (
	"errors"
	"fmt"
)

// ErrorKind classifies device failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConfiguration covers invalid device indices, block sizes and
	// work-group shapes.
	KindConfiguration
	// KindResource covers allocation failures, kernel build failures and
	// missing kernel sources.
	KindResource
	// KindExecution covers launch and completion failures.
	KindExecution
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResource:
		return "resource"
	case KindExecution:
		return "execution"
	default:
		return "unknown"
	}
}

// Status codes mirror the OpenCL cl.h values so that errors from the emulator
// and from real devices print the same way.
const (
	StatusSuccess               = 0
	StatusMemAllocationFailure  = -4
	StatusOutOfResources        = -5
	StatusBuildProgramFailure   = -11
	StatusInvalidValue          = -30
	StatusInvalidDevice         = -33
	StatusInvalidProgram        = -44
	StatusInvalidKernelName     = -46
	StatusInvalidArgValue       = -50
	StatusInvalidKernelArgs     = -52
	StatusInvalidWorkDimension  = -53
	StatusInvalidWorkGroupSize  = -54
	StatusInvalidWorkItemSize   = -55
	StatusInvalidOperation      = -59
	StatusInvalidBufferSize     = -61
	StatusInvalidGlobalWorkSize = -63
	StatusExecutionFailure      = -9999
)

var (
	ErrInvalidDevice        = errors.New("invalid device index")
	ErrInvalidWorkGroupSize = errors.New("invalid work-group size")
	ErrOutOfMemory          = errors.New("device memory exhausted")
	ErrBuildFailure         = errors.New("kernel build failure")
	ErrLaunchFailure        = errors.New("kernel launch failure")
	ErrNotInitialized       = errors.New("backend not initialized")
	ErrReleased             = errors.New("use of released object")
)

// DeviceError is the error value returned by every Backend operation.
type DeviceError struct {
	Kind ErrorKind
	Op   string
	Code int
	// Log holds the compiler diagnostic output for build failures.
	Log string
	Err error
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("%s: %s error (code %d)", e.Op, e.Kind, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Errorf builds a DeviceError around a formatted message.
func Errorf(kind ErrorKind, op string, code int, format string, args ...any) *DeviceError {
	return &DeviceError{Kind: kind, Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the ErrorKind of the first DeviceError in err's chain.
func KindOf(err error) ErrorKind {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// CodeOf returns the status code of the first DeviceError in err's chain.
func CodeOf(err error) int {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code
	}
	return StatusSuccess
}

// BuildLog returns the compiler log carried by err, if any.
func BuildLog(err error) string {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Log
	}
	return ""
}
