// Package kernels provides the OpenCL C sources of the matrix multiply
// kernels, embedded at build time and optionally overridden from disk.
package kernels

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
)

// Sources contains the embedded kernel sources
//
//go:embed *.cl
var Sources embed.FS

// Loader resolves kernel source files by name.
type Loader struct {
	// Dir overrides the embedded sources when set.
	Dir string
}

// NewLoader returns a loader reading from dir, or from the embedded sources
// when dir is empty.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

// Load returns the source text of file. A missing file is a resource error.
func (l *Loader) Load(file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if l == nil || l.Dir == "" {
		data, err = Sources.ReadFile(file)
	} else {
		data, err = os.ReadFile(filepath.Join(l.Dir, file))
	}
	if err != nil {
		code := gpu.StatusInvalidProgram
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("cannot open kernel source %s: %w", file, err)
		}
		return "", &gpu.DeviceError{Kind: gpu.KindResource, Op: "load program", Code: code, Err: err}
	}
	return string(data), nil
}

// Files lists the embedded kernel source names.
func Files() []string {
	entries, err := Sources.ReadDir(".")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
