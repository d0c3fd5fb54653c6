package gpu

import "fmt"

// NDRange is the dispatch configuration of one kernel invocation.
// A nil Local lets the device choose the work-group shape.
type NDRange struct {
	Global []int
	Local  []int
}

// Range1D returns a one-dimensional range of n work-items.
func Range1D(n int) NDRange {
	return NDRange{Global: []int{n}}
}

// Range2D returns a two-dimensional range of x by y work-items.
func Range2D(x, y int) NDRange {
	return NDRange{Global: []int{x, y}}
}

// WithLocal returns a copy of r with the given work-group extent.
func (r NDRange) WithLocal(local ...int) NDRange {
	return NDRange{Global: append([]int(nil), r.Global...), Local: append([]int(nil), local...)}
}

// Dims returns the number of dimensions of the range.
func (r NDRange) Dims() int {
	return len(r.Global)
}

// WorkItems returns the total number of work-items.
func (r NDRange) WorkItems() int {
	n := 1
	for _, g := range r.Global {
		n *= g
	}
	return n
}

// GroupSize returns the number of work-items per work-group, or 0 when no
// local extent is set.
func (r NDRange) GroupSize() int {
	if r.Local == nil {
		return 0
	}
	n := 1
	for _, l := range r.Local {
		n *= l
	}
	return n
}

// Groups returns the number of work-groups along each axis.
func (r NDRange) Groups() []int {
	groups := make([]int, len(r.Global))
	for d := range r.Global {
		groups[d] = r.Global[d] / r.Local[d]
	}
	return groups
}

func (r NDRange) String() string {
	if r.Local == nil {
		return fmt.Sprintf("global%v", r.Global)
	}
	return fmt.Sprintf("global%v local%v", r.Global, r.Local)
}

// Validate checks the range against the device's maximum work-group size.
// The global extent must be an integer multiple of the local extent on
// every axis when a local extent is supplied.
func (r NDRange) Validate(maxWorkGroupSize int) error {
	const op = "validate range"
	if len(r.Global) < 1 || len(r.Global) > 3 {
		return Errorf(KindConfiguration, op, StatusInvalidWorkDimension, "%d dimensions, want 1 to 3", len(r.Global))
	}
	for d, g := range r.Global {
		if g <= 0 {
			return Errorf(KindConfiguration, op, StatusInvalidGlobalWorkSize, "global extent %d on axis %d", g, d)
		}
	}
	if r.Local == nil {
		return nil
	}
	if len(r.Local) != len(r.Global) {
		return Errorf(KindConfiguration, op, StatusInvalidWorkDimension, "local %v does not match global %v", r.Local, r.Global)
	}
	for d, l := range r.Local {
		if l <= 0 || r.Global[d]%l != 0 {
			return Errorf(KindConfiguration, op, StatusInvalidWorkGroupSize, "%w: local %v does not divide global %v", ErrInvalidWorkGroupSize, r.Local, r.Global)
		}
	}
	if maxWorkGroupSize > 0 && r.GroupSize() > maxWorkGroupSize {
		return Errorf(KindConfiguration, op, StatusInvalidWorkGroupSize, "%w: %d work-items per group exceeds device limit %d", ErrInvalidWorkGroupSize, r.GroupSize(), maxWorkGroupSize)
	}
	return nil
}

// defaultLocal picks a work-group shape for ranges dispatched without one:
// per axis the largest divisor of the global extent not above a preferred
// width. The widest axis is then narrowed until the group fits the device.
func defaultLocal(global []int, maxWorkGroupSize int) []int {
	pref := [...]int{64, 16, 8}[len(global)-1]
	local := make([]int, len(global))
	for d, g := range global {
		local[d] = largestDivisor(g, min(pref, g))
	}
	for maxWorkGroupSize > 0 {
		size, widest := 1, 0
		for d, l := range local {
			size *= l
			if l > local[widest] {
				widest = d
			}
		}
		if size <= maxWorkGroupSize {
			break
		}
		local[widest] = largestDivisor(global[widest], local[widest]-1)
	}
	return local
}

// largestDivisor returns the largest divisor of g not above limit.
func largestDivisor(g, limit int) int {
	for g%limit != 0 {
		limit--
	}
	return limit
}
