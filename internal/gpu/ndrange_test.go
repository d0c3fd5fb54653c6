package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNDRange(t *testing.T) {
	r := Range2D(1024, 1024).WithLocal(16, 16)
	assert.Equal(t, 2, r.Dims())
	assert.Equal(t, 1024*1024, r.WorkItems())
	assert.Equal(t, 256, r.GroupSize())
	assert.Equal(t, []int{64, 64}, r.Groups())
	assert.Equal(t, "global[1024 1024] local[16 16]", r.String())
	assert.Equal(t, "global[1024]", Range1D(1024).String())
}

func TestNDRange_WithLocalCopies(t *testing.T) {
	base := Range1D(64)
	r := base.WithLocal(8)
	r.Global[0] = 32
	assert.Equal(t, []int{64}, base.Global)
	assert.Nil(t, base.Local)
}

func TestNDRange_Validate(t *testing.T) {
	testCases := []struct {
		name string
		r    NDRange
		max  int
		code int
	}{
		{"1D without local", Range1D(1024), 1024, StatusSuccess},
		{"2D tiles", Range2D(1024, 1024).WithLocal(16, 16), 1024, StatusSuccess},
		{"3D", NDRange{Global: []int{8, 8, 8}, Local: []int{2, 2, 2}}, 1024, StatusSuccess},
		{"four dimensions", NDRange{Global: []int{2, 2, 2, 2}}, 1024, StatusInvalidWorkDimension},
		{"zero global", Range1D(0), 1024, StatusInvalidGlobalWorkSize},
		{"local rank mismatch", Range2D(16, 16).WithLocal(4), 1024, StatusInvalidWorkDimension},
		{"local does not divide", Range1D(1000).WithLocal(16), 1024, StatusInvalidWorkGroupSize},
		{"zero local", Range1D(16).WithLocal(0), 1024, StatusInvalidWorkGroupSize},
		{"group too large", Range2D(64, 64).WithLocal(64, 64), 1024, StatusInvalidWorkGroupSize},
		{"no device limit", Range2D(64, 64).WithLocal(64, 64), 0, StatusSuccess},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.r.Validate(tc.max)
			if tc.code == StatusSuccess {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, KindConfiguration, KindOf(err))
			assert.Equal(t, tc.code, CodeOf(err))
		})
	}
}

func TestDefaultLocal(t *testing.T) {
	testCases := []struct {
		global []int
		max    int
		want   []int
	}{
		{[]int{1024}, 1024, []int{64}},
		{[]int{100}, 1024, []int{50}},
		{[]int{7}, 1024, []int{7}},
		{[]int{1024, 1024}, 1024, []int{16, 16}},
		{[]int{48, 10}, 1024, []int{16, 10}},
		{[]int{8, 8, 9}, 1024, []int{8, 8, 3}},
		{[]int{1024}, 0, []int{64}},
		{[]int{1024}, 48, []int{32}},
		{[]int{16, 16}, 8, []int{2, 4}},
		{[]int{1024, 1024}, 1, []int{1, 1}},
		{[]int{7, 5}, 6, []int{1, 5}},
	}

	for _, tc := range testCases {
		local := defaultLocal(tc.global, tc.max)
		assert.Equal(t, tc.want, local, "global %v max %d", tc.global, tc.max)
		assert.NoError(t, NDRange{Global: tc.global, Local: local}.Validate(tc.max))
	}
}
