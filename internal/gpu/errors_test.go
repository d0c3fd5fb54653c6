package gpu

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceError(t *testing.T) {
	err := Errorf(KindConfiguration, "select device", StatusInvalidDevice, "%w: 4, 2 devices found", ErrInvalidDevice)
	assert.Equal(t, "select device: configuration error (code -33): invalid device index: 4, 2 devices found", err.Error())
	assert.ErrorIs(t, err, ErrInvalidDevice)

	wrapped := fmt.Errorf("run: %w", err)
	assert.Equal(t, KindConfiguration, KindOf(wrapped))
	assert.Equal(t, StatusInvalidDevice, CodeOf(wrapped))
	assert.Empty(t, BuildLog(wrapped))
}

func TestDeviceError_BuildLog(t *testing.T) {
	err := &DeviceError{Kind: KindResource, Op: "build program", Code: StatusBuildProgramFailure, Log: "1:1: error: expected ';'", Err: ErrBuildFailure}
	assert.Equal(t, "1:1: error: expected ';'", BuildLog(fmt.Errorf("tiled: %w", err)))
	assert.ErrorIs(t, err, ErrBuildFailure)
}

func TestKindOf_PlainError(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Equal(t, StatusSuccess, CodeOf(err))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "configuration", KindConfiguration.String())
	assert.Equal(t, "resource", KindResource.String())
	assert.Equal(t, "execution", KindExecution.String())
	assert.Equal(t, "unknown", ErrorKind(42).String())
}
