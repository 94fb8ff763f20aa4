package driver

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	require.Equal(t, Success, StatusOf(nil))
	err := errors.WithMessage(Errorf(InvalidKernelArgs, "arg %d not set", 2), "enqueue")
	require.Equal(t, InvalidKernelArgs, StatusOf(err))
	require.ErrorContains(t, err, "CL_INVALID_KERNEL_ARGS")
	require.Equal(t, InvalidValue, StatusOf(errors.New("plain")))
	require.Equal(t, "CL_UNKNOWN_ERROR(-1000)", Status(-1000).String())
}

func TestWorkSize(t *testing.T) {
	w := WorkSize2D(64, 32)
	require.NoError(t, w.Validate())
	require.Equal(t, 64*32, w.Items())
	require.Equal(t, "[64 32]", w.String())

	w.Local = [3]int{5, 0, 0}
	require.Equal(t, InvalidWorkGroupSize, StatusOf(w.Validate()))
	require.Equal(t, InvalidWorkDimension, StatusOf(WorkSize{}.Validate()))
	require.Equal(t, InvalidGlobalWorkSize, StatusOf(WorkSize{Dims: 1}.Validate()))
}

func TestImageFormat(t *testing.T) {
	f := ImageFormat{Order: ChannelOrderRGBA, Type: ChannelTypeHalfFloat}
	require.Equal(t, 8, f.PixelSize())
	require.Equal(t, "RGBA/HalfFloat", f.String())
	require.Equal(t, 0, ImageFormat{Order: ChannelOrderNV12, Type: ChannelTypeUnormInt8}.PixelSize())
}

func TestRegistry(t *testing.T) {
	require.Error(t, Register("nil-driver", nil))
	_, found := Lookup("not-registered")
	require.False(t, found)
}
