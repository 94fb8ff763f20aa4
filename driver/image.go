package driver

import "fmt"

// ChannelOrder of an image format.
type ChannelOrder int

const (
	ChannelOrderR ChannelOrder = iota + 1
	ChannelOrderRG
	ChannelOrderRGBA
	ChannelOrderBGRA
	ChannelOrderNV12
)

var channelOrderNames = map[ChannelOrder]string{
	ChannelOrderR:    "R",
	ChannelOrderRG:   "RG",
	ChannelOrderRGBA: "RGBA",
	ChannelOrderBGRA: "BGRA",
	ChannelOrderNV12: "NV12",
}

// String implements fmt.Stringer.
func (o ChannelOrder) String() string {
	if name, found := channelOrderNames[o]; found {
		return name
	}
	return fmt.Sprintf("ChannelOrder(%d)", int(o))
}

// NumChannels returns the number of channels per pixel, or 0 for planar/unknown orders.
func (o ChannelOrder) NumChannels() int {
	switch o {
	case ChannelOrderR:
		return 1
	case ChannelOrderRG:
		return 2
	case ChannelOrderRGBA, ChannelOrderBGRA:
		return 4
	default:
		return 0
	}
}

// ChannelType of an image format.
type ChannelType int

const (
	ChannelTypeUnormInt8 ChannelType = iota + 1
	ChannelTypeUnormInt16
	ChannelTypeUnsignedInt8
	ChannelTypeHalfFloat
	ChannelTypeFloat
)

var channelTypeNames = map[ChannelType]string{
	ChannelTypeUnormInt8:    "UnormInt8",
	ChannelTypeUnormInt16:   "UnormInt16",
	ChannelTypeUnsignedInt8: "UnsignedInt8",
	ChannelTypeHalfFloat:    "HalfFloat",
	ChannelTypeFloat:        "Float",
}

// String implements fmt.Stringer.
func (t ChannelType) String() string {
	if name, found := channelTypeNames[t]; found {
		return name
	}
	return fmt.Sprintf("ChannelType(%d)", int(t))
}

// Size returns the size in bytes of one channel, or 0 if unknown.
func (t ChannelType) Size() int {
	switch t {
	case ChannelTypeUnormInt8, ChannelTypeUnsignedInt8:
		return 1
	case ChannelTypeUnormInt16, ChannelTypeHalfFloat:
		return 2
	case ChannelTypeFloat:
		return 4
	default:
		return 0
	}
}

// ImageFormat pairs a channel order and a channel type.
type ImageFormat struct {
	Order ChannelOrder
	Type  ChannelType
}

// PixelSize returns the size of one pixel in bytes, or 0 if the format is not a packed format.
func (f ImageFormat) PixelSize() int {
	return f.Order.NumChannels() * f.Type.Size()
}

// String implements fmt.Stringer.
func (f ImageFormat) String() string {
	return fmt.Sprintf("%s/%s", f.Order, f.Type)
}

// VAImageInfo describes a video surface (or one plane of it) to be wrapped as a device image.
// Its content is interpreted by the driver only.
type VAImageInfo struct {
	SurfaceID uint32
	Format    ImageFormat
	Width     int
	Height    int
	RowPitch  int
	Offset    int
}

// String implements fmt.Stringer.
func (i VAImageInfo) String() string {
	return fmt.Sprintf("VASurface(%d)[%dx%d %s pitch=%d offset=%d]", i.SurfaceID, i.Width, i.Height, i.Format,
		i.RowPitch, i.Offset)
}
