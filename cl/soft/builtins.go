package soft

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"github.com/xcamgo/gocl/driver"
)

// BuiltinSource declares the kernels implemented by the software driver out of the box.
// It can be built as is, or concatenated with other sources.
const BuiltinSource = `
// Sets every byte of dst to value.
__kernel void xcl_fill_u8(__global uchar *dst, uchar value) {
    dst[get_global_id(0)] = value;
}

// Copies src to dst.
__kernel void xcl_copy(__global const uchar *src, __global uchar *dst) {
    size_t i = get_global_id(0);
    dst[i] = src[i];
}

// Gamma correction of 8 bits samples.
__kernel void xcl_gamma_u8(__global const uchar *src, __global uchar *dst, float gamma) {
    size_t i = get_global_id(0);
    dst[i] = convert_uchar_sat(255.0f * pow(src[i] / 255.0f, 1.0f / gamma) + 0.5f);
}

// Multiplies data by factor in place.
__kernel void xcl_scale_f32(__global float *data, float factor) {
    data[get_global_id(0)] *= factor;
}

// Multiplies half precision data by factor in place.
__kernel void xcl_scale_f16(__global half *data, float factor) {
    size_t i = get_global_id(0);
    vstore_half(vload_half(i, data) * factor, i, data);
}

// Sets every channel of every pixel of an 8 bits image to value.
__kernel void xcl_image_fill_u8(__write_only image2d_t image, uchar value) {
    int2 pos = (int2)(get_global_id(0), get_global_id(1));
    write_imageui(image, pos, (uint4)(value));
}
`

func init() {
	RegisterKernel("xcl_fill_u8", fillU8)
	RegisterKernel("xcl_copy", copyBytes)
	RegisterKernel("xcl_gamma_u8", gammaU8)
	RegisterKernel("xcl_scale_f32", scaleF32)
	RegisterKernel("xcl_scale_f16", scaleF16)
	RegisterKernel("xcl_image_fill_u8", imageFillU8)
}

// checkRange fails if the 1D NDRange of inv overflows n elements.
func checkRange(inv *Invocation, n int) error {
	if end := inv.WorkSize.Offset[0] + inv.WorkSize.Items(); end > n {
		return driver.Errorf(driver.OutOfResources, "kernel %s: work item %d out of bounds of buffer of %d elements",
			inv, end-1, n)
	}
	return nil
}

func fillU8(inv *Invocation) error {
	dst := inv.Buffer(0)
	value := inv.Scalar(1).(uint8)
	if err := checkRange(inv, len(dst)); err != nil {
		return err
	}
	inv.ForEach(func(x, _, _ int) { dst[x] = value })
	return nil
}

func copyBytes(inv *Invocation) error {
	src, dst := inv.Buffer(0), inv.Buffer(1)
	if err := checkRange(inv, min(len(src), len(dst))); err != nil {
		return err
	}
	inv.ForEach(func(x, _, _ int) { dst[x] = src[x] })
	return nil
}

func gammaU8(inv *Invocation) error {
	src, dst := inv.Buffer(0), inv.Buffer(1)
	gamma := inv.Float32(2)
	if gamma <= 0 || math32.IsNaN(gamma) || math32.IsInf(gamma, 0) {
		return errors.Errorf("kernel %s: invalid gamma %g", inv, gamma)
	}
	if err := checkRange(inv, min(len(src), len(dst))); err != nil {
		return err
	}
	var table [256]uint8
	for ii := range table {
		v := 255*math32.Pow(float32(ii)/255, 1/gamma) + 0.5
		table[ii] = uint8(math32.Min(math32.Max(v, 0), 255))
	}
	inv.ForEach(func(x, _, _ int) { dst[x] = table[src[x]] })
	return nil
}

func scaleF32(inv *Invocation) error {
	data := inv.Float32s(0)
	factor := inv.Float32(1)
	if err := checkRange(inv, len(data)); err != nil {
		return err
	}
	inv.ForEach(func(x, _, _ int) { data[x] *= factor })
	return nil
}

func scaleF16(inv *Invocation) error {
	data := inv.Uint16s(0)
	factor := inv.Float32(1)
	if err := checkRange(inv, len(data)); err != nil {
		return err
	}
	inv.ForEach(func(x, _, _ int) {
		data[x] = float16.Fromfloat32(float16.Frombits(data[x]).Float32() * factor).Bits()
	})
	return nil
}

func imageFillU8(inv *Invocation) error {
	img := inv.Image(0)
	value := inv.Scalar(1).(uint8)
	info := img.Info
	if info.Format.Type != driver.ChannelTypeUnormInt8 {
		return errors.Errorf("kernel %s: image format %s is not an 8 bits format", inv, info.Format)
	}
	pixelSize := info.Format.PixelSize()
	if info.Format.Order == driver.ChannelOrderNV12 {
		pixelSize = 1 // Luma plane only.
	}
	if inv.WorkSize.Dims != 2 || inv.WorkSize.Global[0] > info.Width || inv.WorkSize.Global[1] > info.Height {
		return driver.Errorf(driver.OutOfResources, "kernel %s: NDRange doesn't fit image of %dx%d", inv, info.Width, info.Height)
	}
	inv.ForEach(func(x, y, _ int) {
		row := img.Row(y)
		for c := range pixelSize {
			row[x*pixelSize+c] = value
		}
	})
	return nil
}
