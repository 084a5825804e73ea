package pipewire

import (
	"fmt"

	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
)

// PixelFormat names a 32-bit packed GStreamer/PipeWire video format.
type PixelFormat string

const (
	FormatBGRA PixelFormat = "BGRA"
	FormatBGRx PixelFormat = "BGRx"
	FormatRGBA PixelFormat = "RGBA"
	FormatRGBx PixelFormat = "RGBx"
)

// Converter returns the row function that turns f into BGRA, or nil when
// f already is BGRA.
func (f PixelFormat) Converter() (geometry.RowFunc, error) {
	switch f {
	case FormatBGRA, "":
		return nil, nil
	case FormatBGRx:
		return bgrxToBGRA, nil
	case FormatRGBA:
		return rgbaToBGRA, nil
	case FormatRGBx:
		return rgbxToBGRA, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %q", string(f))
	}
}

func bgrxToBGRA(dst, src []byte) {
	copy(dst, src[:len(dst)])
	for i := 3; i < len(dst); i += 4 {
		dst[i] = 0xff
	}
}

func rgbaToBGRA(dst, src []byte) {
	for i := 0; i+3 < len(dst); i += 4 {
		dst[i+0] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i+0]
		dst[i+3] = src[i+3]
	}
}

func rgbxToBGRA(dst, src []byte) {
	for i := 0; i+3 < len(dst); i += 4 {
		dst[i+0] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i+0]
		dst[i+3] = 0xff
	}
}
