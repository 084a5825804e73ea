package geometry

import (
	"fmt"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

// RowFunc converts len(dst)/4 source pixels into BGRA. A nil RowFunc means
// the source is already BGRA.
type RowFunc func(dst, src []byte)

// CropBuffer copies r out of a source image with the given row stride into
// a freshly allocated, tightly packed BGRA frame of exactly r's size.
// The returned frame never aliases src.
func CropBuffer(src []byte, width, height, stride int, r capture.CaptureRegion, convert RowFunc) (*capture.CapturedFrame, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("crop: empty region %s", r)
	}
	if r.X < 0 || r.Y < 0 || r.X+r.Width > width || r.Y+r.Height > height {
		return nil, fmt.Errorf("crop: region %s outside %dx%d frame", r, width, height)
	}
	if stride < width*capture.BytesPerPixel {
		return nil, fmt.Errorf("crop: stride %d too small for width %d", stride, width)
	}
	if need := (height-1)*stride + width*capture.BytesPerPixel; len(src) < need {
		return nil, fmt.Errorf("crop: buffer is %d bytes, need %d", len(src), need)
	}

	out := capture.NewFrame(r.Width, r.Height)
	rowBytes := r.Width * capture.BytesPerPixel

	for dy := 0; dy < r.Height; dy++ {
		srcStart := (r.Y+dy)*stride + r.X*capture.BytesPerPixel
		dstStart := dy * rowBytes
		dst := out.Data[dstStart : dstStart+rowBytes]
		row := src[srcStart : srcStart+rowBytes]
		if convert != nil {
			convert(dst, row)
		} else {
			copy(dst, row)
		}
	}

	return out, nil
}

// Crop copies r out of a uniform frame.
func Crop(f *capture.CapturedFrame, r capture.CaptureRegion) (*capture.CapturedFrame, error) {
	out, err := CropBuffer(f.Data, f.Width, f.Height, f.Stride(), r, nil)
	if err != nil {
		return nil, err
	}
	out.Sequence = f.Sequence
	out.Timestamp = f.Timestamp
	return out, nil
}

// FullFrame returns the region covering a whole width x height image.
func FullFrame(width, height int) capture.CaptureRegion {
	return capture.CaptureRegion{Width: width, Height: height}
}
