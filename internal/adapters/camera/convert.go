package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// V4L2 fourcc codes the source can decode.
const (
	fourccYUYV uint32 = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	fourccMJPG uint32 = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
)

// converter turns raw device buffers into RGBA frames. It reuses its planar
// scratch buffers between calls; the returned image is always fresh.
type converter struct {
	format        uint32
	width, height int
	ycbcr         *image.YCbCr
}

func newConverter(format uint32, width, height int) (*converter, error) {
	c := &converter{format: format, width: width, height: height}
	switch format {
	case fourccYUYV:
		c.ycbcr = image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	case fourccMJPG:
	default:
		return nil, fmt.Errorf("%w: unsupported pixel format %08x", ErrDeviceUnavailable, format)
	}
	return c, nil
}

func (c *converter) convert(raw []byte) (*image.RGBA, error) {
	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	switch c.format {
	case fourccYUYV:
		if err := c.unpackYUYV(raw); err != nil {
			return nil, err
		}
		draw.Draw(dst, dst.Bounds(), c.ycbcr, image.Point{}, draw.Src)
	case fourccMJPG:
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode mjpeg frame: %w", err)
		}
		if img.Bounds().Size() == dst.Bounds().Size() {
			draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
		} else {
			draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		}
	}
	return dst, nil
}

// unpackYUYV splits packed Y0 U Y1 V into the planar scratch image.
func (c *converter) unpackYUYV(raw []byte) error {
	want := c.width * c.height * 2
	if len(raw) < want {
		return fmt.Errorf("short yuyv frame: %d < %d bytes", len(raw), want)
	}
	y, cb, cr := c.ycbcr.Y, c.ycbcr.Cb, c.ycbcr.Cr
	ys, cs := c.ycbcr.YStride, c.ycbcr.CStride
	for row := 0; row < c.height; row++ {
		src := raw[row*c.width*2:]
		for col := 0; col < c.width/2; col++ {
			p := src[col*4:]
			y[row*ys+col*2] = p[0]
			cb[row*cs+col] = p[1]
			y[row*ys+col*2+1] = p[2]
			cr[row*cs+col] = p[3]
		}
	}
	return nil
}
