package layer

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/vector"

	"github.com/okian/facefx/internal/domain/model"
)

// debugColor is the stroke used when an overlay image is unavailable.
var debugColor = image.NewUniform(color.RGBA{R: 255, G: 0, B: 255, A: 255})

const debugStroke = 2.0

// transform maps source pixels of an iw×ih image onto a box centered at
// (cx, cy), k destination pixels per source pixel, rotated by theta.
func transform(iw, ih, cx, cy, k, theta float64) f64.Aff3 {
	sin, cos := math.Sincos(theta)
	a, b := k*cos, -k*sin
	d, e := k*sin, k*cos
	return f64.Aff3{
		a, b, cx - (a*iw/2 + b*ih/2),
		d, e, cy - (d*iw/2 + e*ih/2),
	}
}

// drawImage draws img centered on the placement with width p.W·p.Scale and
// height following the image aspect.
func drawImage(dst *image.RGBA, img image.Image, p model.Placement, theta, opacity float64) {
	b := img.Bounds()
	iw, ih := float64(b.Dx()), float64(b.Dy())
	k := p.W * p.Scale / iw
	m := transform(iw, ih, p.CX, p.CY, k, theta)
	// the transform is relative to the source origin
	m[2] -= m[0]*float64(b.Min.X) + m[1]*float64(b.Min.Y)
	m[5] -= m[3]*float64(b.Min.X) + m[4]*float64(b.Min.Y)

	opts := &draw.Options{}
	if opacity < 1 {
		opts.SrcMask = image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	}
	draw.BiLinear.Transform(dst, m, img, b, draw.Over, opts)
}

// strokeBox outlines the rotated placement footprint. The ring is an outer
// quad and an inner quad wound the other way, so only the border fills.
func strokeBox(z *vector.Rasterizer, dst *image.RGBA, p model.Placement, theta float64) {
	bounds := dst.Bounds()
	z.Reset(bounds.Dx(), bounds.Dy())
	w, h := p.W*p.Scale, p.H*p.Scale
	outer := corners(p.CX, p.CY, w/2, h/2, theta)
	inner := corners(p.CX, p.CY, math.Max(w/2-debugStroke, 0), math.Max(h/2-debugStroke, 0), theta)

	z.MoveTo(outer[0][0], outer[0][1])
	for _, c := range outer[1:] {
		z.LineTo(c[0], c[1])
	}
	z.ClosePath()
	z.MoveTo(inner[0][0], inner[0][1])
	for i := len(inner) - 1; i > 0; i-- {
		z.LineTo(inner[i][0], inner[i][1])
	}
	z.ClosePath()
	z.DrawOp = draw.Over
	z.Draw(dst, bounds, debugColor, image.Point{})
}

func corners(cx, cy, hw, hh, theta float64) [4][2]float32 {
	sin, cos := math.Sincos(theta)
	var out [4][2]float32
	for i, c := range [4][2]float64{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}} {
		out[i] = [2]float32{
			float32(cx + c[0]*cos - c[1]*sin),
			float32(cy + c[0]*sin + c[1]*cos),
		}
	}
	return out
}
