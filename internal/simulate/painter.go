package simulate

import (
	"image"
	"image/color"
	"math"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/okian/facefx/internal/domain/model"
)

var (
	skin       = image.NewUniform(color.RGBA{224, 180, 150, 255})
	feature    = image.NewUniform(color.RGBA{40, 30, 30, 255})
	background = [2]color.RGBA{{40, 60, 90, 255}, {90, 120, 150, 255}}
)

// Paint draws the face at time at over a vertical gradient. Its signature
// matches camera.PaintFunc.
func (m *Motion) Paint(_ uint64, at time.Time, img *image.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		t := float64(y) / float64(max(h-1, 1))
		c := color.RGBA{
			R: lerp(background[0].R, background[1].R, t),
			G: lerp(background[0].G, background[1].G, t),
			B: lerp(background[0].B, background[1].B, t),
			A: 255,
		}
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			row[x], row[x+1], row[x+2], row[x+3] = c.R, c.G, c.B, c.A
		}
	}

	pose := m.At(at)
	z := vector.NewRasterizer(w, h)
	z.DrawOp = draw.Over
	ellipse(z, pose, 0, 0, 1, 1, w, h)
	z.Draw(img, b, skin, image.Point{})

	z.Reset(w, h)
	z.DrawOp = draw.Over
	for _, i := range []int{model.LeftEyeCenter, model.RightEyeCenter} {
		u, v := local(i)
		ellipse(z, pose, u, v, 0.12, 0.06, w, h)
	}
	nu, nv := local(model.NoseTip)
	ellipse(z, pose, nu, nv, 0.06, 0.05, w, h)
	z.Draw(img, b, feature, image.Point{})
}

// ellipse adds a face-local ellipse centered at (u, v) with radii (ru, rv).
func ellipse(z *vector.Rasterizer, p Pose, u, v, ru, rv float64, w, h int) {
	const steps = 48
	for s := 0; s <= steps; s++ {
		t := 2 * math.Pi * float64(s) / steps
		x, y := p.pixel(u+ru*math.Cos(t), v+rv*math.Sin(t), w, h)
		if s == 0 {
			z.MoveTo(float32(x), float32(y))
			continue
		}
		z.LineTo(float32(x), float32(y))
	}
	z.ClosePath()
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}
