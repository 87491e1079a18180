package compositor

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/okian/facefx/internal/domain/overlay"
)

// composite draws src over dst with the blend mode. Both images must have
// the same bounds. Source-over takes the image/draw fast path; the separable
// modes use the W3C compositing formula on premultiplied pixels.
func composite(dst, src *image.RGBA, mode overlay.BlendMode) {
	switch mode {
	case overlay.BlendMultiply, overlay.BlendScreen, overlay.BlendDarken, overlay.BlendLighten:
		separable(dst, src, mode)
	case overlay.BlendCopy:
		replace(dst, src)
	default:
		draw.Draw(dst, dst.Rect, src, src.Rect.Min, draw.Over)
	}
}

// replace copies every source pixel that is not fully transparent.
func replace(dst, src *image.RGBA) {
	for i := 0; i+3 < len(src.Pix) && i+3 < len(dst.Pix); i += 4 {
		if src.Pix[i+3] != 0 {
			copy(dst.Pix[i:i+4], src.Pix[i:i+4])
		}
	}
}

func separable(dst, src *image.RGBA, mode overlay.BlendMode) {
	n := len(src.Pix)
	if len(dst.Pix) < n {
		n = len(dst.Pix)
	}
	for i := 0; i+3 < n; i += 4 {
		sA := src.Pix[i+3]
		if sA == 0 {
			continue
		}
		sa := float32(sA) / 255
		da := float32(dst.Pix[i+3]) / 255
		for c := 0; c < 3; c++ {
			sc := float32(src.Pix[i+c]) / 255
			dc := float32(dst.Pix[i+c]) / 255
			var cs, cb float32
			if sa > 0 {
				cs = sc / sa
			}
			if da > 0 {
				cb = dc / da
			}
			out := sc*(1-da) + dc*(1-sa) + sa*da*blendChannel(mode, cb, cs)
			dst.Pix[i+c] = to8(out)
		}
		dst.Pix[i+3] = to8(sa + da*(1-sa))
	}
}

func blendChannel(mode overlay.BlendMode, cb, cs float32) float32 {
	switch mode {
	case overlay.BlendMultiply:
		return cb * cs
	case overlay.BlendScreen:
		return cb + cs - cb*cs
	case overlay.BlendDarken:
		return min(cb, cs)
	case overlay.BlendLighten:
		return max(cb, cs)
	}
	return cs
}

func to8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// mirror flips img horizontally in place.
func mirror(img *image.RGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for l, r := 0, (w-1)*4; l < r; l, r = l+4, r-4 {
			row[l], row[r] = row[r], row[l]
			row[l+1], row[r+1] = row[r+1], row[l+1]
			row[l+2], row[r+2] = row[r+2], row[l+2]
			row[l+3], row[r+3] = row[r+3], row[l+3]
		}
	}
}
