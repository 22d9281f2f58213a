package model

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// DecodeImage decodes jpeg, png, gif, bmp and tiff data, applying the EXIF
// orientation so phone photos are not classified sideways.
func DecodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// Tensor resizes img to the model input size and returns its pixels in
// channel-first [3][H][W] order, rescaled and normalized.
func (p Preprocessing) Tensor(img image.Image) []float32 {
	resized := resize.Resize(uint(p.Width), uint(p.Height), img, resize.Bilinear)
	bounds := resized.Bounds()

	plane := p.Width * p.Height
	out := make([]float32, 3*plane)

	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*p.Width + x
			out[i] = p.channel(0, float32(r>>8))
			out[plane+i] = p.channel(1, float32(g>>8))
			out[2*plane+i] = p.channel(2, float32(b>>8))
		}
	}
	return out
}

func (p Preprocessing) channel(c int, v float32) float32 {
	if p.Rescale {
		v *= p.RescaleFactor
	}
	if p.Normalize {
		v = (v - p.Mean[c]) / p.Std[c]
	}
	return v
}
