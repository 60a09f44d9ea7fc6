package embedding

import (
	"image"

	"golang.org/x/image/draw"
)

// CLIP normalization constants, shared by the patch32 and patch14 checkpoints.
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Processor converts decoded images into the pixel tensor the CLIP vision
// model expects: a centered square crop scaled to size x size, normalized
// per channel, laid out CHW.
type Processor struct {
	size int
}

// NewProcessor creates a processor producing size x size inputs.
func NewProcessor(size int) *Processor {
	if size <= 0 {
		size = 224
	}
	return &Processor{size: size}
}

// Size returns the target edge length.
func (p *Processor) Size() int { return p.size }

// Process returns the normalized CHW pixel values, length 3*size*size.
func (p *Processor) Process(img image.Image) []float32 {
	scaled := p.scaleCenterSquare(img)

	n := p.size * p.size
	out := make([]float32, 3*n)
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			r, g, b, _ := scaled.At(x, y).RGBA()
			i := y*p.size + x
			out[i] = (float32(r)/65535.0 - clipMean[0]) / clipStd[0]
			out[n+i] = (float32(g)/65535.0 - clipMean[1]) / clipStd[1]
			out[2*n+i] = (float32(b)/65535.0 - clipMean[2]) / clipStd[2]
		}
	}
	return out
}

// scaleCenterSquare crops the largest centered square from img and scales it
// to size x size.
func (p *Processor) scaleCenterSquare(img image.Image) *image.RGBA {
	b := img.Bounds()
	edge := b.Dx()
	if b.Dy() < edge {
		edge = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-edge)/2
	y0 := b.Min.Y + (b.Dy()-edge)/2
	src := image.Rect(x0, y0, x0+edge, y0+edge)

	dst := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}
