package inference

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Tensor is a single image laid out height, width, channel.
type Tensor struct {
	Shape Shape
	Data  []float32
}

// Preprocess decodes an image, resizes it to shape and scales each channel
// value by scale. Alpha is dropped without compositing against a background.
func Preprocess(r io.Reader, shape Shape, scale float32) (Tensor, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return Tensor{}, fmt.Errorf("%w: empty image", ErrDecode)
	}

	resized := imaging.Resize(img, shape.Width, shape.Height, imaging.Linear)
	if sz := resized.Bounds().Size(); sz.X != shape.Width || sz.Y != shape.Height {
		return Tensor{}, fmt.Errorf("%w: resized image is %dx%d, want %dx%d", ErrDecode, sz.X, sz.Y, shape.Width, shape.Height)
	}

	// NRGBA keeps colour values un-premultiplied, so reading R, G and B
	// straight out of Pix is the same as discarding the alpha channel.
	data := make([]float32, 0, shape.Size())
	for y := 0; y < shape.Height; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+shape.Width*4]
		for x := 0; x < shape.Width; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			if shape.Channels == 1 {
				luma := (299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000
				data = append(data, float32(luma)*scale)
				continue
			}
			data = append(data, float32(r)*scale, float32(g)*scale, float32(b)*scale)
		}
	}
	return Tensor{Shape: shape, Data: data}, nil
}
