package recognize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"

	// Challenge images arrive as PNG, JPEG or GIF depending on the site's
	// captcha backend.
	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// Normalize runs the deterministic pre-processing pipeline applied before the
// OCR pass: grayscale, contrast stretch, median noise removal, 2x upscale.
// The output is always PNG.
func Normalize(src []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode challenge image: %w", err)
	}

	gray := toGray(img)
	stretchContrast(gray)
	gray = medianFilter(gray)
	scaled := upscale(gray, 2)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("encode normalized image: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	return gray
}

// stretchContrast remaps pixel intensities so the darkest pixel becomes 0 and
// the brightest 255, in place.
func stretchContrast(img *image.Gray) {
	minV, maxV := uint8(255), uint8(0)
	for _, p := range img.Pix {
		if p < minV {
			minV = p
		}
		if p > maxV {
			maxV = p
		}
	}
	if maxV <= minV {
		return
	}
	scale := 255.0 / float64(maxV-minV)
	for i, p := range img.Pix {
		img.Pix[i] = uint8(float64(p-minV) * scale)
	}
}

// medianFilter applies a 3x3 median pass to knock out speckle noise lines.
func medianFilter(img *image.Gray) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	window := make([]uint8, 0, 9)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			window = window[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < bounds.Min.X || nx >= bounds.Max.X || ny < bounds.Min.Y || ny >= bounds.Max.Y {
						continue
					}
					window = append(window, img.GrayAt(nx, ny).Y)
				}
			}
			sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
			out.SetGray(x, y, color.Gray{Y: window[len(window)/2]})
		}
	}
	return out
}

func upscale(img *image.Gray, factor int) *image.Gray {
	bounds := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, bounds.Dx()*factor, bounds.Dy()*factor))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}
