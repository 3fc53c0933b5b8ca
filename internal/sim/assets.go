package sim

import (
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"os"
)

const placeholderSize = 64

// writePlaceholderPNG renders a small gradient keyed on category and
// variant. The exact pixels are irrelevant; only existence and stability of
// the file matter to the engine.
func writePlaceholderPNG(path, category string, variant int) error {
	h := fnv.New32a()
	_, _ = h.Write([]byte(category))
	seed := h.Sum32() + uint32(variant)*97

	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))
	r := uint8(seed >> 16)
	g := uint8(seed >> 8)
	b := uint8(seed)
	for y := 0; y < placeholderSize; y++ {
		shade := uint8(y * 255 / placeholderSize)
		for x := 0; x < placeholderSize; x++ {
			img.Set(x, y, color.RGBA{R: r, G: g - uint8(uint16(g)*uint16(shade)/512), B: b, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
