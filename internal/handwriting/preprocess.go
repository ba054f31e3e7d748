package handwriting

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// InvertMode controls the polarity heuristic.
type InvertMode int

const (
	InvertAuto InvertMode = iota
	InvertAlways
	InvertNever
)

// autoInvertThreshold is the mean intensity above which the background is
// assumed to be bright paper.
const autoInvertThreshold = 0.6

// ParseInvertMode maps PRESCRIPTION_INVERT: "1" forces inversion, "0"
// disables it, anything else auto-detects.
func ParseInvertMode(v string) InvertMode {
	switch v {
	case "1":
		return InvertAlways
	case "0":
		return InvertNever
	}
	return InvertAuto
}

func (m InvertMode) String() string {
	switch m {
	case InvertAlways:
		return "always"
	case InvertNever:
		return "never"
	}
	return "auto"
}

// PreprocessFile loads an image and prepares it as model input.
func PreprocessFile(path string, width, height int, mode InvertMode) (*Tensor, bool, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, false, fmt.Errorf("failed to open image: %w", err)
	}
	t, inverted := Preprocess(img, width, height, mode)
	return t, inverted, nil
}

// Preprocess converts img to a [height, width, 1] grayscale tensor in [0,1],
// stretched to the line geometry, and inverts it so ink is the high value.
// It reports whether the image was inverted.
func Preprocess(img image.Image, width, height int, mode InvertMode) (*Tensor, bool) {
	gray := imaging.Grayscale(img)
	resized := imaging.Resize(gray, width, height, imaging.Linear)

	t := NewTensor(height, width, 1)
	var sum float64
	for y := 0; y < height; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+width*4]
		for x := 0; x < width; x++ {
			v := float32(row[x*4]) / 255
			t.Data[y*width+x] = v
			sum += float64(v)
		}
	}

	var invert bool
	switch mode {
	case InvertAlways:
		invert = true
	case InvertAuto:
		invert = len(t.Data) > 0 && sum/float64(len(t.Data)) > autoInvertThreshold
	}
	if invert {
		for i, v := range t.Data {
			t.Data[i] = 1 - v
		}
	}
	return t, invert
}

// arrangeInput transposes a [H, W, 1] tensor when the model declares its
// input as [W, H, 1].
func arrangeInput(t *Tensor, declared []int) (*Tensor, error) {
	if len(declared) != 3 || sameShape(declared, t.Shape) {
		return t, nil
	}
	if declared[0] == t.Shape[1] && declared[1] == t.Shape[0] {
		return permute(t, []int{2, 1, 3})
	}
	for i, d := range declared {
		if d > 0 && d != t.Shape[i] {
			return nil, fmt.Errorf("model expects input %v, preprocessed image is %v", declared, t.Shape)
		}
	}
	return t, nil
}
