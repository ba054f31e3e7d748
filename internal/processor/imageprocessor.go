// imageprocessor.go - Image preprocessing for better OCR accuracy

package processor

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultMaxDimension bounds the longest side handed to the OCR engine.
const DefaultMaxDimension = 2500

// EnhancementLevel is the adaptive processing tier chosen for an image.
type EnhancementLevel string

const (
	EnhancementLight      EnhancementLevel = "light"
	EnhancementStandard   EnhancementLevel = "standard"
	EnhancementAggressive EnhancementLevel = "aggressive"
)

// PreprocessResult is a prepared image ready for the OCR engine.
type PreprocessResult struct {
	PNG          []byte
	QualityScore float64
	Level        EnhancementLevel
	Width        int
	Height       int
}

// PreprocessForOCR applies adaptive enhancement based on measured image
// quality and returns the result PNG-encoded (lossless, so thin pen strokes
// survive). maxDimension <= 0 uses DefaultMaxDimension.
func PreprocessForOCR(imagePath string, maxDimension int) (*PreprocessResult, error) {
	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return PreprocessImage(img, maxDimension)
}

// PreprocessImage is PreprocessForOCR for an already decoded image.
func PreprocessImage(img image.Image, maxDimension int) (*PreprocessResult, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}

	// Step 1: Analyze image quality
	qualityScore := AnalyzeImageQuality(img)

	// Step 2: Resize to optimal size
	img = fitWithin(img, maxDimension)

	// Step 3: Apply adaptive processing based on quality score
	var level EnhancementLevel
	if qualityScore < 50 {
		img = applyAggressiveEnhancement(img)
		level = EnhancementAggressive
	} else if qualityScore < 75 {
		img = applyStandardEnhancement(img)
		level = EnhancementStandard
	} else {
		img = applyLightEnhancement(img)
		level = EnhancementLight
	}

	// Step 4: Final sharpening pass
	img = imaging.Sharpen(img, 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode processed image: %w", err)
	}

	bounds := img.Bounds()
	return &PreprocessResult{
		PNG:          buf.Bytes(),
		QualityScore: qualityScore,
		Level:        level,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
	}, nil
}

func fitWithin(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxDimension && height <= maxDimension {
		return img
	}
	if width > height {
		return imaging.Resize(img, maxDimension, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDimension, imaging.Lanczos)
}

// AnalyzeImageQuality analyzes image and returns quality score (0-100)
func AnalyzeImageQuality(img image.Image) float64 {
	bounds := img.Bounds()

	var totalBrightness float64
	var minBrightness float64 = 255
	var maxBrightness float64 = 0
	pixelCount := 0

	// Sample pixels (every 10th pixel for performance)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			brightness := (float64(r>>8) + float64(g>>8) + float64(b>>8)) / 3.0

			totalBrightness += brightness
			if brightness < minBrightness {
				minBrightness = brightness
			}
			if brightness > maxBrightness {
				maxBrightness = brightness
			}
			pixelCount++
		}
	}
	if pixelCount == 0 {
		return 0
	}

	avgBrightness := totalBrightness / float64(pixelCount)
	contrast := maxBrightness - minBrightness

	// Ideal: avgBrightness = 128, contrast = 200+
	brightnessScore := 100.0 - math.Abs(avgBrightness-128.0)/1.28
	contrastScore := math.Min(contrast/2.0, 100.0)

	// Weight: 40% brightness, 60% contrast
	return (brightnessScore * 0.4) + (contrastScore * 0.6)
}

// applyLightEnhancement for good quality images
func applyLightEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 2.0)
	result = imaging.AdjustContrast(result, 30)
	result = imaging.Grayscale(result)
	result = imaging.AdjustContrast(result, 20)
	return imaging.AdjustGamma(result, 1.05)
}

// applyStandardEnhancement for medium quality images
func applyStandardEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 3.0)
	result = imaging.AdjustContrast(result, 45)
	result = imaging.AdjustBrightness(result, 15)
	result = imaging.Grayscale(result)
	result = imaging.AdjustContrast(result, 35)
	return imaging.AdjustGamma(result, 1.15)
}

// applyAggressiveEnhancement for faded or dark photos of handwriting
func applyAggressiveEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 4.0)
	result = imaging.AdjustContrast(result, 60)
	result = imaging.AdjustBrightness(result, 25)
	result = imaging.Grayscale(result)

	// threshold-like separation of ink and paper
	result = imaging.AdjustContrast(result, 55)
	result = imaging.AdjustGamma(result, 1.3)

	// blur + sharpen removes speckle without eroding strokes
	result = imaging.Blur(result, 0.5)
	result = imaging.Sharpen(result, 2.5)

	return imaging.AdjustContrast(result, 20)
}
