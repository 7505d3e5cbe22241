package features

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	ImageSize     = 300
	ImageChannels = 3

	// MaxImagePixels is the largest width*height accepted from an image
	// header. Same ceiling Pillow applies before raising a decompression bomb error.
	MaxImagePixels = 89478485
)

// Interpolation names accepted by ImagePreprocessor.
const (
	InterpNearest  = "nearest"
	InterpBilinear = "bilinear"
	InterpBicubic  = "bicubic"
	InterpLanczos  = "lanczos"
)

var (
	ErrImageTooLarge        = errors.New("image exceeds pixel limit")
	ErrUnknownInterpolation = errors.New("unknown interpolation")
)

var filters = map[string]resize.InterpolationFunction{
	InterpBilinear: resize.Bilinear,
	InterpBicubic:  resize.Bicubic,
	InterpLanczos:  resize.Lanczos3,
}

// ImageTensor holds one RGB image in height x width x channel order with
// values in [0,1].
type ImageTensor struct {
	Height, Width, Channels int
	Data                    []float32
}

func (t ImageTensor) Shape() [3]int {
	return [3]int{t.Height, t.Width, t.Channels}
}

// CHW returns the same pixels in channel-major order.
func (t ImageTensor) CHW() []float32 {
	plane := t.Height * t.Width
	out := make([]float32, len(t.Data))
	for p := 0; p < plane; p++ {
		for c := 0; c < t.Channels; c++ {
			out[c*plane+p] = t.Data[p*t.Channels+c]
		}
	}
	return out
}

// PrepareImage decodes the file at path and converts it to a model input
// using nearest-neighbour sampling.
func PrepareImage(path string) (ImageTensor, error) {
	return ImagePreprocessor{}.Prepare(path)
}

// FromImage stretches img to ImageSize x ImageSize with nearest-neighbour
// sampling, ignoring aspect ratio, and scales 8-bit channels by 1/255.
// Alpha is dropped.
func FromImage(img image.Image) ImageTensor {
	return pack(sampleNearest(img, ImageSize, ImageSize))
}

// ImagePreprocessor turns image files into model inputs. The zero value
// resizes with nearest-neighbour sampling.
type ImagePreprocessor struct {
	Interpolation string
}

func (p ImagePreprocessor) Prepare(path string) (ImageTensor, error) {
	img, err := decodeBounded(path)
	if err != nil {
		return ImageTensor{}, err
	}
	return p.FromImage(img)
}

func (p ImagePreprocessor) FromImage(img image.Image) (ImageTensor, error) {
	switch p.Interpolation {
	case "", InterpNearest:
		return FromImage(img), nil
	}
	f, ok := filters[p.Interpolation]
	if !ok {
		return ImageTensor{}, fmt.Errorf("%w: %q", ErrUnknownInterpolation, p.Interpolation)
	}
	return pack(resize.Resize(ImageSize, ImageSize, img, f)), nil
}

// decodeBounded reads the header first so oversized images are rejected
// before any pixel buffer is allocated.
func decodeBounded(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode image header %s: %w", path, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind image: %w", err)
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

// sampleNearest copies the source pixel under each output pixel centre,
// src = floor((dst+0.5) * srcSize / dstSize). Source pixels are never blended.
func sampleNearest(img image.Image, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}

func pack(img image.Image) ImageTensor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	data := make([]float32, height*width*ImageChannels)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)

			i := (y*width + x) * ImageChannels
			data[i] = float32(c.R) / 255
			data[i+1] = float32(c.G) / 255
			data[i+2] = float32(c.B) / 255
		}
	}

	return ImageTensor{Height: height, Width: width, Channels: ImageChannels, Data: data}
}
