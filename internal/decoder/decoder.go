// Package decoder turns data-URI style payloads into 8-bit RGB pixel arrays.
package decoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/color-api/internal/apperr"
)

// Channels is the number of color channels in a decoded Pixels array.
const Channels = 3

var (
	ErrMissingSeparator = errors.New("payload has no comma separator")
	ErrEmptyPayload     = errors.New("payload has no data after the separator")
	ErrTooManyPixels    = errors.New("image declares too many pixels")
)

// Pixels is a row-major H x W x 3 array of RGB samples.
type Pixels struct {
	Width  int
	Height int
	Pix    []uint8
}

// At returns the RGB sample at column x, row y.
func (p Pixels) At(x, y int) (r, g, b uint8) {
	i := (y*p.Width + x) * Channels
	return p.Pix[i], p.Pix[i+1], p.Pix[i+2]
}

// Image exposes the array as an image.Image for resampling.
func (p Pixels) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	for i, j := 0, 0; i < len(p.Pix); i, j = i+Channels, j+4 {
		img.Pix[j] = p.Pix[i]
		img.Pix[j+1] = p.Pix[i+1]
		img.Pix[j+2] = p.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// DefaultMaxPixels caps width*height when a Decoder has no limit set.
const DefaultMaxPixels = 40_000_000

// Decode splits payload on its first comma, base64 decodes the remainder and
// decodes the bytes as a raster image, using DefaultMaxPixels.
func Decode(payload string) (Pixels, string, error) {
	return Decoder{}.Decode(payload)
}

// DecodeBytes decodes an encoded image using DefaultMaxPixels.
func DecodeBytes(raw []byte) (Pixels, string, error) {
	return Decoder{}.DecodeBytes(raw)
}

// FromImage converts img to RGB, dropping alpha without premultiplying.
func FromImage(img image.Image) Pixels {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	p := Pixels{Width: w, Height: h, Pix: make([]uint8, w*h*Channels)}

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			copyRGBA(p.Pix[y*w*Channels:], row)
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			copyRGBA(p.Pix[y*w*Channels:], row)
		}
	default:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				p.Pix[i], p.Pix[i+1], p.Pix[i+2] = c.R, c.G, c.B
				i += Channels
			}
		}
	}

	return p
}

func copyRGBA(dst, row []uint8) {
	for i, j := 0, 0; j < len(row); i, j = i+Channels, j+4 {
		dst[i], dst[i+1], dst[i+2] = row[j], row[j+1], row[j+2]
	}
}

// decodeBase64 accepts standard or URL-safe alphabets, with or without padding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, ErrEmptyPayload
	}

	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	if !strings.HasSuffix(s, "=") && len(s)%4 != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}
	return enc.DecodeString(s)
}

// Decoder decodes untrusted payloads. The zero value is ready to use.
type Decoder struct {
	// MaxPixels rejects images whose header declares more pixels. Zero
	// means DefaultMaxPixels.
	MaxPixels int
}

// Decode splits payload on its first comma, base64 decodes the remainder and
// decodes the bytes as a raster image. The prefix before the comma is ignored.
// All failures are reported as apperr.KindDecode.
func (d Decoder) Decode(payload string) (Pixels, string, error) {
	_, data, ok := strings.Cut(payload, ",")
	if !ok {
		return Pixels{}, "", apperr.Wrap(apperr.KindDecode, "image payload must be of the form <prefix>,<base64>", ErrMissingSeparator)
	}

	raw, err := decodeBase64(data)
	if err != nil {
		return Pixels{}, "", apperr.Wrap(apperr.KindDecode, "image payload is not valid base64", err)
	}

	return d.DecodeBytes(raw)
}

// DecodeBytes decodes an encoded image (JPEG, PNG, GIF, BMP, TIFF or WEBP).
// The header is read first so oversized images are rejected before any
// pixel buffer is allocated.
func (d Decoder) DecodeBytes(raw []byte) (Pixels, string, error) {
	if len(raw) == 0 {
		return Pixels{}, "", apperr.Wrap(apperr.KindDecode, "image payload is empty", ErrEmptyPayload)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Pixels{}, "", apperr.Wrap(apperr.KindDecode, "image bytes are not a supported image format", err)
	}
	if limit := d.maxPixels(); int64(cfg.Width)*int64(cfg.Height) > int64(limit) {
		return Pixels{}, "", apperr.Wrap(apperr.KindDecode,
			fmt.Sprintf("image dimensions exceed %d pixels", limit), ErrTooManyPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Pixels{}, "", apperr.Wrap(apperr.KindDecode, "image bytes are not a supported image format", err)
	}

	return FromImage(img), format, nil
}

func (d Decoder) maxPixels() int {
	if d.MaxPixels > 0 {
		return d.MaxPixels
	}
	return DefaultMaxPixels
}
