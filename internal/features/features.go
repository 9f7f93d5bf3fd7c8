// Package features computes the average-color feature vector fed to the classifier.
package features

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/color-api/internal/apperr"
	"github.com/Brownie44l1/color-api/internal/decoder"
)

// Order selects the channel order of the returned vector.
type Order string

const (
	OrderRGB Order = "rgb"
	OrderBGR Order = "bgr"
)

var ErrEmptyImage = errors.New("image has zero width or height")

// ParseOrder accepts "rgb" or "bgr", case-insensitively.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(s)); o {
	case OrderRGB, OrderBGR:
		return o, nil
	default:
		return "", fmt.Errorf("unknown channel order %q", s)
	}
}

// Extractor computes per-channel means. The zero value is usable and
// produces RGB means over every pixel.
type Extractor struct {
	Order Order
	// MaxDimension, when positive, downsamples images whose width or height
	// exceeds it before averaging. Zero keeps the exact mean.
	MaxDimension int
}

// Extract returns the arithmetic mean of each channel across the whole image.
func (e Extractor) Extract(p decoder.Pixels) ([]float64, error) {
	if p.Width <= 0 || p.Height <= 0 || len(p.Pix) == 0 {
		return nil, apperr.Wrap(apperr.KindEmptyImage, "decoded image has zero width or height", ErrEmptyImage)
	}
	if len(p.Pix) != p.Width*p.Height*decoder.Channels {
		return nil, apperr.New(apperr.KindInternal,
			fmt.Sprintf("pixel buffer holds %d samples, want %d", len(p.Pix), p.Width*p.Height*decoder.Channels))
	}

	if e.MaxDimension > 0 && (p.Width > e.MaxDimension || p.Height > e.MaxDimension) {
		p = e.downsample(p)
	}

	means := ChannelMeans(p)
	if e.Order == OrderBGR {
		means[0], means[2] = means[2], means[0]
	}
	return means, nil
}

func (e Extractor) downsample(p decoder.Pixels) decoder.Pixels {
	limit := uint(e.MaxDimension)
	small := resize.Thumbnail(limit, limit, p.Image(), resize.Bilinear)
	return decoder.FromImage(small)
}

// ChannelMeans returns the RGB means of a non-empty pixel array.
func ChannelMeans(p decoder.Pixels) []float64 {
	var sums [decoder.Channels]uint64
	for i := 0; i < len(p.Pix); i += decoder.Channels {
		sums[0] += uint64(p.Pix[i])
		sums[1] += uint64(p.Pix[i+1])
		sums[2] += uint64(p.Pix[i+2])
	}

	// Divide rather than scale by 1/n so each mean is correctly rounded.
	n := float64(p.Width * p.Height)
	return []float64{float64(sums[0]) / n, float64(sums[1]) / n, float64(sums[2]) / n}
}
