// Package frames decodes and re-encodes video frame by frame. It backs the
// frame viewer and the per-frame filters.
package frames

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// ErrUnknownFilter is returned by ParseFilter for names outside the filter set.
var ErrUnknownFilter = errors.New("unknown filter")

// Filter selects a per-frame pixel transform.
type Filter int

// The available filters, in the order they are offered.
const (
	Grayscale Filter = iota + 1
	Invert
	Brighten
)

// Filters lists every filter in display order.
var Filters = []Filter{Grayscale, Invert, Brighten}

// BrightenFactor is the channel multiplier used by Brighten.
const BrightenFactor = 1.2

// String returns the display name.
func (f Filter) String() string {
	switch f {
	case Grayscale:
		return "Grayscale"
	case Invert:
		return "Invert"
	case Brighten:
		return "Brighten"
	default:
		return fmt.Sprintf("Filter(%d)", int(f))
	}
}

// Slug returns the lowercase name used in file names.
func (f Filter) Slug() string {
	return strings.ToLower(f.String())
}

// ParseFilter accepts a display name or slug, case-insensitively.
func ParseFilter(name string) (Filter, error) {
	for _, f := range Filters {
		if strings.EqualFold(strings.TrimSpace(name), f.String()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
}

// Transform returns the pure frame function for f.
func (f Filter) Transform() (func(*image.RGBA) *image.RGBA, error) {
	switch f {
	case Grayscale:
		return GrayscaleFrame, nil
	case Invert:
		return InvertFrame, nil
	case Brighten:
		return BrightenFrame, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, f)
	}
}

// GrayscaleFrame replaces each pixel with the mean of its color channels.
func GrayscaleFrame(src *image.RGBA) *image.RGBA {
	return mapPixels(src, func(r, g, b uint8) (uint8, uint8, uint8) {
		y := uint8((uint16(r) + uint16(g) + uint16(b)) / 3)
		return y, y, y
	})
}

// InvertFrame sets every color channel to 255 - c.
func InvertFrame(src *image.RGBA) *image.RGBA {
	return mapPixels(src, func(r, g, b uint8) (uint8, uint8, uint8) {
		return 255 - r, 255 - g, 255 - b
	})
}

// BrightenFrame multiplies every color channel by BrightenFactor and clamps
// the result to [0, 255]. The fractional part is truncated.
func BrightenFrame(src *image.RGBA) *image.RGBA {
	return mapPixels(src, func(r, g, b uint8) (uint8, uint8, uint8) {
		return brighten(r), brighten(g), brighten(b)
	})
}

func brighten(c uint8) uint8 {
	v := float64(c) * BrightenFactor
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// mapPixels applies fn to the color channels of every pixel and copies alpha.
func mapPixels(src *image.RGBA, fn func(r, g, b uint8) (uint8, uint8, uint8)) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		si := src.PixOffset(b.Min.X, y)
		di := dst.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Pix[di], dst.Pix[di+1], dst.Pix[di+2] = fn(src.Pix[si], src.Pix[si+1], src.Pix[si+2])
			dst.Pix[di+3] = src.Pix[si+3]
			si += 4
			di += 4
		}
	}
	return dst
}
