// Package imagestore decodes board photographs just far enough for the
// core: it keeps the encoded bytes opaque and extracts the pixel dimensions
// used for coordinate-bounds validation.
package imagestore

import (
	"bytes"
	"image"

	// Register the common board photo formats.
	_ "image/jpeg"
	_ "image/png"

	pkgerrors "github.com/pkg/errors"
)

// Image is an opaque encoded raster plus its pixel dimensions. The project
// owns the bytes.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Decode inspects the encoded raster and returns it together with its pixel
// dimensions. The pixel data itself is never decoded.
func Decode(data []byte) (Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, pkgerrors.Wrap(err, "failed to decode board photo")
	}
	return Image{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
