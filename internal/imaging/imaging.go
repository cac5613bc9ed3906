// Package imaging normalizes uploaded cover art before it is stored with a
// catalog record.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

// Stored covers fit a portrait 2:3 box, twice the 300x450 the catalog
// renders them at.
const (
	MaxWidth  = 600
	MaxHeight = 900
)

// MinDimension rejects uploads too small to render as a cover at all.
const MinDimension = 100

// JPEGQuality is the re-encode quality for stored covers.
const JPEGQuality = 85

// allowedMIME lists the accepted upload formats.
var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Cover is a normalized cover image ready for storage.
type Cover struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// NormalizeCover reads an uploaded image, verifies it is a JPEG or PNG by
// sniffing the bytes, scales it down to fit the cover box, and re-encodes
// it as JPEG. Images already inside the box keep their dimensions.
func NormalizeCover(r io.Reader) (*Cover, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading cover data: %w", err)
	}

	// Sniff the real content type, the client header is not trusted.
	detected := http.DetectContentType(data)
	if !allowedMIME[detected] {
		return nil, fmt.Errorf("unsupported cover format %s, only JPEG and PNG are accepted", detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding cover: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() < MinDimension || bounds.Dy() < MinDimension {
		return nil, fmt.Errorf("cover too small: %dx%d, need at least %dx%d",
			bounds.Dx(), bounds.Dy(), MinDimension, MinDimension)
	}

	img = fitCoverBox(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding cover: %w", err)
	}

	bounds = img.Bounds()
	return &Cover{
		Data:   buf.Bytes(),
		MIME:   "image/jpeg",
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// fitCoverBox scales the image down so it fits within MaxWidth x MaxHeight,
// keeping the aspect ratio. Uses Catmull-Rom interpolation. Images already
// inside the box pass through untouched.
func fitCoverBox(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale := 1.0
	if s := float64(MaxWidth) / float64(w); s < scale {
		scale = s
	}
	if s := float64(MaxHeight) / float64(h); s < scale {
		scale = s
	}
	if scale >= 1.0 {
		return img
	}

	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func init() {
	// Register decoders (jpeg is registered by default, but be explicit).
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}
