package membership

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxImageSide is the longest edge of an uploaded room image.
const DefaultMaxImageSide = 1024

// prepareImage decodes r and returns an upload body no larger than maxSide
// on either edge. JPEG input stays JPEG; everything else is re-encoded as PNG.
func prepareImage(filename string, r io.Reader, maxSide int) (string, io.Reader, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return "", nil, err
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if longest := max(w, h); longest > maxSide {
		w = max(1, w*maxSide/longest)
		h = max(1, h*maxSide/longest)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		src = dst
	}

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var buf bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 85}); err != nil {
			return "", nil, err
		}
		return base + ".jpg", &buf, nil
	}
	if err := png.Encode(&buf, src); err != nil {
		return "", nil, err
	}
	return base + ".png", &buf, nil
}
