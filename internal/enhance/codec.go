package enhance

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"upscaled/internal/common/fsutil"
)

const jpegQuality = 95

// Decode reads an image file in any registered format.
func Decode(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	return image.Decode(f)
}

// SupportedOutput reports whether an encoder exists for path's extension.
func SupportedOutput(path string) bool {
	_, err := encoderFor(path)
	return err == nil
}

type encodeFunc func(w io.Writer, img image.Image) error

func encoderFor(path string) (encodeFunc, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		return png.Encode, nil
	case ".jpg", ".jpeg":
		return func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
		}, nil
	case ".gif":
		return func(w io.Writer, img image.Image) error { return gif.Encode(w, img, nil) }, nil
	case ".bmp":
		return bmp.Encode, nil
	case ".tif", ".tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", ext)
	}
}

// Encode writes img to path, choosing the format from the extension. The
// file appears under its final name only once fully written.
func Encode(path string, img image.Image) error {
	enc, err := encoderFor(path)
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, func(w io.Writer) error { return enc(w, img) })
}
