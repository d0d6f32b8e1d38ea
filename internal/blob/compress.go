package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"upscaled/internal/common/fsutil"
)

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return fsutil.WriteAtomic(dst, func(w io.Writer) error {
		zw := gzip.NewWriter(w)
		zw.Name = filepath.Base(src)
		if _, err := io.Copy(zw, in); err != nil {
			return err
		}
		return zw.Close()
	})
}

func gunzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("gzip header: %w", err)
	}
	defer zr.Close()
	return fsutil.WriteAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, zr)
		return err
	})
}
