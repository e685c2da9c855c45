package artifacts

import (
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"

	_ "image/gif"  // registered decoders for the supported library formats
	_ "image/png"

	"golang.org/x/image/draw"
)

// Preparer converts library images into delivery-ready artifacts: anything
// larger than the configured maximum resolution is downscaled and re-encoded
// as JPEG into a managed temp directory. Smaller images pass through
// untouched.
type Preparer struct {
	tempDir   string
	maxWidth  int
	maxHeight int
	quality   int
}

// NewPreparer creates a Preparer with its own temp directory.
func NewPreparer(maxWidth, maxHeight, quality int) (*Preparer, error) {
	dir, err := os.MkdirTemp("", "lumacast_artifacts_")
	if err != nil {
		return nil, fmt.Errorf("artifacts: create temp dir: %w", err)
	}
	return &Preparer{
		tempDir:   dir,
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		quality:   quality,
	}, nil
}

// TempDir returns the managed temp directory. Only files under it are
// removed on cleanup; library originals are never touched.
func (p *Preparer) TempDir() string { return p.tempDir }

// Prepare returns a playable path for the image at path, downscaling if the
// source exceeds the maximum resolution.
func (p *Preparer) Prepare(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("artifacts: open %s: %w", path, err)
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("artifacts: decode %s: %w", path, err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= p.maxWidth && h <= p.maxHeight {
		return path, nil
	}

	// Scale to fit inside max bounds, preserving aspect ratio.
	scaleW := float64(p.maxWidth) / float64(w)
	scaleH := float64(p.maxHeight) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	out, err := os.CreateTemp(p.tempDir, "artifact_*.jpg")
	if err != nil {
		return "", fmt.Errorf("artifacts: create temp file: %w", err)
	}
	defer out.Close()
	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: p.quality}); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("artifacts: encode %s: %w", path, err)
	}

	slog.Debug("artifacts: downscaled image", "src", path, "dst", out.Name(),
		"from", fmt.Sprintf("%dx%d", w, h), "to", fmt.Sprintf("%dx%d", dw, dh))
	return out.Name(), nil
}

// Cleanup removes the managed temp directory and everything in it.
func (p *Preparer) Cleanup() {
	if err := os.RemoveAll(p.tempDir); err != nil {
		slog.Warn("artifacts: cleanup temp dir", "dir", p.tempDir, "err", err)
	}
}
