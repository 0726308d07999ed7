// Package images is the thumbnail pipeline: fetch a source photo, normalize
// it to a square thumbnail and re-encode it without an alpha channel.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnsupportedFormat marks bytes that could not be decoded as an image.
// The record is skipped with an operator alert, not failed.
var ErrUnsupportedFormat = errors.New("images: unsupported format")

// maxThumbnailSize bounds the thumbnail box. Images are only ever scaled
// down to fit it, never up.
const maxThumbnailSize = 400

// Config carries the processor's construction parameters.
type Config struct {
	// ScratchDir is the parent for the per-run scratch directory. Defaults
	// to the system temp dir.
	ScratchDir string
	Timeout    time.Duration
}

// Processor downloads and normalizes photos inside a per-run scratch
// directory, so overlapping runs cannot race on filenames.
type Processor struct {
	httpClient *http.Client
	scratch    string
	log        *zap.Logger
}

// New creates a processor with a fresh scratch directory.
func New(cfg Config, log *zap.Logger) (*Processor, error) {
	parent := cfg.ScratchDir
	if parent == "" {
		parent = os.TempDir()
	}
	scratch := filepath.Join(parent, "newdigs-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Processor{
		httpClient: &http.Client{Timeout: timeout},
		scratch:    scratch,
		log:        log,
	}, nil
}

// ScratchDir returns the processor's scratch directory.
func (p *Processor) ScratchDir() string {
	return p.scratch
}

// Close removes the scratch directory and everything left in it.
func (p *Processor) Close() error {
	return os.RemoveAll(p.scratch)
}

// IsPDF reports whether the filename looks like a PDF attachment. PDFs are
// detected up front and skipped with an alert instead of being fed to the
// decoder.
func IsPDF(filename string) bool {
	return strings.Contains(strings.ToLower(filepath.Ext(filename)), "pdf")
}

// Fetch downloads url into the scratch directory under filename and returns
// the local path.
func (p *Processor) Fetch(ctx context.Context, url, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", filename, resp.StatusCode)
	}

	local := filepath.Join(p.scratch, filename)
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", local, err)
	}
	_, err = io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", local, err)
	}
	return local, nil
}

// Thumbnail downloads the source photo, EXIF-orients it, square-crops it,
// downscales it to fit the thumbnail box when the source is large enough,
// flattens any alpha channel and writes the result back to the scratch file.
// Returns the local path of the finished thumbnail.
func (p *Processor) Thumbnail(ctx context.Context, url, filename string) (string, error) {
	local, err := p.Fetch(ctx, url, filename)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", local, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		p.log.Error("could not decode image", zap.String("filename", filename), zap.Error(err))
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := SquareCrop(img)
	if width > maxThumbnailSize && height > maxThumbnailSize {
		out = imaging.Fit(out, maxThumbnailSize, maxThumbnailSize, imaging.Lanczos)
	}
	out = flatten(out)

	if err := imaging.Save(out, local); err != nil {
		return "", fmt.Errorf("encode %s: %w", filename, err)
	}
	return local, nil
}

// SquareCrop normalizes an image to a square. Landscape images lose equal
// amounts left and right; portrait images keep the top and lose the bottom,
// because pet faces sit in the upper half of portrait shots.
func SquareCrop(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	switch {
	case height < width:
		left := (width - height) / 2
		return imaging.Crop(img, image.Rect(left, 0, left+height, height))
	case width < height:
		return imaging.Crop(img, image.Rect(0, 0, width, width))
	default:
		return imaging.Clone(img)
	}
}

// flatten composites the image over white, dropping any alpha channel before
// the final encode.
func flatten(img *image.NRGBA) *image.NRGBA {
	bounds := img.Bounds()
	bg := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
