// Package compress resizes and re-encodes captured images into bounded JPEG assets.
package compress

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"math"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/example/foodscan/internal/capture"
)

// Errors reported by Compress.
var (
	ErrDecode = errors.New("image could not be decoded")
	ErrEncode = errors.New("image could not be encoded")
)

// Defaults used when Options leave a field zero.
const (
	DefaultMaxDimension = 1024
	DefaultQuality      = 0.7
	MIMEJPEG            = "image/jpeg"
)

// Asset is a submission ready JPEG.
type Asset struct {
	Data     []byte         `json:"data"`
	Filename string         `json:"filename"`
	MIME     string         `json:"mime"`
	Width    int            `json:"width"`
	Height   int            `json:"height"`
	Source   capture.Source `json:"source"`
	Preview  string         `json:"preview,omitempty"`
	SHA1     string         `json:"sha1"`
}

// Options configures the compressor. Quality is on a 0-1 scale.
type Options struct {
	MaxDimension int
	Quality      float64
}

// Compressor turns capture.Images into Assets.
type Compressor struct {
	maxDimension int
	quality      int
	logger       *zap.Logger
}

// New builds a Compressor, filling zero options with defaults.
func New(opts Options, logger *zap.Logger) *Compressor {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.Quality <= 0 || opts.Quality > 1 {
		opts.Quality = DefaultQuality
	}
	return &Compressor{
		maxDimension: opts.MaxDimension,
		quality:      int(math.Round(opts.Quality * 100)),
		logger:       logger.Named("compressor"),
	}
}

// Compress decodes img, scales it into the bound and encodes it as JPEG.
func (c *Compressor) Compress(ctx context.Context, img *capture.Image) (*Asset, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := src.Bounds()
	width, height := TargetSize(bounds.Dx(), bounds.Dy(), c.maxDimension)

	// JPEG has no alpha channel, so transparent areas become white.
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no output", ErrEncode)
	}

	data := buf.Bytes()
	sum := sha1.Sum(data)
	asset := &Asset{
		Data:     data,
		Filename: JPEGFilename(img.Name),
		MIME:     MIMEJPEG,
		Width:    width,
		Height:   height,
		Source:   img.Source,
		Preview:  img.Preview,
		SHA1:     hex.EncodeToString(sum[:]),
	}

	c.logger.Debug("image compressed",
		zap.String("format", format),
		zap.Int("src_width", bounds.Dx()),
		zap.Int("src_height", bounds.Dy()),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("src_bytes", len(img.Data)),
		zap.Int("bytes", len(data)),
	)
	return asset, nil
}

// TargetSize scales (width, height) so the larger side equals bound when either
// side exceeds it, preserving the aspect ratio. Smaller images are unchanged.
func TargetSize(width, height, bound int) (int, int) {
	if bound <= 0 || (width <= bound && height <= bound) {
		return width, height
	}
	if width > height {
		h := int(math.Round(float64(height) * float64(bound) / float64(width)))
		return bound, max(h, 1)
	}
	w := int(math.Round(float64(width) * float64(bound) / float64(height)))
	return max(w, 1), bound
}

// JPEGFilename replaces the final extension of name with .jpeg.
func JPEGFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "image"
	}
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" {
		base = "image"
	}
	return base + ".jpeg"
}
