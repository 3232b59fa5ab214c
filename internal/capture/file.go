package capture

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FromFile reads a user selected file. Format validation is left to the compressor,
// so dimensions stay zero when the header cannot be read.
func FromFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	img := FromBytes(filepath.Base(path), data)
	img.Preview = path
	return img, nil
}

// FromBytes wraps an uploaded payload as an Image with SourceFileUpload.
func FromBytes(name string, data []byte) *Image {
	img := &Image{
		Data:   data,
		Name:   name,
		MIME:   normalizeMime(http.DetectContentType(data)),
		Source: SourceFileUpload,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width = cfg.Width
		img.Height = cfg.Height
	}
	img.Preview = PreviewRef(SourceFileUpload, data)
	return img
}

// PreviewRef names in-memory image data by source and content hash, e.g.
// "camera:1f3a9c04b2d7". The bytes themselves stay in Image.Data.
func PreviewRef(source Source, data []byte) string {
	sum := sha1.Sum(data)
	return string(source) + ":" + hex.EncodeToString(sum[:6])
}

func normalizeMime(raw string) string {
	mime := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}
