package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"net/http"

	"go.uber.org/zap"

	"github.com/example/foodscan/internal/logging"
)

// DefaultCaptureName is the file name given to camera frames.
const DefaultCaptureName = "capture.jpg"

// Capturer extracts still frames from a live stream.
type Capturer struct {
	logger *zap.Logger
}

// NewCapturer builds a Capturer.
func NewCapturer(logger *zap.Logger) *Capturer {
	return &Capturer{logger: logger.Named("capturer")}
}

// Capture takes one frame from the most recently added live video track.
// The stream is left running.
func (c *Capturer) Capture(ctx context.Context, h *Handle) (*Image, error) {
	if h == nil {
		return nil, logging.NewOperationError("capture.frame", "", ErrNoActiveTrack)
	}
	track := lastVideoTrack(h.Tracks())
	if track == nil {
		return nil, logging.NewOperationError("capture.frame", h.ID(), ErrNoActiveTrack)
	}

	photo, err := track.TakePhoto(ctx)
	if err != nil {
		return nil, logging.NewOperationError("capture.frame", h.ID(), err)
	}

	mime := photo.MIME
	if mime == "" {
		mime = http.DetectContentType(photo.Data)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(photo.Data))
	if err != nil {
		return nil, logging.NewOperationError("capture.frame", h.ID(), fmt.Errorf("read frame dimensions: %w", err))
	}

	c.logger.Debug("frame captured",
		zap.String("handle", h.ID()),
		zap.String("track", track.ID()),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
	)

	return &Image{
		Data:    photo.Data,
		Name:    DefaultCaptureName,
		MIME:    mime,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Source:  SourceCamera,
		Preview: PreviewRef(SourceCamera, photo.Data),
	}, nil
}

func lastVideoTrack(tracks []Track) Track {
	for i := len(tracks) - 1; i >= 0; i-- {
		t := tracks[i]
		if t.Kind() == KindVideo && t.Live() {
			return t
		}
	}
	return nil
}
