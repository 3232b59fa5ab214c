package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/foodscan/internal/auth"
	"github.com/example/foodscan/internal/capture"
	"github.com/example/foodscan/internal/classifier"
	"github.com/example/foodscan/internal/compress"
	"github.com/example/foodscan/internal/present"
)

// State is the phase of the capture screen.
type State int

const (
	StateIdle State = iota
	StatePreview
	StateSelected
	StateResult
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreview:
		return "preview"
	case StateSelected:
		return "selected"
	case StateResult:
		return "result"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidState is returned when an action is not allowed in the current state.
var ErrInvalidState = errors.New("action not allowed in current state")

// Camera opens and closes the live preview stream.
type Camera interface {
	Acquire(ctx context.Context) (*capture.Handle, error)
	Release()
}

// FrameCapturer grabs a still from a live stream.
type FrameCapturer interface {
	Capture(ctx context.Context, h *capture.Handle) (*capture.Image, error)
}

// Screen is the unified capture flow: live preview, captured or selected
// image, and result. Methods are safe for concurrent use and run one at a time.
type Screen struct {
	camera   Camera
	capturer FrameCapturer
	service  *Service
	tokens   auth.TokenSource
	config   present.Config
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	handle  *capture.Handle
	image   *capture.Image
	scanID  string
	pending *compress.Asset
	view    *present.View
	message string
}

// NewScreen builds an idle screen.
func NewScreen(camera Camera, capturer FrameCapturer, service *Service, tokens auth.TokenSource, cfg present.Config, logger *zap.Logger) *Screen {
	return &Screen{
		camera:   camera,
		capturer: capturer,
		service:  service,
		tokens:   tokens,
		config:   cfg,
		logger:   logger.Named("screen"),
	}
}

// State returns the current phase.
func (s *Screen) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Image returns the captured or selected image, if any.
func (s *Screen) Image() *capture.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// View returns the result view once a scan succeeded.
func (s *Screen) View() *present.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Message returns the last user-facing error message, or "".
func (s *Screen) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// ScanID returns the id of the last prepared scan. After a failed submission it
// names the draft that Resubmit sends.
func (s *Screen) ScanID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanID
}

// Open starts the live camera preview.
func (s *Screen) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return s.invalid("open")
	}
	return s.startPreview(ctx)
}

// TakePhoto captures a still from the preview.
func (s *Screen) TakePhoto(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePreview {
		return s.invalid("take photo")
	}
	img, err := s.capturer.Capture(ctx, s.handle)
	if err != nil {
		return s.fail(err)
	}
	s.setImage(img)
	return nil
}

// SelectFile uses a local file instead of the camera. The preview, if any, is
// closed.
func (s *Screen) SelectFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateResult {
		return s.invalid("select file")
	}
	img, err := capture.FromFile(path)
	if err != nil {
		return s.fail(err)
	}
	s.releaseCamera()
	s.dropPending(context.Background())
	s.setImage(img)
	return nil
}

// Retake discards the selected image and returns to the live preview.
func (s *Screen) Retake(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSelected {
		return s.invalid("retake")
	}
	s.dropPending(ctx)
	s.image = nil
	s.scanID = ""
	s.message = ""
	if s.handle != nil && !s.handle.Released() {
		s.state = StatePreview
		return nil
	}
	s.state = StateIdle
	return s.startPreview(ctx)
}

// Scan compresses and submits the selected image. On failure the screen stays
// on the selected image with a message set and keeps the compressed asset, so
// scanning again or Resubmit sends the same asset under the same scan id.
func (s *Screen) Scan(ctx context.Context) (*present.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSelected || s.image == nil {
		return nil, s.fail(ErrNoImage)
	}
	token, err := auth.Resolve(ctx, s.tokens)
	if err != nil {
		return nil, s.fail(err)
	}

	if s.pending == nil {
		scanID, asset, err := s.service.Prepare(ctx, s.image)
		if err != nil {
			return nil, s.fail(err)
		}
		s.scanID = scanID
		s.pending = asset
	}
	return s.submitPending(ctx, token)
}

// Resubmit sends the asset from the last failed scan again.
func (s *Screen) Resubmit(ctx context.Context) (*present.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSelected || s.pending == nil {
		return nil, s.invalid("resubmit")
	}
	token, err := auth.Resolve(ctx, s.tokens)
	if err != nil {
		return nil, s.fail(err)
	}
	return s.submitPending(ctx, token)
}

func (s *Screen) submitPending(ctx context.Context, token string) (*present.View, error) {
	result, err := s.service.SubmitAsset(ctx, s.scanID, s.pending, token)
	if err != nil {
		return nil, s.fail(err)
	}
	s.pending = nil
	return s.showResult(result), nil
}

// Close leaves the screen, stopping the camera and clearing all state. The
// draft of a failed scan stays in the store until it expires.
func (s *Screen) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseCamera()
	s.state = StateIdle
	s.image = nil
	s.scanID = ""
	s.pending = nil
	s.view = nil
	s.message = ""
}

func (s *Screen) startPreview(ctx context.Context) error {
	h, err := s.camera.Acquire(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.handle = h
	s.state = StatePreview
	s.message = ""
	return nil
}

// dropPending discards the draft of an abandoned failed scan.
func (s *Screen) dropPending(ctx context.Context) {
	if s.pending == nil {
		return
	}
	s.service.Discard(ctx, s.scanID)
	s.pending = nil
}

func (s *Screen) setImage(img *capture.Image) {
	s.image = img
	s.scanID = ""
	s.message = ""
	s.state = StateSelected
}

func (s *Screen) showResult(result *classifier.Result) *present.View {
	s.releaseCamera()
	s.view = present.PresentWith(result, s.config)
	s.message = ""
	s.state = StateResult
	return s.view
}

func (s *Screen) releaseCamera() {
	s.camera.Release()
	s.handle = nil
}

func (s *Screen) fail(err error) error {
	s.message = UserMessage(err)
	s.logger.Warn("screen action failed",
		zap.Stringer("state", s.state),
		zap.String("message", s.message),
		zap.Error(err),
	)
	return err
}

func (s *Screen) invalid(action string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, action, s.state)
}
