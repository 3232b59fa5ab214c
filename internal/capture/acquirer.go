package capture

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/foodscan/internal/logging"
)

// Handle owns a live stream until Release is called.
type Handle struct {
	id     string
	stream Stream
	logger *zap.Logger

	mu       sync.Mutex
	released bool
}

// ID identifies the handle in logs.
func (h *Handle) ID() string { return h.id }

// Tracks returns the stream tracks, or nil once the handle has been released.
func (h *Handle) Tracks() []Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.stream == nil {
		return nil
	}
	return h.stream.Tracks()
}

// Released reports whether Release has run.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Release stops every track of the stream. It is safe to call on a nil handle
// and more than once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	stream := h.stream
	h.mu.Unlock()

	if stream == nil {
		return
	}
	tracks := stream.Tracks()
	for _, track := range tracks {
		track.Stop()
	}
	h.logger.Debug("camera stream released", zap.String("handle", h.id), zap.Int("tracks", len(tracks)))
}

// Acquirer opens camera streams on a Device, keeping at most one active.
type Acquirer struct {
	device      Device
	constraints Constraints
	logger      *zap.Logger
	newID       func() string

	mu     sync.Mutex
	active *Handle
}

// NewAcquirer builds an acquirer that asks for the rear facing camera.
func NewAcquirer(device Device, logger *zap.Logger, newID func() string) *Acquirer {
	return &Acquirer{
		device:      device,
		constraints: Constraints{FacingMode: FacingEnvironment},
		logger:      logger.Named("acquirer"),
		newID:       newID,
	}
}

// Acquire releases any active stream and opens a new one.
func (a *Acquirer) Acquire(ctx context.Context) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		a.active.Release()
		a.active = nil
	}

	id := a.newID()
	opLogger := logging.WithOperation(a.logger, "capture.acquire", id)

	stream, err := a.device.GetUserMedia(ctx, a.constraints)
	if err != nil {
		mapped := classifyDeviceError(err)
		opLogger.Warn("camera access failed", zap.Error(err))
		return nil, logging.NewOperationError("capture.acquire", id, mapped)
	}

	h := &Handle{id: id, stream: stream, logger: a.logger}
	a.active = h
	opLogger.Info("camera stream acquired", zap.Int("tracks", len(stream.Tracks())))
	return h, nil
}

// Active returns the current handle, or nil.
func (a *Acquirer) Active() *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Release stops the active stream, if any.
func (a *Acquirer) Release() {
	a.mu.Lock()
	h := a.active
	a.active = nil
	a.mu.Unlock()
	h.Release()
}

// With acquires a stream, runs fn with it and releases the stream on every path,
// including panics in fn.
func (a *Acquirer) With(ctx context.Context, fn func(*Handle) error) error {
	h, err := a.Acquire(ctx)
	if err != nil {
		return err
	}
	defer a.releaseIfActive(h)
	return fn(h)
}

func (a *Acquirer) releaseIfActive(h *Handle) {
	a.mu.Lock()
	if a.active == h {
		a.active = nil
	}
	a.mu.Unlock()
	h.Release()
}

// classifyDeviceError reports anything that is not a recognised device error
// as an unavailable device.
func classifyDeviceError(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return &deviceError{cause: err}
}

type deviceError struct {
	cause error
}

func (e *deviceError) Error() string { return ErrDeviceUnavailable.Error() + ": " + e.cause.Error() }

func (e *deviceError) Unwrap() []error { return []error{ErrDeviceUnavailable, e.cause} }
