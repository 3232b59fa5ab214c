package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const maxFrameBytes = 16 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FFmpegDevice exposes a V4L2 camera through an ffmpeg process that writes an
// MJPEG stream to its stdout. Each stream carries one video track.
type FFmpegDevice struct {
	binary string
	path   string
	fps    int
	logger *zap.Logger
	seq    atomic.Int64
}

// NewFFmpegDevice builds a device for the camera at path (e.g. /dev/video0).
func NewFFmpegDevice(binary, path string, logger *zap.Logger) *FFmpegDevice {
	return &FFmpegDevice{binary: binary, path: path, fps: 5, logger: logger.Named("ffmpeg_device")}
}

// GetUserMedia starts ffmpeg against the camera. V4L2 has no notion of facing,
// so the requested mode is only logged.
func (d *FFmpegDevice) GetUserMedia(ctx context.Context, constraints Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(d.binary); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg binary %q: %v", ErrDeviceUnavailable, d.binary, err)
	}
	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	_ = f.Close()

	cmd := exec.Command(d.binary,
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2", "-i", d.path,
		"-vf", fmt.Sprintf("fps=%d", d.fps),
		"-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "2",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	id := fmt.Sprintf("%s#%d", d.path, d.seq.Add(1))
	track := newPipeTrack(id, stdout, func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}, cmd.Wait, d.logger)

	d.logger.Debug("camera track started",
		zap.String("track", id),
		zap.String("facing_mode", string(constraints.FacingMode)),
	)
	return &trackStream{tracks: []Track{track}}, nil
}

type trackStream struct {
	tracks []Track
}

func (s *trackStream) Tracks() []Track { return s.tracks }

// pipeTrack keeps the most recent JPEG frame read from an MJPEG pipe.
type pipeTrack struct {
	id     string
	kill   func()
	wait   func() error
	logger *zap.Logger

	mu     sync.Mutex
	latest []byte

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	stopOnce  sync.Once
	stopped   atomic.Bool
}

func newPipeTrack(id string, r io.Reader, kill func(), wait func() error, logger *zap.Logger) *pipeTrack {
	t := &pipeTrack{
		id:     id,
		kill:   kill,
		wait:   wait,
		logger: logger,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.read(r)
	return t
}

func (t *pipeTrack) read(r io.Reader) {
	defer close(t.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256<<10), maxFrameBytes)
	scanner.Split(splitJPEG)
	for scanner.Scan() {
		frame := append([]byte(nil), scanner.Bytes()...)
		t.mu.Lock()
		t.latest = frame
		t.mu.Unlock()
		t.readyOnce.Do(func() { close(t.ready) })
	}
	if err := scanner.Err(); err != nil && !t.stopped.Load() {
		t.logger.Warn("camera stream ended", zap.String("track", t.id), zap.Error(err))
	}
}

func (t *pipeTrack) ID() string   { return t.id }
func (t *pipeTrack) Kind() string { return KindVideo }

func (t *pipeTrack) Live() bool {
	if t.stopped.Load() {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Stop kills the producer and waits for the reader to drain.
func (t *pipeTrack) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		t.kill()
		<-t.done
		if t.wait != nil {
			_ = t.wait()
		}
	})
}

// TakePhoto waits for the first frame when the stream has just started.
func (t *pipeTrack) TakePhoto(ctx context.Context) (Photo, error) {
	if !t.Live() {
		return Photo{}, ErrNoActiveTrack
	}
	select {
	case <-t.ready:
	case <-t.done:
		return Photo{}, ErrNoActiveTrack
	case <-ctx.Done():
		return Photo{}, ctx.Err()
	}
	t.mu.Lock()
	frame := append([]byte(nil), t.latest...)
	t.mu.Unlock()
	if len(frame) == 0 {
		return Photo{}, ErrNoActiveTrack
	}
	return Photo{Data: frame, MIME: "image/jpeg"}, nil
}

// splitJPEG is a bufio.SplitFunc yielding complete JPEG images (SOI..EOI) and
// discarding bytes between them.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may begin the next marker.
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}
