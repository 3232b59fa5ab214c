// Package capture acquires camera streams and turns them, or local files, into
// still images ready for compression.
package capture

import (
	"context"
	"errors"
)

// Errors reported by the acquisition and capture stages.
var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrNoActiveTrack     = errors.New("stream has no active video track")
)

// Source tags where an Image came from.
type Source string

const (
	SourceCamera     Source = "camera"
	SourceFileUpload Source = "file-upload"
)

// FacingMode selects which camera to open on devices that have several.
type FacingMode string

const (
	FacingEnvironment FacingMode = "environment"
	FacingUser        FacingMode = "user"
)

// Constraints are passed to a Device when a stream is requested.
type Constraints struct {
	FacingMode FacingMode
}

// Device hands out live video streams. Implementations report
// ErrPermissionDenied or ErrDeviceUnavailable (optionally wrapped).
type Device interface {
	GetUserMedia(ctx context.Context, constraints Constraints) (Stream, error)
}

// Stream is a set of tracks opened together.
type Stream interface {
	// Tracks returns the tracks in the order they were added.
	Tracks() []Track
}

// Track is a single media track. Stop must be safe to call more than once.
type Track interface {
	ID() string
	Kind() string
	Live() bool
	Stop()
	// TakePhoto returns one encoded still frame at the track's native resolution.
	TakePhoto(ctx context.Context) (Photo, error)
}

// Photo is an encoded frame as produced by a Track.
type Photo struct {
	Data []byte
	MIME string
}

// KindVideo is the Kind of video tracks.
const KindVideo = "video"

// Image is a raw still image waiting for compression. Treat it as immutable.
type Image struct {
	Data   []byte
	Name   string
	MIME   string
	Width  int
	Height int
	Source Source
	// Preview is a short local reference to the image: the file path for
	// selected files, PreviewRef otherwise. It never carries the image bytes.
	Preview string
}
