package pipeline

import (
	"errors"

	"github.com/example/foodscan/internal/capture"
	"github.com/example/foodscan/internal/classifier"
	"github.com/example/foodscan/internal/compress"
	"github.com/example/foodscan/internal/drafts"
)

// User-facing messages.
const (
	MessageCameraAccess = "Unable to access camera. Please allow camera permissions."
	MessageScanFailed   = "Failed to scan image. Please try again."
	MessageNetwork      = "Network error. Please try again."
	MessageAuth         = "Your session has expired. Please log in again."
	MessageNoImage      = "Please take or select a photo first."
	MessageUnknown      = "An unknown error occurred"
)

// UserMessage maps a pipeline error to the message shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var serverErr *classifier.ServerError
	switch {
	case errors.Is(err, capture.ErrPermissionDenied),
		errors.Is(err, capture.ErrDeviceUnavailable),
		errors.Is(err, capture.ErrNoActiveTrack):
		return MessageCameraAccess
	case errors.Is(err, classifier.ErrAuth):
		return MessageAuth
	case errors.Is(err, classifier.ErrNetwork):
		return MessageNetwork
	case errors.As(err, &serverErr):
		if detail := serverErr.Body.Detail(); detail != "" {
			return detail
		}
		return MessageScanFailed
	case errors.Is(err, compress.ErrDecode),
		errors.Is(err, compress.ErrEncode),
		errors.Is(err, drafts.ErrDraftNotFound):
		return MessageScanFailed
	case errors.Is(err, ErrNoImage):
		return MessageNoImage
	}
	return MessageUnknown
}
