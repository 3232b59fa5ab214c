package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/foodscan/internal/auth"
	"github.com/example/foodscan/internal/capture"
	"github.com/example/foodscan/internal/classifier"
	"github.com/example/foodscan/internal/compress"
	"github.com/example/foodscan/internal/drafts"
	"github.com/example/foodscan/internal/logging"
	"github.com/example/foodscan/internal/present"
)

type fakeTrack struct {
	photo capture.Photo

	mu    sync.Mutex
	stops int
}

func (f *fakeTrack) ID() string   { return "track" }
func (f *fakeTrack) Kind() string { return capture.KindVideo }

func (f *fakeTrack) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops == 0
}

func (f *fakeTrack) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeTrack) TakePhoto(ctx context.Context) (capture.Photo, error) {
	if !f.Live() {
		return capture.Photo{}, capture.ErrNoActiveTrack
	}
	return f.photo, nil
}

type fakeStream struct{ tracks []capture.Track }

func (s *fakeStream) Tracks() []capture.Track { return s.tracks }

type fakeDevice struct {
	err    error
	photo  []byte
	tracks []*fakeTrack
}

func (d *fakeDevice) GetUserMedia(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	track := &fakeTrack{photo: capture.Photo{Data: d.photo, MIME: "image/jpeg"}}
	d.tracks = append(d.tracks, track)
	return &fakeStream{tracks: []capture.Track{track}}, nil
}

func (d *fakeDevice) allStopped() bool {
	for _, track := range d.tracks {
		if track.Live() {
			return false
		}
	}
	return true
}

// unavailableCache accepts reads and deletes but fails every write.
type unavailableCache struct {
	*drafts.MemoryCache
}

func (c unavailableCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return errors.New("redis: connection refused")
}

type screenFixture struct {
	screen *Screen
	device *fakeDevice
	client *stubClient
}

func newScreenFixture(t *testing.T, device *fakeDevice, client *stubClient) *screenFixture {
	t.Helper()
	return newScreenFixtureWithCache(t, device, client, drafts.NewMemoryCache())
}

func newScreenFixtureWithCache(t *testing.T, device *fakeDevice, client *stubClient, cache drafts.Cache) *screenFixture {
	t.Helper()
	logger := zap.NewNop()
	store := drafts.NewStore(cache, time.Minute, logger)
	svc := NewService(compress.New(compress.Options{MaxDimension: 16}, logger), client, store, nil, logger)
	screen := NewScreen(
		capture.NewAcquirer(device, logger, sequentialIDs("handle")),
		capture.NewCapturer(logger),
		svc,
		auth.Static("token"),
		present.DefaultConfig(),
		logger,
	)
	return &screenFixture{screen: screen, device: device, client: client}
}

func TestScreenCameraFlowReachesResultAndReleasesCamera(t *testing.T) {
	f := newScreenFixture(t, &fakeDevice{photo: jpegBytes(t, 40, 20)}, &stubClient{result: jollofResult()})
	ctx := context.Background()

	if err := f.screen.Open(ctx); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if f.screen.State() != StatePreview {
		t.Fatalf("expected preview, got %s", f.screen.State())
	}
	if err := f.screen.TakePhoto(ctx); err != nil {
		t.Fatalf("take photo failed: %v", err)
	}
	img := f.screen.Image()
	if f.screen.State() != StateSelected || img.Source != capture.SourceCamera || img.Width != 40 {
		t.Fatalf("unexpected selection state %s image %+v", f.screen.State(), img)
	}

	view, err := f.screen.Scan(ctx)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if f.screen.State() != StateResult || view.Result().FoodName != "Jollof Rice" {
		t.Fatalf("unexpected result state %s", f.screen.State())
	}
	if !f.device.allStopped() {
		t.Fatal("camera must be released once the result is shown")
	}

	asset := f.client.assets[0]
	if asset.Width != 16 || asset.Height != 8 || asset.Filename != "capture.jpeg" {
		t.Fatalf("asset was not compressed as expected: %dx%d %s", asset.Width, asset.Height, asset.Filename)
	}
}

func TestScreenOpenPermissionDenied(t *testing.T) {
	f := newScreenFixture(t, &fakeDevice{err: capture.ErrPermissionDenied}, &stubClient{result: jollofResult()})

	err := f.screen.Open(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if f.screen.State() != StateIdle {
		t.Fatalf("expected idle, got %s", f.screen.State())
	}
	if f.screen.Message() != MessageCameraAccess {
		t.Fatalf("unexpected message %q", f.screen.Message())
	}
}

func TestScreenFailedUploadCanBeResubmitted(t *testing.T) {
	client := &stubClient{
		errs:   []error{logging.NewOperationError("httpclient.classify", "", classifier.ErrNetwork)},
		result: jollofResult(),
	}
	f := newScreenFixture(t, &fakeDevice{}, client)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "egusi.jpg")
	if err := os.WriteFile(path, jpegBytes(t, 8, 8), 0o600); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	if err := f.screen.SelectFile(path); err != nil {
		t.Fatalf("select failed: %v", err)
	}

	if _, err := f.screen.Scan(ctx); !errors.Is(err, classifier.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if f.screen.State() != StateSelected || f.screen.Message() != MessageNetwork {
		t.Fatalf("expected selected state with network message, got %s %q", f.screen.State(), f.screen.Message())
	}
	if f.screen.ScanID() == "" {
		t.Fatal("expected a retained scan id")
	}

	view, err := f.screen.Resubmit(ctx)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if view.Result().Preview != path {
		t.Fatalf("expected preview %q, got %q", path, view.Result().Preview)
	}
	if f.screen.State() != StateResult || f.screen.Message() != "" {
		t.Fatalf("unexpected state after resubmit %s %q", f.screen.State(), f.screen.Message())
	}
	if len(client.assets) != 2 || client.assets[0].SHA1 != client.assets[1].SHA1 {
		t.Fatal("resubmit must send the retained asset")
	}
}

func writeImageFile(t *testing.T, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, jpegBytes(t, w, h), 0o600); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	return path
}

func TestScreenResubmitsWhenDraftStoreIsDown(t *testing.T) {
	client := &stubClient{
		errs:   []error{logging.NewOperationError("httpclient.classify", "", classifier.ErrNetwork)},
		result: jollofResult(),
	}
	f := newScreenFixtureWithCache(t, &fakeDevice{}, client, unavailableCache{drafts.NewMemoryCache()})
	ctx := context.Background()

	if err := f.screen.SelectFile(writeImageFile(t, "suya.jpg", 8, 8)); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if _, err := f.screen.Scan(ctx); !errors.Is(err, classifier.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}

	view, err := f.screen.Resubmit(ctx)
	if err != nil {
		t.Fatalf("resubmit should use the retained asset, got %v", err)
	}
	if view.Result().FoodName != "Jollof Rice" || f.screen.State() != StateResult {
		t.Fatalf("unexpected state after resubmit %s", f.screen.State())
	}
	if len(client.assets) != 2 || client.assets[0] != client.assets[1] {
		t.Fatal("resubmit must send the asset compressed by the first scan")
	}
}

func TestScreenRescanReusesFailedDraft(t *testing.T) {
	networkErr := logging.NewOperationError("httpclient.classify", "", classifier.ErrNetwork)
	client := &stubClient{errs: []error{networkErr, networkErr}, result: jollofResult()}
	cache := drafts.NewMemoryCache()
	f := newScreenFixtureWithCache(t, &fakeDevice{}, client, cache)
	ctx := context.Background()

	if err := f.screen.SelectFile(writeImageFile(t, "egusi.jpg", 8, 8)); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if _, err := f.screen.Scan(ctx); err == nil {
		t.Fatal("expected first scan to fail")
	}
	firstID := f.screen.ScanID()

	if _, err := f.screen.Scan(ctx); err == nil {
		t.Fatal("expected second scan to fail")
	}
	if f.screen.ScanID() != firstID {
		t.Fatalf("rescan must keep scan id %q, got %q", firstID, f.screen.ScanID())
	}
	if cache.Len() != 1 {
		t.Fatalf("expected a single draft, got %d", cache.Len())
	}

	if err := f.screen.SelectFile(writeImageFile(t, "moimoi.jpg", 8, 8)); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("selecting another image must drop the abandoned draft, %d left", cache.Len())
	}
	if _, err := f.screen.Scan(ctx); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if f.screen.ScanID() == firstID {
		t.Fatal("a new image must get a new scan id")
	}
}

func TestScreenRetakeKeepsLiveStream(t *testing.T) {
	f := newScreenFixture(t, &fakeDevice{photo: jpegBytes(t, 4, 4)}, &stubClient{result: jollofResult()})
	ctx := context.Background()

	if err := f.screen.Open(ctx); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := f.screen.TakePhoto(ctx); err != nil {
		t.Fatalf("take photo failed: %v", err)
	}
	if err := f.screen.Retake(ctx); err != nil {
		t.Fatalf("retake failed: %v", err)
	}
	if f.screen.State() != StatePreview || f.screen.Image() != nil {
		t.Fatalf("expected preview without image, got %s", f.screen.State())
	}
	if len(f.device.tracks) != 1 {
		t.Fatalf("retake should reuse the live stream, opened %d", len(f.device.tracks))
	}
}

func TestScreenCloseStopsCamera(t *testing.T) {
	f := newScreenFixture(t, &fakeDevice{photo: jpegBytes(t, 4, 4)}, &stubClient{result: jollofResult()})

	if err := f.screen.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	f.screen.Close()
	if !f.device.allStopped() {
		t.Fatal("close must stop every track")
	}
	if f.screen.State() != StateIdle {
		t.Fatalf("expected idle, got %s", f.screen.State())
	}
}

func TestScreenRejectsOutOfOrderActions(t *testing.T) {
	f := newScreenFixture(t, &fakeDevice{}, &stubClient{result: jollofResult()})
	ctx := context.Background()

	if err := f.screen.TakePhoto(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := f.screen.Resubmit(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := f.screen.Scan(ctx); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if f.screen.Message() != MessageNoImage {
		t.Fatalf("unexpected message %q", f.screen.Message())
	}
}
