// Package pipeline wires capture, compression, submission and presentation into
// the scan flow.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/foodscan/internal/capture"
	"github.com/example/foodscan/internal/classifier"
	"github.com/example/foodscan/internal/compress"
	"github.com/example/foodscan/internal/logging"
	"github.com/example/foodscan/internal/repository"
)

var (
	// ErrNoImage is returned when a scan is requested without an image.
	ErrNoImage = errors.New("no image selected")
	// ErrHistoryDisabled is returned by History when no database is configured.
	ErrHistoryDisabled = errors.New("scan history is not configured")
)

// Compressor turns a captured image into an upload asset.
type Compressor interface {
	Compress(ctx context.Context, img *capture.Image) (*compress.Asset, error)
}

// DraftStore retains assets until they are submitted successfully.
type DraftStore interface {
	Save(ctx context.Context, scanID string, asset *compress.Asset) error
	Load(ctx context.Context, scanID string) (*compress.Asset, error)
	Delete(ctx context.Context, scanID string) error
}

// HistoryRepository persists successful scans.
type HistoryRepository interface {
	Save(ctx context.Context, record *repository.ScanRecord) error
	List(ctx context.Context, limit int) ([]*repository.ScanRecord, error)
}

// Service runs compression and submission for one image at a time.
type Service struct {
	compressor Compressor
	client     classifier.Client
	drafts     DraftStore
	history    HistoryRepository
	logger     *zap.Logger
	newID      func() string
}

// NewService constructs the pipeline. history may be nil.
func NewService(compressor Compressor, client classifier.Client, drafts DraftStore, history HistoryRepository, logger *zap.Logger) *Service {
	return &Service{
		compressor: compressor,
		client:     client,
		drafts:     drafts,
		history:    history,
		logger:     logger.Named("pipeline"),
		newID:      uuid.NewString,
	}
}

// Prepare compresses img and saves it as a draft under a new scan id.
func (s *Service) Prepare(ctx context.Context, img *capture.Image) (string, *compress.Asset, error) {
	if img == nil || len(img.Data) == 0 {
		return "", nil, logging.NewOperationError("pipeline.prepare", "", ErrNoImage)
	}

	scanID := s.newID()
	opLogger := logging.WithOperation(s.logger, "pipeline.prepare", scanID)

	asset, err := s.compressor.Compress(ctx, img)
	if err != nil {
		wrapped := logging.NewOperationError("pipeline.compress", scanID, err)
		opLogger.Error("compression failed", zap.Error(wrapped))
		return "", nil, wrapped
	}

	if err := s.drafts.Save(ctx, scanID, asset); err != nil {
		opLogger.Warn("failed to save draft", zap.Error(err))
	}

	opLogger.Info("image prepared",
		zap.String("source", string(asset.Source)),
		zap.Int("width", asset.Width),
		zap.Int("height", asset.Height),
		zap.Int("bytes", len(asset.Data)),
	)
	return scanID, asset, nil
}

// Scan compresses and submits img. On a submission failure the returned scan id
// still identifies the draft so the caller can resubmit it.
func (s *Service) Scan(ctx context.Context, img *capture.Image, token string) (string, *classifier.Result, error) {
	scanID, asset, err := s.Prepare(ctx, img)
	if err != nil {
		return "", nil, err
	}
	result, err := s.SubmitAsset(ctx, scanID, asset, token)
	return scanID, result, err
}

// Submit sends the draft saved under scanID again.
func (s *Service) Submit(ctx context.Context, scanID, token string) (*classifier.Result, error) {
	asset, err := s.drafts.Load(ctx, scanID)
	if err != nil {
		logging.WithOperation(s.logger, "pipeline.resubmit", scanID).Warn("draft unavailable", zap.Error(err))
		return nil, err
	}
	return s.SubmitAsset(ctx, scanID, asset, token)
}

// History returns recent successful scans.
func (s *Service) History(ctx context.Context, limit int) ([]*repository.ScanRecord, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.List(ctx, limit)
}

// Discard drops the draft saved under scanID. A missing draft is not an error.
func (s *Service) Discard(ctx context.Context, scanID string) {
	if err := s.drafts.Delete(ctx, scanID); err != nil {
		logging.WithOperation(s.logger, "pipeline.discard", scanID).Warn("failed to delete draft", zap.Error(err))
	}
}

// SubmitAsset classifies an asset already prepared under scanID. The draft is
// deleted once the classification succeeds.
func (s *Service) SubmitAsset(ctx context.Context, scanID string, asset *compress.Asset, token string) (*classifier.Result, error) {
	opLogger := logging.WithOperation(s.logger, "pipeline.submit", scanID)

	result, err := s.client.Classify(ctx, asset, token)
	if err != nil {
		wrapped := logging.NewOperationError("pipeline.submit", scanID, err)
		opLogger.Error("classification failed", zap.Error(wrapped))
		return nil, wrapped
	}

	if s.history != nil {
		record := &repository.ScanRecord{
			ScanID:      scanID,
			FoodName:    result.FoodName,
			Origin:      result.Origin,
			SpiceLevel:  result.SpiceLevel,
			Ingredients: result.MainIngredients,
			Source:      string(asset.Source),
			AssetSHA1:   asset.SHA1,
			Width:       asset.Width,
			Height:      asset.Height,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.history.Save(ctx, record); err != nil {
			opLogger.Warn("failed to record scan history", zap.Error(err))
		}
	}

	s.Discard(ctx, scanID)

	opLogger.Info("image classified", zap.String("food_name", result.FoodName))
	return result, nil
}
