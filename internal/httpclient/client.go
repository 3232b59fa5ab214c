package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/foodscan/internal/classifier"
	"github.com/example/foodscan/internal/compress"
	"github.com/example/foodscan/internal/logging"
)

// ClassificationPath is the endpoint that accepts food images.
const ClassificationPath = "/features/food_classification"

// ImageField is the multipart field name carrying the image.
const ImageField = "image"

const maxResponseBytes = 1 << 20

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Client posts compressed images to the classification API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets a whole-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a classification client for the API at baseURL.
func New(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{},
		logger:  logger.Named("classification_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ classifier.Client = (*Client)(nil)

type classificationResponse struct {
	ClassificationResult *classifier.Result `json:"classification_result"`
}

// Classify uploads asset and returns the decoded classification. It never retries.
func (c *Client) Classify(ctx context.Context, asset *compress.Asset, token string) (*classifier.Result, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, logging.NewOperationError("httpclient.classify", "", fmt.Errorf("%w: missing token", classifier.ErrAuth))
	}
	if asset == nil || len(asset.Data) == 0 {
		return nil, logging.NewOperationError("httpclient.classify", "", fmt.Errorf("asset is empty"))
	}

	body, contentType, err := buildMultipartBody(asset)
	if err != nil {
		return nil, logging.NewOperationError("httpclient.build_request", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ClassificationPath, body)
	if err != nil {
		return nil, logging.NewOperationError("httpclient.build_request", "", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("httpclient.classify", "", fmt.Errorf("%w: %v", classifier.ErrNetwork, err))
		c.logger.Error("classification request failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		wrapped := logging.NewOperationError("httpclient.read_response", "", fmt.Errorf("%w: %v", classifier.ErrNetwork, err))
		c.logger.Error("failed to read classification response", zap.Error(wrapped))
		return nil, wrapped
	}

	c.logger.Info("classification response",
		zap.String("asset_sha1", asset.SHA1),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(payload)),
		zap.Duration("latency", time.Since(started)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, logging.NewOperationError("httpclient.classify", "", classifier.ErrAuth)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		serverErr := &classifier.ServerError{StatusCode: resp.StatusCode, Body: classifier.ParseErrorBody(payload)}
		c.logger.Warn("classification rejected",
			zap.Int("status", resp.StatusCode),
			zap.Stringer("body_kind", serverErr.Body.Kind),
			zap.String("detail", serverErr.Detail()),
		)
		return nil, logging.NewOperationError("httpclient.classify", "", serverErr)
	}

	var decoded classificationResponse
	if err := json.Unmarshal(payload, &decoded); err != nil || decoded.ClassificationResult == nil {
		serverErr := &classifier.ServerError{
			StatusCode: resp.StatusCode,
			Body:       classifier.ErrorBody{Kind: classifier.BodyMessage, Message: "malformed classification response"},
		}
		return nil, logging.NewOperationError("httpclient.decode_response", "", serverErr)
	}

	result := decoded.ClassificationResult
	if result.MainIngredients == nil {
		result.MainIngredients = []string{}
	}
	result.Preview = asset.Preview
	return result, nil
}

func buildMultipartBody(asset *compress.Asset) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	mime := asset.MIME
	if mime == "" {
		mime = compress.MIMEJPEG
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, ImageField, quoteEscaper.Replace(asset.Filename)))
	header.Set("Content-Type", mime)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(asset.Data); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
