package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/foodscan/internal/auth"
	"github.com/example/foodscan/internal/capture"
	"github.com/example/foodscan/internal/classifier"
	"github.com/example/foodscan/internal/compress"
	"github.com/example/foodscan/internal/drafts"
	"github.com/example/foodscan/internal/pipeline"
	"github.com/example/foodscan/internal/repository"
)

// MaxUploadSize is the largest accepted image part.
const MaxUploadSize = 10 << 20

const multipartOverhead = 1 << 20

// ScanService is the pipeline surface used by the HTTP front end.
type ScanService interface {
	Scan(ctx context.Context, img *capture.Image, token string) (string, *classifier.Result, error)
	Submit(ctx context.Context, scanID, token string) (*classifier.Result, error)
	History(ctx context.Context, limit int) ([]*repository.ScanRecord, error)
}

type scanResponse struct {
	ScanID string             `json:"scan_id"`
	Result *classifier.Result `json:"classification_result"`
}

type historyEntry struct {
	ScanID      string    `json:"scan_id"`
	FoodName    string    `json:"food_name"`
	Origin      string    `json:"origin"`
	SpiceLevel  string    `json:"spice_level"`
	Ingredients []string  `json:"main_ingredients"`
	Source      string    `json:"source"`
	AssetSHA1   string    `json:"sha1_hash"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CreatedAt   time.Time `json:"created_at"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ScanService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/", authMiddleware)

	protected.POST("/scans", func(c *gin.Context) {
		token, _ := auth.GetToken(c.Request.Context())
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

		file, err := c.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		if !acceptedContentType(file.Header.Get("Content-Type")) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		scanID, result, err := svc.Scan(c.Request.Context(), capture.FromBytes(file.Filename, data), token)
		if err != nil {
			writeError(c, scanID, err)
			return
		}
		c.JSON(http.StatusOK, scanResponse{ScanID: scanID, Result: result})
	})

	protected.POST("/scans/:id/resubmit", func(c *gin.Context) {
		token, _ := auth.GetToken(c.Request.Context())
		scanID := c.Param("id")

		result, err := svc.Submit(c.Request.Context(), scanID, token)
		if err != nil {
			writeError(c, scanID, err)
			return
		}
		c.JSON(http.StatusOK, scanResponse{ScanID: scanID, Result: result})
	})

	protected.GET("/scans", func(c *gin.Context) {
		limit := repository.DefaultListLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		records, err := svc.History(c.Request.Context(), limit)
		if err != nil {
			writeError(c, "", err)
			return
		}

		entries := make([]historyEntry, 0, len(records))
		for _, r := range records {
			entries = append(entries, historyEntry{
				ScanID:      r.ScanID,
				FoodName:    r.FoodName,
				Origin:      r.Origin,
				SpiceLevel:  r.SpiceLevel,
				Ingredients: r.Ingredients,
				Source:      r.Source,
				AssetSHA1:   r.AssetSHA1,
				Width:       r.Width,
				Height:      r.Height,
				CreatedAt:   r.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"scans": entries})
	})
}

func acceptedContentType(header string) bool {
	if header == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}

func writeError(c *gin.Context, scanID string, err error) {
	body := gin.H{"error": pipeline.UserMessage(err)}
	if scanID != "" {
		body["scan_id"] = scanID
	}

	var serverErr *classifier.ServerError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, compress.ErrDecode), errors.Is(err, pipeline.ErrNoImage):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, classifier.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, classifier.ErrNetwork):
		status = http.StatusBadGateway
	case errors.As(err, &serverErr):
		status = http.StatusBadGateway
		body["upstream_status"] = serverErr.StatusCode
		body["detail"] = serverErr.Detail()
	case errors.Is(err, drafts.ErrDraftNotFound), errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrHistoryDisabled):
		status = http.StatusNotImplemented
	}
	c.JSON(status, body)
}
