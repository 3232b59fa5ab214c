package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/foodscan/internal/auth"
	"github.com/example/foodscan/internal/capture"
	"github.com/example/foodscan/internal/classifier"
	"github.com/example/foodscan/internal/drafts"
	"github.com/example/foodscan/internal/logging"
	"github.com/example/foodscan/internal/pipeline"
	"github.com/example/foodscan/internal/repository"
)

type stubService struct {
	scanErr    error
	submitErr  error
	historyErr error
	records    []*repository.ScanRecord

	images []*capture.Image
	tokens []string
	limits []int
}

func (s *stubService) Scan(ctx context.Context, img *capture.Image, token string) (string, *classifier.Result, error) {
	s.images = append(s.images, img)
	s.tokens = append(s.tokens, token)
	if s.scanErr != nil {
		return "scan-1", nil, s.scanErr
	}
	return "scan-1", &classifier.Result{FoodName: "Suya", MainIngredients: []string{"Beef", "Yaji"}}, nil
}

func (s *stubService) Submit(ctx context.Context, scanID, token string) (*classifier.Result, error) {
	s.tokens = append(s.tokens, token)
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &classifier.Result{FoodName: "Suya"}, nil
}

func (s *stubService) History(ctx context.Context, limit int) ([]*repository.ScanRecord, error) {
	s.limits = append(s.limits, limit)
	return s.records, s.historyErr
}

func newRouter(svc ScanService) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, auth.BearerMiddleware())
	return router
}

func postScan(t *testing.T, router *gin.Engine, contentType string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, formType := buildMultipartBody(t, contentType, payload)
	req := httptest.NewRequest(http.MethodPost, "/scans", body)
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Authorization", "Bearer user-token")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestScanForwardsImageAndToken(t *testing.T) {
	svc := &stubService{}
	resp := postScan(t, newRouter(svc), "image/png", []byte("png-bytes"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if len(svc.images) != 1 || svc.tokens[0] != "user-token" {
		t.Fatalf("unexpected forwarded call images=%d tokens=%v", len(svc.images), svc.tokens)
	}
	img := svc.images[0]
	if img.Name != "upload.png" || img.Source != capture.SourceFileUpload || string(img.Data) != "png-bytes" {
		t.Fatalf("unexpected image %+v", img)
	}

	var decoded struct {
		ScanID string             `json:"scan_id"`
		Result *classifier.Result `json:"classification_result"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.ScanID != "scan-1" || decoded.Result.FoodName != "Suya" {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestScanRequiresBearerToken(t *testing.T) {
	router := newRouter(&stubService{})

	body, formType := buildMultipartBody(t, "image/png", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/scans", body)
	req.Header.Set("Content-Type", formType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestScanRejectsLargeUpload(t *testing.T) {
	resp := postScan(t, newRouter(&stubService{}), "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestScanRejectsUnsupportedContentType(t *testing.T) {
	resp := postScan(t, newRouter(&stubService{}), "text/plain", []byte("hello"))

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestScanErrorStatuses(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{name: "network", err: logging.NewOperationError("pipeline.submit", "scan-1", classifier.ErrNetwork), status: http.StatusBadGateway, message: pipeline.MessageNetwork},
		{name: "auth", err: classifier.ErrAuth, status: http.StatusUnauthorized, message: pipeline.MessageAuth},
		{
			name: "server",
			err: &classifier.ServerError{StatusCode: 422, Body: classifier.ErrorBody{
				Kind:   classifier.BodyFieldErrors,
				Fields: []classifier.FieldError{{Loc: []string{"body", "image"}, Msg: "Image is not a food"}},
			}},
			status:  http.StatusBadGateway,
			message: "Image is not a food",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postScan(t, newRouter(&stubService{scanErr: tt.err}), "image/jpeg", []byte("jpeg"))
			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.Code)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["error"] != tt.message {
				t.Fatalf("expected message %q, got %v", tt.message, body["error"])
			}
			if body["scan_id"] != "scan-1" {
				t.Fatalf("expected scan id for resubmission, got %v", body["scan_id"])
			}
		})
	}
}

func TestResubmitMissingDraft(t *testing.T) {
	svc := &stubService{submitErr: logging.NewOperationError("drafts.load", "gone", drafts.ErrDraftNotFound)}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/scans/gone/resubmit", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestHistory(t *testing.T) {
	svc := &stubService{records: []*repository.ScanRecord{{
		ScanID:      "scan-9",
		FoodName:    "Egusi Soup",
		Ingredients: []string{"Melon seeds"},
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}}
	router := newRouter(svc)

	req := historyRequest("/scans?limit=5")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if len(svc.limits) != 1 || svc.limits[0] != 5 {
		t.Fatalf("unexpected limit %v", svc.limits)
	}
	var body struct {
		Scans []historyEntry `json:"scans"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(body.Scans) != 1 || body.Scans[0].FoodName != "Egusi Soup" {
		t.Fatalf("unexpected history %s", resp.Body.String())
	}
}

func TestHistoryBadLimitAndDisabled(t *testing.T) {
	router := newRouter(&stubService{historyErr: pipeline.ErrHistoryDisabled})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, historyRequest("/scans?limit=zero"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, historyRequest("/scans"))
	if resp.Code != http.StatusNotImplemented {
		t.Fatalf("expected status %d, got %d", http.StatusNotImplemented, resp.Code)
	}
}

func TestHistoryRequiresBearerToken(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/scans", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
	if len(svc.limits) != 0 {
		t.Fatal("history must not be read without a token")
	}
}

func historyRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer user-token")
	return req
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload.png"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
