package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anime-shed/image-classifier-go/internal/config"
	"github.com/anime-shed/image-classifier-go/internal/model"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/internal/session"
	"github.com/anime-shed/image-classifier-go/internal/worker"
	"github.com/anime-shed/image-classifier-go/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubHandle struct{}

func (stubHandle) Classify(_ context.Context, ref string, _ model.ClassifyOptions) ([]byte, error) {
	return []byte(`[{"label":"tabby, tabby cat","score":0.9},{"label":"dog","score":0.05}]`), nil
}

func (stubHandle) Close() error { return nil }

type stubProvider struct{}

func (stubProvider) Load(context.Context, string, model.Options) (model.Handle, error) {
	return stubHandle{}, nil
}

type testServer struct {
	handler http.Handler
	store   *session.Store
	pool    *worker.Pool
	metrics *observer.MetricsObserver
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.AnalyzeRateLimit = 0
	cfg.RequestTimeout = 5 * time.Second
	cfg.MaxImageBytes = 1 << 20
	if mutate != nil {
		mutate(cfg)
	}

	metrics := observer.NewMetricsObserver()
	events := observer.NewSyncEventPublisher()
	events.Subscribe(metrics)

	loader := model.NewLoader(stubProvider{}, "test/model", model.Options{}, time.Minute, events)
	store := session.NewStore(loader, events, session.Options{TopK: 5}, false)
	pool := worker.NewPool(2, 8)
	pool.Start()
	t.Cleanup(pool.Close)

	return &testServer{
		handler: NewHandler(Dependencies{
			Config:   cfg,
			Sessions: store,
			Model:    loader,
			Pool:     pool,
			Metrics:  metrics,
			Version:  "test",
		}),
		store:   store,
		pool:    pool,
		metrics: metrics,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) create(t *testing.T) models.SessionResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodeSession(t, w)
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) models.SessionResponse {
	t.Helper()
	var resp models.SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.create(t)

	if created.Phase != "idle" || created.ActiveInputMode != "upload" || created.CurrentImage != nil {
		t.Errorf("unexpected initial session %+v", created)
	}
	if created.Results == nil || len(created.Results) != 0 {
		t.Errorf("results should be an empty list, got %v", created.Results)
	}

	w := s.do(t, http.MethodGet, "/sessions/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if got := decodeSession(t, w); got.ID != created.ID {
		t.Errorf("got session %q", got.ID)
	}

	if w := s.do(t, http.MethodDelete, "/sessions/"+created.ID, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/sessions/"+created.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", w.Code)
	}
	if w := s.do(t, http.MethodDelete, "/sessions/"+created.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t, nil)
	for _, id := range []string{"not-a-uuid", "5f0c4f9e-8a43-4c1e-9a55-0b7f3f3c2d11"} {
		w := s.do(t, http.MethodGet, "/sessions/"+id, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", id, w.Code)
		}
	}
}

func TestSetInputMode(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	w := s.do(t, http.MethodPut, "/sessions/"+id+"/input-mode", `{"mode":"url"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeSession(t, w).ActiveInputMode; got != "url" {
		t.Errorf("expected url mode, got %q", got)
	}

	tests := []struct {
		name string
		body string
	}{
		{"unknown mode", `{"mode":"camera"}`},
		{"missing mode", `{}`},
		{"malformed", `{"mode":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPut, "/sessions/"+id+"/input-mode", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAnalyzeURLAndWait(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	w := s.do(t, http.MethodPost, "/sessions/"+id+"/analyze?wait=true", `{"image":"  https://example.com/cat.jpg "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeSession(t, w)
	if resp.Phase != "succeeded" || resp.IsAnalyzing || resp.StatusMessage != "" {
		t.Errorf("unexpected settled session %+v", resp)
	}
	if resp.CurrentImage == nil || *resp.CurrentImage != "https://example.com/cat.jpg" {
		t.Errorf("unexpected current image %v", resp.CurrentImage)
	}
	if len(resp.Results) != 2 || resp.Results[0].DisplayLabel != "tabby" || resp.Results[0].Percentage != "90.0" {
		t.Errorf("unexpected results %+v", resp.Results)
	}
	if !resp.ModelReady {
		t.Error("model should be ready after an analysis")
	}
}

func TestAnalyzeFallsBackToPendingURL(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	w := s.do(t, http.MethodPut, "/sessions/"+id+"/pending-url", `{"url":"https://example.com/dog.png"}`)
	if w.Code != http.StatusOK || decodeSession(t, w).PendingURLText != "https://example.com/dog.png" {
		t.Fatalf("pending url not stored: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/sessions/"+id+"/analyze?wait=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeSession(t, w)
	if resp.CurrentImage == nil || *resp.CurrentImage != "https://example.com/dog.png" {
		t.Errorf("expected pending url to be analyzed, got %v", resp.CurrentImage)
	}
}

func TestAnalyzeEmptyReference(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	for _, body := range []string{"", `{"image":"   "}`} {
		w := s.do(t, http.MethodPost, "/sessions/"+id+"/analyze", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}

	// Nothing changed
	w := s.do(t, http.MethodGet, "/sessions/"+id, "")
	if got := decodeSession(t, w); got.Phase != "idle" || got.CurrentImage != nil {
		t.Errorf("state changed on empty reference: %+v", got)
	}
}

func TestAnalyzeAccepted(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	w := s.do(t, http.MethodPost, "/sessions/"+id+"/analyze", `{"image":"https://example.com/cat.jpg"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	s.pool.Wait()
	w = s.do(t, http.MethodGet, "/sessions/"+id, "")
	if got := decodeSession(t, w); got.Phase != "succeeded" {
		t.Errorf("expected analysis to settle, got %q", got.Phase)
	}
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func (s *testServer) upload(t *testing.T, id, field, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, field, name, data)
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/upload?wait=true", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestUploadImage(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	w := s.upload(t, id, "image", "cat.png", pngBytes(t))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeSession(t, w)
	if resp.Phase != "succeeded" {
		t.Errorf("expected succeeded, got %q", resp.Phase)
	}
	if resp.CurrentImage == nil || !strings.HasPrefix(*resp.CurrentImage, "data:image/png;base64,") {
		t.Errorf("expected an embedded png, got %v", resp.CurrentImage)
	}
}

func TestUploadUnreadableFile(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	w := s.upload(t, id, "image", "notes.txt", []byte("just some text"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeSession(t, w)
	if resp.Phase != "failed" || resp.LastError == nil {
		t.Fatalf("expected failed session, got %+v", resp)
	}
	if resp.LastError.Title != session.ErrAnalysisFailed.Title || resp.CurrentImage != nil {
		t.Errorf("unexpected failure %+v", resp)
	}
}

func TestUploadMissingField(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	w := s.upload(t, id, "file", "cat.png", pngBytes(t))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestReset(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	s.do(t, http.MethodPut, "/sessions/"+id+"/input-mode", `{"mode":"url"}`)
	s.do(t, http.MethodPost, "/sessions/"+id+"/analyze?wait=true", `{"image":"https://example.com/cat.jpg"}`)

	w := s.do(t, http.MethodPost, "/sessions/"+id+"/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeSession(t, w)
	if resp.Phase != "idle" || resp.CurrentImage != nil || len(resp.Results) != 0 || resp.LastError != nil {
		t.Errorf("unexpected reset state %+v", resp)
	}
	if resp.ActiveInputMode != "url" {
		t.Errorf("reset should keep the input mode, got %q", resp.ActiveInputMode)
	}
}

func TestEnsureModel(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID

	w := s.do(t, http.MethodPost, "/sessions/"+id+"/model", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeSession(t, w); !resp.ModelReady || resp.StatusMessage != "" {
		t.Errorf("unexpected session %+v", resp)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(t).ID
	s.do(t, http.MethodPost, "/sessions/"+id+"/analyze?wait=true", `{"image":"https://example.com/cat.jpg"}`)

	w := s.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", w.Code)
	}
	var health models.HealthResponse
	json.Unmarshal(w.Body.Bytes(), &health)
	if health.Status != "available" || health.ModelID != "test/model" || !health.ModelReady || health.Sessions != 1 {
		t.Errorf("unexpected health %+v", health)
	}

	w = s.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
	var metrics models.MetricsResponse
	json.Unmarshal(w.Body.Bytes(), &metrics)
	if metrics.ModelLoads != 1 || metrics.Sessions != 1 {
		t.Errorf("unexpected metrics %+v", metrics)
	}
	if got, _ := metrics.Analyses["successful_analyses"].(float64); got != 1 {
		t.Errorf("expected 1 successful analysis, got %v", metrics.Analyses["successful_analyses"])
	}
}

func TestAnalyzeRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.AnalyzeRateLimit = 0.001
		cfg.AnalyzeBurst = 1
	})
	id := s.create(t).ID

	body := `{"image":"https://example.com/cat.jpg"}`
	if w := s.do(t, http.MethodPost, "/sessions/"+id+"/analyze?wait=true", body); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := s.do(t, http.MethodPost, "/sessions/"+id+"/analyze", body)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", w.Code)
	}

	// Reads are not limited
	if w := s.do(t, http.MethodGet, "/sessions/"+id, ""); w.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", w.Code)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.MaxRequestBodySize = 64
	})
	id := s.create(t).ID

	body := `{"image":"https://example.com/` + strings.Repeat("a", 200) + `.jpg"}`
	w := s.do(t, http.MethodPost, "/sessions/"+id+"/analyze", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}
