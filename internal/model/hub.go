package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anime-shed/image-classifier-go/internal/logger"
)

const (
	configFile       = "config.json"
	preprocessorFile = "preprocessor_config.json"
	modelFile        = "onnx/model.onnx"
	quantizedFile    = "onnx/model_quantized.onnx"
)

// Files are the local paths of a downloaded model
type Files struct {
	Dir          string
	Config       string
	Preprocessor string
	Model        string
}

// Hub downloads model files from a Hugging Face compatible hub into a
// local cache directory. Files already in the cache are reused.
type Hub struct {
	baseURL  string
	cacheDir string
	client   *http.Client
}

// NewHub creates a hub client. A nil client gets a default one without an
// overall timeout, since model files can be hundreds of megabytes.
func NewHub(baseURL, cacheDir string, client *http.Client) *Hub {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	return &Hub{
		baseURL:  strings.TrimRight(baseURL, "/"),
		cacheDir: cacheDir,
		client:   client,
	}
}

// Fetch makes sure every file the classifier needs is in the cache and
// returns their paths. Downloads run concurrently; the first failure
// cancels the rest.
func (h *Hub) Fetch(ctx context.Context, modelID string, quantized bool) (*Files, error) {
	if err := validateModelID(modelID); err != nil {
		return nil, err
	}

	dir := filepath.Join(h.cacheDir, filepath.FromSlash(modelID))
	weights := modelFile
	if quantized {
		weights = quantizedFile
	}

	files := &Files{
		Dir:          dir,
		Config:       filepath.Join(dir, configFile),
		Preprocessor: filepath.Join(dir, preprocessorFile),
		Model:        filepath.Join(dir, filepath.FromSlash(weights)),
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range []string{configFile, preprocessorFile, weights} {
		g.Go(func() error {
			return h.ensure(ctx, modelID, name, filepath.Join(dir, filepath.FromSlash(name)))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (h *Hub) ensure(ctx context.Context, modelID, name, dest string) error {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		logger.WithFields(map[string]interface{}{
			"model_id": modelID,
			"file":     name,
		}).Debug("Using cached model file")
		return nil
	}

	fileURL := fmt.Sprintf("%s/%s/resolve/main/%s", h.baseURL, modelID, name)
	start := time.Now()

	if err := h.download(ctx, fileURL, dest); err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}

	logger.WithFields(map[string]interface{}{
		"model_id": modelID,
		"file":     name,
		"duration": time.Since(start).String(),
	}).Info("Downloaded model file")
	return nil
}

func (h *Hub) download(ctx context.Context, fileURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Go-Image-Classifier/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, fileURL)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	// Write next to the destination so the rename stays on one filesystem
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}

func validateModelID(modelID string) error {
	if strings.TrimSpace(modelID) == "" {
		return fmt.Errorf("model id is empty")
	}
	if strings.HasPrefix(modelID, "/") || strings.Contains(modelID, "\\") {
		return fmt.Errorf("invalid model id %q", modelID)
	}
	for _, part := range strings.Split(modelID, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid model id %q", modelID)
		}
	}
	if _, err := url.Parse(modelID); err != nil {
		return fmt.Errorf("invalid model id %q: %w", modelID, err)
	}
	return nil
}
