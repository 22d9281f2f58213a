package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newHubServer(t *testing.T, files map[string]string) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var requested []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.Path)
		mu.Unlock()

		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &requested
}

func TestHub_FetchAndCache(t *testing.T) {
	server, requested := newHubServer(t, map[string]string{
		"/org/vit/resolve/main/config.json":              `{"id2label":{"0":"cat"}}`,
		"/org/vit/resolve/main/preprocessor_config.json": `{"size":224}`,
		"/org/vit/resolve/main/onnx/model.onnx":          "weights",
	})

	cache := t.TempDir()
	hub := NewHub(server.URL+"/", cache, nil)

	files, err := hub.Fetch(context.Background(), "org/vit", false)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if files.Model != filepath.Join(cache, "org", "vit", "onnx", "model.onnx") {
		t.Errorf("unexpected model path %s", files.Model)
	}
	data, err := os.ReadFile(files.Model)
	if err != nil || string(data) != "weights" {
		t.Fatalf("model file not written: %v", err)
	}
	if len(*requested) != 3 {
		t.Errorf("Expected 3 downloads, got %v", *requested)
	}

	// Second fetch is served from the cache
	if _, err := hub.Fetch(context.Background(), "org/vit", false); err != nil {
		t.Fatal(err)
	}
	if len(*requested) != 3 {
		t.Errorf("Expected cached files to be reused, got %v", *requested)
	}

	entries, _ := os.ReadDir(filepath.Join(cache, "org", "vit", "onnx"))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestHub_Quantized(t *testing.T) {
	server, requested := newHubServer(t, map[string]string{
		"/org/vit/resolve/main/config.json":                `{}`,
		"/org/vit/resolve/main/preprocessor_config.json":   `{}`,
		"/org/vit/resolve/main/onnx/model_quantized.onnx": "q",
	})

	files, err := NewHub(server.URL, t.TempDir(), nil).Fetch(context.Background(), "org/vit", true)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if filepath.Base(files.Model) != "model_quantized.onnx" {
		t.Errorf("unexpected model file %s", files.Model)
	}
	for _, p := range *requested {
		if strings.HasSuffix(p, "/onnx/model.onnx") {
			t.Error("full precision weights should not be downloaded")
		}
	}
}

func TestHub_MissingFile(t *testing.T) {
	server, _ := newHubServer(t, map[string]string{
		"/org/vit/resolve/main/config.json": `{}`,
	})

	cache := t.TempDir()
	_, err := NewHub(server.URL, cache, nil).Fetch(context.Background(), "org/vit", false)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("Expected 404 error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(cache, "org", "vit", "onnx", "model.onnx")); statErr == nil {
		t.Error("failed download must not leave a model file")
	}
}

func TestValidateModelID(t *testing.T) {
	valid := []string{"Xenova/vit-base-patch16-224", "google/vit-base-patch16-224", "resnet"}
	for _, id := range valid {
		if err := validateModelID(id); err != nil {
			t.Errorf("%q: %v", id, err)
		}
	}
	invalid := []string{"", " ", "../etc", "org/../x", "/abs", "org//vit", `org\vit`}
	for _, id := range invalid {
		if err := validateModelID(id); err == nil {
			t.Errorf("Expected %q to be rejected", id)
		}
	}
}
