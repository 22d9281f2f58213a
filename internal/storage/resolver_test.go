package storage

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anime-shed/image-classifier-go/internal/acquire"
	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/pkg/validation"
)

type fakeBlob struct {
	data []byte
	err  error
	refs []string
}

func (f *fakeBlob) GetImage(ctx context.Context, blobRef string) ([]byte, error) {
	f.refs = append(f.refs, blobRef)
	return f.data, f.err
}

func TestClassify(t *testing.T) {
	tests := map[string]SourceType{
		"data:image/png;base64,AAAA":    EmbeddedSource,
		"https://example.com/cat.jpg":   HTTPSource,
		"HTTP://example.com/cat.jpg":    HTTPSource,
		"azblob://uploads/cat.jpg":      BlobSource,
		"ftp://example.com/cat.jpg":     UnknownSource,
		"":                              UnknownSource,
		"httpfoo://example.com/cat.jpg": UnknownSource,
	}
	for ref, want := range tests {
		if got := Classify(ref); got != want {
			t.Errorf("Classify(%q) = %s, want %s", ref, got, want)
		}
	}
}

func TestResolver_Embedded(t *testing.T) {
	r := NewResolver(newTestFetcher(), nil, nil)
	ref := acquire.EncodeDataURI("image/png", pngData)

	data, err := r.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, pngData) {
		t.Error("Expected decoded payload")
	}
}

func TestResolver_HTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write(pngData)
	}))
	defer server.Close()

	r := NewResolver(newTestFetcher(), nil, nil)

	data, err := r.Fetch(context.Background(), server.URL+"/cat.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, pngData) {
		t.Error("Expected served bytes")
	}

	_, err = r.Fetch(context.Background(), server.URL+"/missing.jpg")
	if !apperrors.IsType(err, apperrors.ErrorTypeNetwork) {
		t.Errorf("Expected network error for 404, got %v", err)
	}
}

func TestResolver_HTTPRejectedByValidator(t *testing.T) {
	validator := validation.NewURLValidatorWithOptions(validation.Options{BlockPrivate: true})
	r := NewResolver(newTestFetcher(), nil, validator)

	_, err := r.Fetch(context.Background(), "http://127.0.0.1:1/cat.jpg")
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestResolver_Blob(t *testing.T) {
	blob := &fakeBlob{data: pngData}
	r := NewResolver(newTestFetcher(), blob, nil)

	data, err := r.Fetch(context.Background(), "azblob://uploads/cats/tabby.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, pngData) || len(blob.refs) != 1 {
		t.Error("Expected blob storage to serve the image")
	}

	blob.err = errors.New("403 forbidden")
	_, err = r.Fetch(context.Background(), "azblob://uploads/cats/tabby.png")
	if !apperrors.IsType(err, apperrors.ErrorTypeNetwork) {
		t.Errorf("Expected network error, got %v", err)
	}
}

func TestResolver_BlobNotConfigured(t *testing.T) {
	r := NewResolver(newTestFetcher(), nil, nil)
	_, err := r.Fetch(context.Background(), "azblob://uploads/cat.png")
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestResolver_Unsupported(t *testing.T) {
	r := NewResolver(newTestFetcher(), nil, nil)
	for _, ref := range []string{"", "cat.jpg", "ftp://example.com/cat.jpg"} {
		if _, err := r.Fetch(context.Background(), ref); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
			t.Errorf("Expected validation error for %q, got %v", ref, err)
		}
	}
}

func TestParseBlobRef(t *testing.T) {
	container, blob, err := ParseBlobRef("azblob://uploads/2024/cat.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if container != "uploads" || blob != "2024/cat.jpg" {
		t.Errorf("got container=%s blob=%s", container, blob)
	}

	for _, bad := range []string{"azblob://uploads", "https://uploads/cat.jpg", "azblob:///cat.jpg"} {
		if _, _, err := ParseBlobRef(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}
