package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/logger"
)

// ImageSource resolves an image reference to encoded image bytes
type ImageSource interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

var envMu sync.Mutex

func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ONNXProvider loads image classification models exported to ONNX
// (pixel_values in, logits out) from a model hub.
type ONNXProvider struct {
	hub         *Hub
	images      ImageSource
	libraryPath string
}

// NewONNXProvider creates a provider. libraryPath points at the onnxruntime
// shared library; empty uses the platform default lookup.
func NewONNXProvider(hub *Hub, images ImageSource, libraryPath string) *ONNXProvider {
	return &ONNXProvider{
		hub:         hub,
		images:      images,
		libraryPath: libraryPath,
	}
}

// Load downloads the model if needed and builds an inference session
func (p *ONNXProvider) Load(ctx context.Context, modelID string, opts Options) (Handle, error) {
	files, err := p.hub.Fetch(ctx, modelID, opts.Quantized)
	if err != nil {
		return nil, err
	}

	labels, prep, err := readModelConfig(files)
	if err != nil {
		return nil, err
	}

	if err := initEnvironment(p.libraryPath); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(prep.Height), int64(prep.Width)))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(labels))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(files.Model,
		[]string{"pixel_values"}, []string{"logits"},
		[]ort.Value{input}, []ort.Value{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"model_id":  modelID,
		"quantized": opts.Quantized,
		"labels":    len(labels),
		"input":     fmt.Sprintf("%dx%d", prep.Width, prep.Height),
	}).Info("ONNX session created")

	return &onnxHandle{
		session: session,
		input:   input,
		output:  output,
		labels:  labels,
		prep:    prep,
		images:  p.images,
	}, nil
}

type onnxHandle struct {
	// session and tensors are reused across calls
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	closed  bool

	labels []string
	prep   Preprocessing
	images ImageSource
}

// Classify fetches and decodes the image, runs the model and returns the
// top-k predictions as JSON.
func (h *onnxHandle) Classify(ctx context.Context, imageRef string, opts ClassifyOptions) ([]byte, error) {
	data, err := h.images.Fetch(ctx, imageRef)
	if err != nil {
		return nil, err
	}

	img, err := DecodeImage(data)
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to decode image", err)
	}
	pixels := h.prep.Tensor(img)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logits, err := h.run(pixels)
	if err != nil {
		return nil, err
	}

	return json.Marshal(TopK(Softmax(logits), h.labels, opts.TopK))
}

func (h *onnxHandle) run(pixels []float32) ([]float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, apperrors.NewInternalError("model handle is closed", nil)
	}

	copy(h.input.GetData(), pixels)
	if err := h.session.Run(); err != nil {
		return nil, apperrors.NewProcessingError("inference failed", err)
	}

	out := h.output.GetData()
	logits := make([]float32, len(out))
	copy(logits, out)
	return logits, nil
}

func (h *onnxHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	var firstErr error
	for _, destroy := range []func() error{h.session.Destroy, h.input.Destroy, h.output.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
