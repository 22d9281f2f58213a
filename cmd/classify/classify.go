package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/anime-shed/image-classifier-go/internal/acquire"
	"github.com/anime-shed/image-classifier-go/internal/config"
	"github.com/anime-shed/image-classifier-go/internal/container"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/model"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/internal/render"
	"github.com/anime-shed/image-classifier-go/internal/session"
	"github.com/anime-shed/image-classifier-go/internal/storage"
)

// newProvider builds the model provider for cfg. Tests swap it out.
var newProvider = func(cfg *config.Config) (model.Provider, error) {
	resolver, err := container.NewResolver(cfg)
	if err != nil {
		return nil, err
	}
	hub := model.NewHub(cfg.ModelHubURL, cfg.ModelCacheDir, &http.Client{Timeout: cfg.ModelLoadTimeout})
	return model.NewONNXProvider(hub, resolver, cfg.ONNXLibraryPath), nil
}

type classifyOptions struct {
	format     render.Format
	configPath string
	modelID    string
	quantized  bool
	topK       int
	verbose    bool
}

func parseClassifyOptions(cmd *cobra.Command) (classifyOptions, error) {
	var opts classifyOptions

	formatName, _ := cmd.Flags().GetString("format")
	format, err := render.ParseFormat(formatName)
	if err != nil {
		return opts, err
	}
	opts.format = format

	opts.configPath, _ = cmd.Flags().GetString("config")
	opts.modelID, _ = cmd.Flags().GetString("model")
	opts.quantized, _ = cmd.Flags().GetBool("quantized")
	opts.topK, _ = cmd.Flags().GetInt("top-k")
	opts.verbose, _ = cmd.Flags().GetBool("verbose")
	if opts.topK < 0 {
		return opts, fmt.Errorf("--top-k must be >= 0 (got %d)", opts.topK)
	}
	return opts, nil
}

func loadConfig(cmd *cobra.Command, opts classifyOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.modelID != "" {
		cfg.ModelID = opts.modelID
	}
	if cmd.Flags().Changed("quantized") {
		cfg.Quantized = opts.quantized
	}
	if opts.topK > 0 {
		cfg.TopK = opts.topK
	}
	return cfg, nil
}

func runClassifyCmd(cmd *cobra.Command, args []string) error {
	opts, err := parseClassifyOptions(cmd)
	if err != nil {
		return err
	}

	_ = godotenv.Load()
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger.Configure(level, cmd.ErrOrStderr())

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	events := observer.NewSyncEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))

	loader := model.NewLoader(provider, cfg.ModelID, model.Options{Quantized: cfg.Quantized}, cfg.ModelLoadTimeout, events)
	defer loader.Close()

	ctrl := session.NewController("cli", loader, events, session.Options{
		TopK:            cfg.TopK,
		AnalysisTimeout: cfg.AnalysisTimeout,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	snap, err := classify(ctx, ctrl, args[0], cfg.MaxImageBytes)
	if err != nil {
		return err
	}
	if err := render.Write(cmd.OutOrStdout(), opts.format, snap); err != nil {
		return err
	}
	if snap.Phase == session.Failed {
		return errAnalysisFailed
	}
	return nil
}

// classify acquires the input, loads the model and runs one analysis.
// Input and analysis failures are reported through the returned snapshot;
// the error is only set when the model cannot be loaded.
func classify(ctx context.Context, ctrl *session.Controller, input string, maxBytes int64) (session.Snapshot, error) {
	var ref string
	if isReference(input) {
		if err := ctrl.SetInputMode(session.URLMode); err != nil {
			return ctrl.FailInput(err), nil
		}
		ctrl.SetPendingURL(input)
		ref = acquire.URL(input)
	} else {
		var err error
		if ref, err = readFile(input, maxBytes); err != nil {
			logger.WithError(err).WithField("file", input).Debug("Input file could not be read")
			return ctrl.FailInput(err), nil
		}
	}

	if err := ctrl.EnsureModelReady(ctx); err != nil {
		return ctrl.Snapshot(), fmt.Errorf("model could not be loaded: %w", err)
	}

	snap, err := ctrl.Analyze(ctx, ref)
	if err != nil {
		return ctrl.FailInput(err), nil
	}
	logger.WithFields(logrus.Fields{
		"phase":   snap.Phase,
		"results": len(snap.Results),
	}).Debug("Analysis finished")
	return snap, nil
}

// isReference reports whether input names a remote or embedded image rather
// than a local file.
func isReference(input string) bool {
	switch storage.Classify(input) {
	case storage.HTTPSource, storage.BlobSource, storage.EmbeddedSource:
		return true
	}
	return false
}

func readFile(path string, maxBytes int64) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer f.Close()
	return acquire.FileToDataURI(strings.TrimSpace(filepath.Base(path)), f, maxBytes)
}
