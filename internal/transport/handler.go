package transport

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/image-classifier-go/internal/acquire"
	"github.com/anime-shed/image-classifier-go/internal/config"
	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/internal/render"
	"github.com/anime-shed/image-classifier-go/internal/session"
	"github.com/anime-shed/image-classifier-go/internal/worker"
	"github.com/anime-shed/image-classifier-go/pkg/models"
)

// ModelStatus reports on the shared model slot
type ModelStatus interface {
	ModelID() string
	Ready() bool
	Loads() int64
}

// Dependencies are the services the HTTP layer drives
type Dependencies struct {
	Config   *config.Config
	Sessions *session.Store
	Model    ModelStatus
	Pool     *worker.Pool
	Metrics  *observer.MetricsObserver
	Version  string
}

type handler struct {
	Dependencies
}

func NewHandler(deps Dependencies) http.Handler {
	h := &handler{Dependencies: deps}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(deps.Config.MaxRequestBodySize),
		errorHandler(),
	)

	r.GET("/health", h.healthCheck)
	r.GET("/metrics", h.metrics)

	limited := rateLimit(deps.Config.AnalyzeRateLimit, deps.Config.AnalyzeBurst)

	s := r.Group("/sessions")
	s.POST("", h.createSession)
	s.GET("/:id", h.getSession)
	s.DELETE("/:id", h.deleteSession)
	s.PUT("/:id/input-mode", h.setInputMode)
	s.PUT("/:id/pending-url", h.setPendingURL)
	s.POST("/:id/model", h.ensureModel)
	s.POST("/:id/analyze", limited, h.analyze)
	s.POST("/:id/upload", limited, h.upload)
	s.POST("/:id/reset", h.reset)

	return r
}

func (h *handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:     "available",
		Version:    h.Version,
		Time:       time.Now().UTC().Format(time.RFC3339),
		ModelID:    h.Model.ModelID(),
		ModelReady: h.Model.Ready(),
		Sessions:   h.Sessions.Len(),
	})
}

func (h *handler) metrics(c *gin.Context) {
	resp := models.MetricsResponse{
		Sessions:   h.Sessions.Len(),
		ModelLoads: h.Model.Loads(),
		ModelReady: h.Model.Ready(),
		Workers:    h.Pool.GetStats(),
	}
	if h.Metrics != nil {
		resp.Analyses = h.Metrics.GetMetrics()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) createSession(c *gin.Context) {
	ctrl := h.Sessions.Create()
	c.JSON(http.StatusCreated, toResponse(ctrl.Snapshot()))
}

func (h *handler) lookup(c *gin.Context) (*session.Controller, bool) {
	ctrl, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "unknown session", err)
		return nil, false
	}
	return ctrl, true
}

func (h *handler) getSession(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResponse(ctrl.Snapshot()))
}

func (h *handler) deleteSession(c *gin.Context) {
	if !h.Sessions.Delete(c.Param("id")) {
		respondError(c, http.StatusNotFound, "unknown session", apperrors.NewNotFoundError("session not found", nil))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) setInputMode(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	var req models.InputModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindErrorStatus(err), "invalid request format", err)
		return
	}
	mode, err := session.ParseInputMode(req.Mode)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid input mode", apperrors.NewValidationError(err.Error(), nil))
		return
	}
	if err := ctrl.SetInputMode(mode); err != nil {
		respondError(c, apperrors.GetStatusCode(err), "invalid input mode", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(ctrl.Snapshot()))
}

func (h *handler) setPendingURL(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	var req models.PendingURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindErrorStatus(err), "invalid request format", err)
		return
	}
	ctrl.SetPendingURL(req.URL)
	c.JSON(http.StatusOK, toResponse(ctrl.Snapshot()))
}

func (h *handler) ensureModel(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Config.ModelLoadTimeout)
	defer cancel()

	if err := ctrl.EnsureModelReady(ctx); err != nil {
		respondError(c, determineStatusCode(err), "model is not ready", err)
		return
	}
	c.JSON(http.StatusOK, toResponse(ctrl.Snapshot()))
}

func (h *handler) analyze(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, bindErrorStatus(err), "invalid request format", err)
		return
	}

	ref := acquire.URL(req.Image)
	if ref == "" {
		ref = acquire.URL(ctrl.Snapshot().PendingURLText)
	}
	if ref == "" {
		respondError(c, http.StatusBadRequest, "nothing to analyze",
			apperrors.NewValidationError("image reference is empty", nil))
		return
	}

	h.submit(c, ctrl, ref)
}

func (h *handler) upload(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		respondError(c, bindErrorStatus(err), "missing image file", err)
		return
	}

	ref, err := openAndEmbed(fileHeader.Filename, fileHeader.Open, h.Config.MaxImageBytes)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"session_id": ctrl.ID(),
			"file":       fileHeader.Filename,
		}).Warn("Uploaded file could not be read")
		c.JSON(http.StatusOK, toResponse(ctrl.FailInput(err)))
		return
	}

	h.submit(c, ctrl, ref)
}

func openAndEmbed(name string, open func() (multipart.File, error), maxBytes int64) (string, error) {
	f, err := open()
	if err != nil {
		return "", apperrors.NewInputReadError("failed to open upload", err)
	}
	defer f.Close()
	return acquire.FileToDataURI(name, f, maxBytes)
}

// submit queues the analysis on the worker pool. With ?wait=true the
// response carries the settled snapshot; otherwise it is 202 and the
// client polls GET /sessions/:id.
func (h *handler) submit(c *gin.Context, ctrl *session.Controller, ref string) {
	done := make(chan session.Snapshot, 1)
	queued := h.Pool.Submit(func() {
		snap, err := ctrl.Analyze(context.Background(), ref)
		if err != nil {
			logger.WithError(err).WithField("session_id", ctrl.ID()).Warn("Analysis rejected")
		}
		done <- snap
	})
	if !queued {
		respondError(c, http.StatusServiceUnavailable, "analysis queue is full",
			apperrors.NewBusyError("too many analyses in progress"))
		return
	}

	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, toResponse(ctrl.Snapshot()))
		return
	}

	timer := time.NewTimer(h.Config.RequestTimeout)
	defer timer.Stop()

	select {
	case snap := <-done:
		c.JSON(http.StatusOK, toResponse(snap))
	case <-timer.C:
		c.JSON(http.StatusAccepted, toResponse(ctrl.Snapshot()))
	case <-c.Request.Context().Done():
		// Client went away; the analysis still settles into the session
	}
}

func (h *handler) reset(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResponse(ctrl.Reset()))
}

func toResponse(snap session.Snapshot) models.SessionResponse {
	resp := models.SessionResponse{
		ID:              snap.ID,
		Phase:           string(snap.Phase),
		ActiveInputMode: string(snap.ActiveInputMode),
		PendingURLText:  snap.PendingURLText,
		CurrentImage:    snap.CurrentImage,
		StatusMessage:   snap.StatusMessage,
		IsAnalyzing:     snap.IsAnalyzing,
		ModelReady:      snap.ModelReady,
		UpdatedAt:       snap.UpdatedAt,
		Results:         make([]models.ResultItem, 0, len(snap.Results)),
	}
	for _, v := range render.Views(snap.Results) {
		resp.Results = append(resp.Results, models.ResultItem{
			Label:        v.Label,
			DisplayLabel: v.DisplayLabel,
			Score:        v.Score,
			Percentage:   v.Percentage,
		})
	}
	if snap.LastError != nil {
		resp.LastError = &models.SessionError{Title: snap.LastError.Title, Message: snap.LastError.Message}
	}
	return resp
}
