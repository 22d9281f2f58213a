package models

// AnalyzeRequest starts an analysis. An empty Image falls back to the
// session's pending URL text.
type AnalyzeRequest struct {
	Image string `json:"image"`
}

// InputModeRequest switches between the upload and url input tabs
type InputModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// PendingURLRequest stores the URL text being edited
type PendingURLRequest struct {
	URL string `json:"url"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Time       string `json:"time"`
	ModelID    string `json:"model_id"`
	ModelReady bool   `json:"model_ready"`
	Sessions   int    `json:"sessions"`
}
