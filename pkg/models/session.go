package models

import "time"

// ResultItem is one ranked label as shown to the user
type ResultItem struct {
	Label        string  `json:"label"`
	DisplayLabel string  `json:"display_label"`
	Score        float64 `json:"score"`
	Percentage   string  `json:"percentage"`
}

// SessionError is the user-facing error of a failed analysis
type SessionError struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// SessionResponse is the wire form of a session snapshot
type SessionResponse struct {
	ID              string        `json:"id"`
	Phase           string        `json:"phase"`
	ActiveInputMode string        `json:"active_input_mode"`
	PendingURLText  string        `json:"pending_url_text"`
	CurrentImage    *string       `json:"current_image"`
	Results         []ResultItem  `json:"results"`
	StatusMessage   string        `json:"status_message"`
	LastError       *SessionError `json:"last_error"`
	IsAnalyzing     bool          `json:"is_analyzing"`
	ModelReady      bool          `json:"model_ready"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// MetricsResponse is returned by GET /metrics
type MetricsResponse struct {
	Analyses   map[string]interface{} `json:"analyses"`
	Workers    interface{}            `json:"workers"`
	Sessions   int                    `json:"sessions"`
	ModelLoads int64                  `json:"model_loads"`
	ModelReady bool                   `json:"model_ready"`
}
