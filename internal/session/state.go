// Package session implements the per-user analysis state machine: choosing
// an input, waiting for the shared model, analyzing one image at a time and
// reporting results or a user-facing error.
package session

import (
	"fmt"
	"strings"
	"time"
)

// InputMode is the input tab the user has selected
type InputMode string

const (
	UploadMode InputMode = "upload"
	URLMode    InputMode = "url"
)

// ParseInputMode accepts "upload" or "url", case-insensitively
func ParseInputMode(s string) (InputMode, error) {
	switch InputMode(strings.ToLower(strings.TrimSpace(s))) {
	case UploadMode:
		return UploadMode, nil
	case URLMode:
		return URLMode, nil
	default:
		return "", fmt.Errorf("unknown input mode %q", s)
	}
}

// Phase is derived from the state fields; it is never stored
type Phase string

const (
	Idle         Phase = "idle"
	ModelLoading Phase = "model_loading"
	Analyzing    Phase = "analyzing"
	Succeeded    Phase = "succeeded"
	Failed       Phase = "failed"
)

// Status messages shown while work is in progress
const (
	StatusInitializingModel = "Initializing model (this may take a moment)..."
	StatusAnalyzing         = "Analyzing image..."
)

// ErrorInfo is the user-facing error shape
type ErrorInfo struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

var (
	// ErrURLNotLoadable is shown when a remote image could not be fetched
	ErrURLNotLoadable = ErrorInfo{
		Title:   "Could Not Load Image URL",
		Message: "For security reasons, direct links from many sites are blocked. Please download the image and use 'Upload from Device'.",
	}
	// ErrAnalysisFailed is shown for every other failure
	ErrAnalysisFailed = ErrorInfo{
		Title:   "Analysis Failed",
		Message: "An unexpected error occurred. Try a different image.",
	}
)

// Result is one ranked label with its confidence in [0,1]
type Result struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Snapshot is a consistent copy of a session's state. CurrentImage is set
// once an analysis has started and stays unset in Idle. The one exception is
// a Failed session whose input could not be read (FailInput): there is no
// image to show, so CurrentImage is nil while LastError is set.
type Snapshot struct {
	ID              string     `json:"id"`
	ActiveInputMode InputMode  `json:"active_input_mode"`
	PendingURLText  string     `json:"pending_url_text"`
	CurrentImage    *string    `json:"current_image"`
	Results         []Result   `json:"results"`
	StatusMessage   string     `json:"status_message"`
	LastError       *ErrorInfo `json:"last_error"`
	IsAnalyzing     bool       `json:"is_analyzing"`
	Phase           Phase      `json:"phase"`
	ModelReady      bool       `json:"model_ready"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type state struct {
	inputMode     InputMode
	pendingURL    string
	currentImage  *string
	results       []Result
	statusMessage string
	lastError     *ErrorInfo
	isAnalyzing   bool
}

func initialState() state {
	return state{inputMode: UploadMode, results: []Result{}}
}

func (s *state) phase() Phase {
	switch {
	case s.isAnalyzing && s.statusMessage == StatusInitializingModel:
		return ModelLoading
	case s.isAnalyzing:
		return Analyzing
	case s.lastError != nil:
		return Failed
	case s.currentImage == nil:
		return Idle
	default:
		return Succeeded
	}
}
