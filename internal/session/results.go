package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"strings"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

// ParseResults validates raw classifier output. Anything other than an
// array of objects each carrying a string label and a score in [0,1]
// yields an empty list; rank order is preserved.
func ParseResults(raw []byte) []Result {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return []Result{}
	}

	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		var r Result
		if !decodeField(entry, "label", &r.Label) || !decodeField(entry, "score", &r.Score) {
			return []Result{}
		}
		if math.IsNaN(r.Score) || r.Score < 0 || r.Score > 1 {
			return []Result{}
		}
		results = append(results, r)
	}
	return results
}

// decodeField reports whether key is present, non-null and decodes into dst
func decodeField(entry map[string]json.RawMessage, key string, dst any) bool {
	raw, ok := entry[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// IsRemoteURL reports whether ref is an http or https URL
func IsRemoteURL(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// isFetchFailure reports whether err came from loading the image over the
// network rather than from decoding or inference.
func isFetchFailure(err error) bool {
	if apperrors.IsType(err, apperrors.ErrorTypeNetwork) || apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// DescribeFailure maps an analysis failure to the error shown to the user.
// A model that could not be loaded is never the image URL's fault, even when
// the load itself failed on the network.
func DescribeFailure(ref string, err error) ErrorInfo {
	if apperrors.IsType(err, apperrors.ErrorTypeModelLoad) {
		return ErrAnalysisFailed
	}
	if IsRemoteURL(ref) && isFetchFailure(err) {
		return ErrURLNotLoadable
	}
	return ErrAnalysisFailed
}
