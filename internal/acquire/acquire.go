// Package acquire turns user input into image references: uploaded files
// become self-contained data URIs and URLs pass through unchanged.
package acquire

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

const dataURIPrefix = "data:"

// FileToDataURI reads an uploaded file and embeds it as a base64 data URI.
// Files that are empty, larger than maxBytes or not images fail with an
// input_read error.
func FileToDataURI(name string, r io.Reader, maxBytes int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", apperrors.NewInputReadError(fmt.Sprintf("failed to read %q", name), err)
	}
	if len(data) == 0 {
		return "", apperrors.NewInputReadError(fmt.Sprintf("file %q is empty", name), nil)
	}
	if int64(len(data)) > maxBytes {
		return "", apperrors.NewInputReadError(fmt.Sprintf("file %q exceeds %d bytes", name, maxBytes), nil)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", apperrors.NewInputReadError(
			fmt.Sprintf("file %q is not an image (detected %s)", name, mtype.String()), nil)
	}

	return EncodeDataURI(mtype.String(), data), nil
}

// EncodeDataURI builds a base64 data URI for the given media type.
func EncodeDataURI(mediaType string, data []byte) string {
	var b strings.Builder
	b.Grow(len(dataURIPrefix) + len(mediaType) + 8 + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(dataURIPrefix)
	b.WriteString(mediaType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// IsDataURI reports whether ref is an embedded image reference.
func IsDataURI(ref string) bool {
	return len(ref) >= len(dataURIPrefix) && strings.EqualFold(ref[:len(dataURIPrefix)], dataURIPrefix)
}

// DecodeDataURI returns the media type and payload of a data URI. Both the
// base64 and the percent-free plain forms are accepted.
func DecodeDataURI(ref string) (string, []byte, error) {
	if !IsDataURI(ref) {
		return "", nil, apperrors.NewValidationError("not a data URI", nil)
	}
	header, payload, ok := strings.Cut(ref[len(dataURIPrefix):], ",")
	if !ok {
		return "", nil, apperrors.NewValidationError("malformed data URI", nil)
	}

	params := strings.Split(header, ";")
	mediaType := params[0]
	if mediaType == "" {
		mediaType = "text/plain"
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(p, "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return mediaType, []byte(payload), nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return "", nil, apperrors.NewValidationError("invalid base64 payload in data URI", err)
		}
	}
	return mediaType, bytes.Clone(data), nil
}

// URL is the pass-through acquirer for the URL input mode.
func URL(text string) string {
	return strings.TrimSpace(text)
}
