package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anime-shed/image-classifier-go/internal/acquire"
	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/pkg/validation"
)

// SourceType identifies where the bytes of an image reference live
type SourceType string

const (
	// EmbeddedSource for data: URIs produced from uploads
	EmbeddedSource SourceType = "embedded"
	// HTTPSource for http and https URLs
	HTTPSource SourceType = "http"
	// BlobSource for azblob:// references
	BlobSource SourceType = "azure"
	// UnknownSource for anything else
	UnknownSource SourceType = "unknown"
)

// Classify returns the source type of an image reference
func Classify(ref string) SourceType {
	lower := strings.ToLower(strings.TrimSpace(ref))
	switch {
	case acquire.IsDataURI(lower):
		return EmbeddedSource
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return HTTPSource
	case strings.HasPrefix(lower, BlobScheme+"://"):
		return BlobSource
	default:
		return UnknownSource
	}
}

// Resolver turns any supported image reference into raw image bytes
type Resolver struct {
	http      ImageFetcher
	blob      BlobStorage
	validator *validation.URLValidator
}

// NewResolver creates a resolver. blob may be nil when no account is
// configured; a nil validator accepts any http or https host.
func NewResolver(fetcher ImageFetcher, blob BlobStorage, validator *validation.URLValidator) *Resolver {
	if validator == nil {
		validator = validation.NewURLValidator()
	}
	return &Resolver{
		http:      fetcher,
		blob:      blob,
		validator: validator,
	}
}

// Fetch loads the bytes behind ref. Remote failures come back as network or
// timeout AppErrors; malformed references as validation errors.
func (r *Resolver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)

	switch Classify(ref) {
	case EmbeddedSource:
		_, data, err := acquire.DecodeDataURI(ref)
		if err != nil {
			return nil, err
		}
		return data, nil

	case HTTPSource:
		if err := r.validator.ValidateImageURL(ref); err != nil {
			return nil, err
		}
		data, err := r.http.FetchImage(ctx, ref)
		if err != nil {
			return nil, wrapFetchError(err)
		}
		return data, nil

	case BlobSource:
		if r.blob == nil {
			return nil, apperrors.NewValidationError("blob storage is not configured", nil)
		}
		data, err := r.blob.GetImage(ctx, ref)
		if err != nil {
			return nil, wrapFetchError(err)
		}
		return data, nil

	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported image reference %.32q", ref), nil)
	}
}

func wrapFetchError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("image fetch timeout", err)
	}
	return apperrors.NewNetworkError("failed to fetch image", err)
}
