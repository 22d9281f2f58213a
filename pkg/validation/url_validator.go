package validation

import (
	"net"
	"net/url"
	"slices"
	"strings"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

// URLValidator decides whether a remote image URL may be fetched
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
	blockPrivate   bool
}

// Options configures a URLValidator. Empty AllowedHosts means any host.
type Options struct {
	AllowedSchemes []string
	AllowedHosts   []string
	// BlockPrivate rejects literal loopback, private and link-local addresses
	BlockPrivate bool
}

// NewURLValidator creates a URL validator accepting any http or https host
func NewURLValidator() *URLValidator {
	return NewURLValidatorWithOptions(Options{})
}

// NewURLValidatorWithOptions creates a URL validator with custom options
func NewURLValidatorWithOptions(opts Options) *URLValidator {
	schemes := opts.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	hosts := make([]string, 0, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
		blockPrivate:   opts.BlockPrivate,
	}
}

// ValidateImageURL validates if the provided URL is acceptable for fetching
func (v *URLValidator) ValidateImageURL(imageURL string) error {
	if strings.TrimSpace(imageURL) == "" {
		return apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return apperrors.NewValidationError("Invalid URL format", err)
	}

	if !slices.Contains(v.allowedSchemes, strings.ToLower(parsedURL.Scheme)) {
		return apperrors.NewValidationError("URL scheme not allowed", nil)
	}

	host := strings.ToLower(parsedURL.Hostname())
	if host == "" {
		return apperrors.NewValidationError("URL must have a valid host", nil)
	}

	if !v.isHostAllowed(host) {
		return apperrors.NewValidationError("URL host not allowed", nil)
	}

	if v.blockPrivate && isPrivateHost(host) {
		return apperrors.NewValidationError("URL points to a private address", nil)
	}

	return nil
}

// isHostAllowed matches exact hosts and, for entries starting with a dot, subdomains
func (v *URLValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	for _, allowed := range v.allowedHosts {
		if host == allowed {
			return true
		}
		if strings.HasPrefix(allowed, ".") && strings.HasSuffix(host, allowed) {
			return true
		}
	}
	return false
}

func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
