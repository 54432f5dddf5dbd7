package dbclient

import (
	"net/url"
	"strings"

	"github.com/jrsteele09/go-org-router/internal/errors"
)

const defaultScheme = "https"

// NormalizeEndpoint adds a scheme to bare hosts (https), lower-cases scheme and
// host and drops trailing slashes, so equivalent endpoints share one cache key.
func NormalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.Wrapf(errors.ErrInvalidEndpoint, "empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		raw = defaultScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Mark(err, errors.ErrInvalidEndpoint)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Wrapf(errors.ErrInvalidEndpoint, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" || u.User != nil {
		return "", errors.Wrapf(errors.ErrInvalidEndpoint, "endpoint %q", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", errors.Wrapf(errors.ErrInvalidEndpoint, "endpoint %q has a query or fragment", raw)
	}

	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// ValidatePublicKey rejects keys that cannot be sent as a header value.
func ValidatePublicKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.Wrapf(errors.ErrInvalidPublicKey, "empty public key")
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return errors.Wrapf(errors.ErrInvalidPublicKey, "public key contains whitespace")
	}
	return nil
}
