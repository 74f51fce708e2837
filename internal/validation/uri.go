// Package validation checks template URIs before they are fetched.
package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// ValidateURL checks an http or https template URL. Credentials in the
// URL are rejected so they never reach logs or scan reports.
func ValidateURL(rawURL string) error {
	if err := checkChars(rawURL); err != nil {
		return err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	if parsed.User != nil {
		return fmt.Errorf("URL must not carry credentials")
	}

	return nil
}

// ValidatePath checks a file template path, with or without a file://
// scheme. Paths must not climb out of their root.
func ValidatePath(p string) error {
	p = strings.TrimPrefix(p, "file://")
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if err := checkChars(p); err != nil {
		return err
	}

	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal detected: %s", p)
		}
	}

	return nil
}

// ValidateURI dispatches on the scheme the way the fetchers do.
func ValidateURI(uri string) error {
	lower := strings.ToLower(uri)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ValidateURL(uri)
	}
	if i := strings.Index(lower, "://"); i > 0 && !strings.HasPrefix(lower, "file://") {
		return fmt.Errorf("unsupported URI scheme: %s", uri[:i])
	}
	return ValidatePath(uri)
}

func checkChars(s string) error {
	for _, r := range s {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("contains control character %q", r)
		}
		if unicode.IsSpace(r) {
			return fmt.Errorf("contains whitespace")
		}
	}
	return nil
}
