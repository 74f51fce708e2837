package middleware

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/conneroisu/tmplbind/internal/logging"
)

type contextKey string

const nonceContextKey contextKey = "csp_nonce"

// CSPConfig holds the Content-Security-Policy directives.
type CSPConfig struct {
	DefaultSrc     []string
	ScriptSrc      []string
	StyleSrc       []string
	ImgSrc         []string
	ConnectSrc     []string
	FontSrc        []string
	ObjectSrc      []string
	FrameAncestors []string
	BaseURI        []string
}

// SecurityConfig configures the security headers middleware.
type SecurityConfig struct {
	// CSP is sent as Content-Security-Policy when set.
	CSP *CSPConfig
	// EnableNonce adds a per-request nonce to script-src and stores it in
	// the request context.
	EnableNonce         bool
	XFrameOptions       string
	XContentTypeNoSniff bool
	ReferrerPolicy      string
	Logger              logging.Logger
}

// BaseSecurityConfig sends the headers that never interfere with a served
// document.
func BaseSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		XFrameOptions:       "SAMEORIGIN",
		XContentTypeNoSniff: true,
		ReferrerPolicy:      "strict-origin-when-cross-origin",
	}
}

// DefaultSecurityConfig adds a Content-Security-Policy allowing same-origin
// content plus the websocket the live script opens. Inline scripts in the
// served document are blocked unless they carry the request nonce.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		CSP: &CSPConfig{
			DefaultSrc:     []string{"'self'"},
			ScriptSrc:      []string{"'self'"},
			StyleSrc:       []string{"'self'", "'unsafe-inline'"},
			ImgSrc:         []string{"'self'", "data:", "https:"},
			ConnectSrc:     []string{"'self'", "ws:", "wss:"},
			FontSrc:        []string{"'self'", "data:"},
			ObjectSrc:      []string{"'none'"},
			FrameAncestors: []string{"'none'"},
			BaseURI:        []string{"'self'"},
		},
		EnableNonce:         true,
		XFrameOptions:       "DENY",
		XContentTypeNoSniff: true,
		ReferrerPolicy:      "strict-origin-when-cross-origin",
	}
}

// NonceFromContext returns the CSP nonce of the request, or "" when none
// was generated.
func NonceFromContext(ctx context.Context) string {
	if nonce, ok := ctx.Value(nonceContextKey).(string); ok {
		return nonce
	}
	return ""
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// SecurityHeaders applies cfg to every response. A nil cfg uses
// DefaultSecurityConfig.
func SecurityHeaders(cfg *SecurityConfig) Middleware {
	if cfg == nil {
		cfg = DefaultSecurityConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var nonce string
			if cfg.EnableNonce {
				var err error
				nonce, err = generateNonce()
				if err != nil {
					if cfg.Logger != nil {
						cfg.Logger.Error(r.Context(), err, "Failed to generate CSP nonce")
					}
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					return
				}
				r = r.WithContext(context.WithValue(r.Context(), nonceContextKey, nonce))
			}

			h := w.Header()
			if cfg.CSP != nil {
				h.Set("Content-Security-Policy", buildCSPHeader(cfg.CSP, nonce))
			}
			if cfg.XFrameOptions != "" {
				h.Set("X-Frame-Options", cfg.XFrameOptions)
			}
			if cfg.XContentTypeNoSniff {
				h.Set("X-Content-Type-Options", "nosniff")
			}
			if cfg.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// buildCSPHeader renders the policy. With a nonce, 'unsafe-inline' and
// 'unsafe-eval' are dropped from script-src in favour of the nonce.
func buildCSPHeader(csp *CSPConfig, nonce string) string {
	var directives []string

	add := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		if nonce != "" && name == "script-src" {
			filtered := make([]string, 0, len(values)+1)
			for _, v := range values {
				if v != "'unsafe-inline'" && v != "'unsafe-eval'" {
					filtered = append(filtered, v)
				}
			}
			values = append(filtered, fmt.Sprintf("'nonce-%s'", nonce))
		}
		directives = append(directives, name+" "+strings.Join(values, " "))
	}

	add("default-src", csp.DefaultSrc)
	add("script-src", csp.ScriptSrc)
	add("style-src", csp.StyleSrc)
	add("img-src", csp.ImgSrc)
	add("connect-src", csp.ConnectSrc)
	add("font-src", csp.FontSrc)
	add("object-src", csp.ObjectSrc)
	add("frame-ancestors", csp.FrameAncestors)
	add("base-uri", csp.BaseURI)

	return strings.Join(directives, "; ")
}
