package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/cors"
)

// OriginPolicy decides which browser origins may call the API and receive 3-D Secure redirects.
type OriginPolicy struct {
	allowed map[string]struct{}
}

// NewOriginPolicy builds a policy from the configured origins and the application base URL.
func NewOriginPolicy(configured []string, appBaseURL string) OriginPolicy {
	policy := OriginPolicy{allowed: map[string]struct{}{}}
	for _, origin := range append(configured, appBaseURL) {
		if normalized := normalizeOrigin(origin); normalized != "" {
			policy.allowed[normalized] = struct{}{}
		}
	}
	return policy
}

// Allowed reports whether origin is listed or is a local development origin.
func (p OriginPolicy) Allowed(origin string) bool {
	normalized := normalizeOrigin(origin)
	if normalized == "" {
		return false
	}
	if _, ok := p.allowed[normalized]; ok {
		return true
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

func normalizeOrigin(origin string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}

// CORS returns middleware that applies the origin policy.
func CORS(policy OriginPolicy) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return policy.Allowed(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-Maintenance-Secret", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
