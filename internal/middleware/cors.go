package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"verichat/internal/metrics"
)

// OriginMatcher decides whether a browser origin may call the API.
// Patterns are exact origins, "*", or scheme://*.suffix for any subdomain of suffix.
type OriginMatcher struct {
	exact    map[string]struct{}
	wildcard []wildcardOrigin
	any      bool
}

type wildcardOrigin struct {
	scheme string
	suffix string
}

func NewOriginMatcher(patterns []string) *OriginMatcher {
	m := &OriginMatcher{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		p := normalizeOrigin(raw)
		switch {
		case p == "":
			continue
		case p == "*":
			m.any = true
		case strings.Contains(p, "://*."):
			scheme, host, _ := strings.Cut(p, "://")
			m.wildcard = append(m.wildcard, wildcardOrigin{scheme: scheme, suffix: strings.TrimPrefix(host, "*")})
		default:
			m.exact[p] = struct{}{}
		}
	}
	return m
}

func (m *OriginMatcher) Allowed(origin string) bool {
	o := normalizeOrigin(origin)
	if o == "" {
		return false
	}
	if m.any {
		return true
	}
	if _, ok := m.exact[o]; ok {
		return true
	}
	u, err := url.Parse(o)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, w := range m.wildcard {
		if u.Scheme == w.scheme && strings.HasSuffix(host, w.suffix) && len(host) > len(w.suffix) {
			return true
		}
	}
	return false
}

func normalizeOrigin(s string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(s), "/"))
}

// CORS lets requests without an Origin through untouched and rejects origins
// outside the allow-list with 403.
func CORS(matcher *OriginMatcher, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		if !matcher.Allowed(origin) {
			m.CORSRejected(c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not allowed by CORS"})
			return
		}

		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
