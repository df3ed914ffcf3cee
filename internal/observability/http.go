package observability

import (
	"net"
	"net/http"
	"strings"
)

// RequestIDHeader is read from clients and echoed on responses.
const RequestIDHeader = "X-Request-Id"

func RequestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(RequestIDHeader))
}

func UserAgentFromRequest(r *http.Request) string {
	return r.Header.Get("User-Agent")
}

// IPFromRequest prefers the first X-Forwarded-For hop over the socket peer.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
