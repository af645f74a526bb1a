// ABOUTME: HTTP middleware extracting bearer credentials and applying the gate.
// ABOUTME: Handles the loopback bypass and attaches the PermissionSet to context.

package auth

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header,
// falling back to the access_token query parameter. Returns the token and an
// error message (empty if successful).
func extractBearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, ""
		}
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// isLoopback reports whether the request's remote address is a loopback
// address. Conservative: parse failures count as non-loopback.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Authenticate resolves the caller's permission set for an HTTP request:
// loopback bypass first when enabled, then the bearer credential through the
// gate. The returned error is one of the gate's authorization errors.
func (g *Gate) Authenticate(r *http.Request) (*PermissionSet, error) {
	// A presented credential always wins over the bypass so callers can test
	// real keys from localhost.
	token, errMsg := extractBearerToken(r)
	if errMsg != "" {
		if perms, ok := g.LoopbackBypass(); ok && isLoopback(r.RemoteAddr) {
			return perms, nil
		}
		return nil, ErrInvalidKey
	}
	return g.Authorize(r.Context(), token)
}

// Middleware wraps an HTTP handler with authentication. Unauthorized
// requests receive a JSON error with a 401 status; authorized requests carry
// their PermissionSet in the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perms, err := g.Authenticate(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPermissions(r.Context(), perms)))
	})
}

// RequireAdmin wraps an HTTP handler with an admin capability check. Must be
// used after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perms := FromContext(r.Context())
		if perms == nil {
			http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
			return
		}
		if !perms.IsAdmin() {
			http.Error(w, `{"error":"admin capability required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrorMessage maps an authorization error to its wire string. The strings
// are stable: callers match on them.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrExpiredKey):
		return "Expired"
	case errors.Is(err, ErrRevokedKey):
		return "Revoked"
	default:
		return "Invalid"
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":"` + ErrorMessage(err) + `"}`))
}
