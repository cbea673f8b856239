package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/alanyoungcy/condvault/internal/crypto"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 64 << 10

// Auth returns middleware for admin endpoints. A request passes with either
// a valid HMAC signature (X-CV-Timestamp and X-CV-Signature over
// timestamp, method, path and body) or the static API key as a Bearer
// token or X-API-Key header. With neither configured the middleware is a
// no-op.
func Auth(apiKey string, signer *crypto.RequestSigner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" && signer == nil {
				next.ServeHTTP(w, r)
				return
			}

			if signer != nil && r.Header.Get(crypto.HeaderSignature) != "" {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
				if err != nil || len(body) > maxSignedBody {
					writeUnauthorized(w, "unreadable request body")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				err = signer.Verify(r.Method, r.URL.Path, body,
					r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature))
				if err != nil {
					writeUnauthorized(w, "invalid request signature")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if apiKey == "" {
				writeUnauthorized(w, "missing request signature")
				return
			}
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
