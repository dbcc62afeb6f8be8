package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/loomery/loom/common/crypto"
	"github.com/loomery/loom/common/logger"
)

const (
	// HeaderTimestamp carries the RFC3339 time the worker signed the request
	HeaderTimestamp = "X-Loom-Timestamp"
	// HeaderSignature carries the hex HMAC-SHA256 over timestamp + "." + body
	HeaderSignature = "X-Loom-Signature"

	defaultTTL = 5 * time.Minute
)

// VerifyCallback authenticates worker callbacks with a shared-secret HMAC.
// Requests with a missing or invalid signature, or a timestamp outside the
// TTL window, are rejected with 401 before the handler runs.
func VerifyCallback(secret string, ttl time.Duration, log *logger.Logger) echo.MiddlewareFunc {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	key := []byte(secret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			timestamp := req.Header.Get(HeaderTimestamp)
			signature := req.Header.Get(HeaderSignature)
			if timestamp == "" || signature == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "missing signature headers"})
			}

			signedAt, err := time.Parse(time.RFC3339, timestamp)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "invalid timestamp"})
			}
			if drift := time.Since(signedAt); drift > ttl || drift < -ttl {
				if log != nil {
					log.Warn("callback timestamp outside window", "drift", drift.String())
				}
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "timestamp outside allowed window"})
			}

			body, err := io.ReadAll(req.Body)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "failed to read request body"})
			}
			req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(body))

			if !crypto.VerifyCallback(key, timestamp, body, signature) {
				if log != nil {
					log.Warn("callback signature mismatch", "path", req.URL.Path)
				}
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "invalid signature"})
			}

			return next(c)
		}
	}
}
