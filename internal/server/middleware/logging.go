// Package middleware provides HTTP middleware for the server.
package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "FuseLane/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThreshold marks requests worth a warning.
const slowRequestThreshold = 5 * time.Second

// Logging returns a middleware that logs each HTTP request with its
// method, path, status, and duration. It generates a request ID when the
// client does not send one and injects it into the context so handler
// logs can correlate.
func Logging(logger log.Logger) middleware.Middleware {
	helper := log.NewHelper(logger)

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				requestID string
				tenantID  string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}

					ip = extractClientIP(httpReq)
					tenantID = httpReq.Header.Get("X-Tenant-ID")

					requestID = httpReq.Header.Get("X-Request-ID")
					if requestID == "" {
						requestID = pkglog.GenerateRequestID()
					}
				}
			}

			ctx = pkglog.WithRequestContext(ctx, requestID, tenantID)

			reply, err := handler(ctx, req)

			duration := time.Since(startTime)
			status := extractHTTPStatus(err)

			fields := []interface{}{
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"request_id", requestID,
				"ip", ip,
			}
			if tenantID != "" {
				fields = append(fields, "tenant_id", tenantID)
			}

			switch {
			case err != nil && status >= 500:
				helper.Errorw(append([]interface{}{"msg", "request failed"}, fields...)...)
			case duration > slowRequestThreshold:
				helper.Warnw(append([]interface{}{"msg", "slow request"}, fields...)...)
			default:
				helper.Infow(append([]interface{}{"msg", "request completed"}, fields...)...)
			}

			return reply, err
		}
	}
}

// extractClientIP resolves the client address.
// Priority: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractHTTPStatus maps an error to its HTTP status code.
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(kerrors.FromError(err).Code)
}
