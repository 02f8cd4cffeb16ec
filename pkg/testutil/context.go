package testutil

import (
	"context"
	"net/http"

	metadata "contactlink/pkg/platform/middleware/metadata"
	"contactlink/pkg/platform/middleware/request"
)

// WithClientIP sets the client IP the way the metadata middleware would,
// for handlers tested without the full middleware chain.
func WithClientIP(req *http.Request, ip string) *http.Request {
	return req.WithContext(metadata.WithClientIP(req.Context(), ip))
}

// WithRequestID sets the request id the way the request id middleware would.
func WithRequestID(req *http.Request, id string) *http.Request {
	return req.WithContext(request.WithRequestID(req.Context(), id))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
