package http

import (
	"context"
	"net/http"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam describes one request. Body may be nil, an io.Reader, a []byte
// or any JSON-marshalable value. Response may be nil, a *[]byte receiving the
// raw payload, or a pointer the JSON payload is decoded into.
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	// ResponseHeader is filled with the response headers once the call returns.
	ResponseHeader http.Header
	// MaxResponseBytes bounds the payload read; zero means unbounded.
	MaxResponseBytes int64

	Timeout time.Duration
}
