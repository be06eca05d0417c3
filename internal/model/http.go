package model

import (
	"net/http"
	"time"
)

// Request is the backend-agnostic HTTP request passed to a WebClient.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is what a WebClient returns regardless of backend.
type Response struct {
	Request    *Request
	Headers    http.Header
	Body       []byte
	StatusCode int
	FetchedAt  time.Time
}
