package services

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// recordedRequest is a copy of an outgoing request taken before the pipeline discards it
type recordedRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// fakeTransport implements policy.Transporter for both Azure pipelines
type fakeTransport struct {
	mu       sync.Mutex
	requests []recordedRequest
	doFunc   func(req *http.Request, body []byte) (*http.Response, error)
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: req.Method,
		URL:    req.URL,
		Header: req.Header.Clone(),
		Body:   body,
	})
	f.mu.Unlock()

	return f.doFunc(req, body)
}

func (f *fakeTransport) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newResponse(req *http.Request, status int, body string, headers map[string]string) *http.Response {
	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}
	if body != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	var rc io.ReadCloser = http.NoBody
	if body != "" {
		rc = io.NopCloser(bytes.NewReader([]byte(body)))
	}

	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Header:        header,
		Body:          rc,
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func jsonContains(body []byte, s string) bool {
	return strings.Contains(string(body), s)
}
