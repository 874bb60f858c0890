// Package testutils holds shared helpers for tests that talk HTTP.
package testutils

import (
	"bytes"
	"io"
	"net/http"
)

// MockTransport implements RoundTripper
type MockTransport struct {
	// RT is the RoundTrip function. Replace this function with your test function.
	// For example:
	//   t := MockTransport{}
	//   t.RT = func(req *http.Request) (*http.Response, error) {
	//       // assert req args, return res or error
	//   }
	RT func(*http.Request) (*http.Response, error)
}

// RoundTrip is a RoundTripper
func (t MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.RT(req)
}

// NewRoundTripper returns a new RoundTripper which will call the provided function.
func NewRoundTripper(roundTrip func(*http.Request) (*http.Response, error)) http.RoundTripper {
	rt := MockTransport{}
	rt.RT = roundTrip
	return rt
}

// Response builds an *http.Response with the given status code, body and
// headers, ready to return from a MockTransport.
func Response(statusCode int, body string, headers map[string]string) *http.Response {
	res := &http.Response{
		StatusCode: statusCode,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
	for k, v := range headers {
		res.Header.Set(k, v)
	}
	return res
}

// JSONResponse builds a response carrying a JSON body.
func JSONResponse(statusCode int, body string) *http.Response {
	return Response(statusCode, body, map[string]string{"Content-Type": "application/json"})
}
