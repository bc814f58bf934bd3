package core

import (
	"io"
	"net/http"
	"time"
)

// FetchInput is the first fetch() argument as seen by the host. Request is
// set when the guest passed a Request shim; the host-native request then
// carries the method, headers and body a guest-side copy would lose.
type FetchInput struct {
	URL     string
	Request *NativeRequest
}

// SignalState is the abort state of init.signal when fetch was called.
type SignalState struct {
	Present bool
	Aborted bool
}

// FetchInit is the dumped second fetch() argument. Headers shims and pair
// lists have already been flattened into a plain mapping. Fields the bridge
// does not interpret are kept in Extra.
type FetchInit struct {
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"-"`
	Redirect    string            `json:"redirect,omitempty"`
	Mode        string            `json:"mode,omitempty"`
	Credentials string            `json:"credentials,omitempty"`
	Cache       string            `json:"cache,omitempty"`
	Referrer    string            `json:"referrer,omitempty"`
	Integrity   string            `json:"integrity,omitempty"`
	Signal      SignalState       `json:"-"`
	Extra       map[string]any    `json:"-"`
}

// HeaderPair is one response header as delivered by a network hook.
type HeaderPair struct {
	Name  string
	Value string
}

// Reply is what a network hook resolves with. Hooks either precompute
// BodyBytes or leave it nil and hand over Body, which the bridge reads to
// the end exactly once and closes. A Reply must not be shared between calls.
// URL and Redirected are optional and describe the final hop of a
// redirected request.
type Reply struct {
	Status     int
	StatusText string
	OK         bool
	Headers    []HeaderPair
	BodyBytes  []byte
	Body       io.ReadCloser
	URL        string
	Redirected bool
}

// NativeRequest is the host-side object behind a guest Request shim.
type NativeRequest struct {
	URL         string
	Method      string
	Headers     http.Header
	Body        []byte
	Mode        string
	Credentials string
	Cache       string
	Redirect    string
	Referrer    string
	Integrity   string
}

// Clone returns a deep copy of the request.
func (r *NativeRequest) Clone() *NativeRequest {
	c := *r
	c.Headers = r.Headers.Clone()
	if c.Headers == nil {
		c.Headers = http.Header{}
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// ConsoleEntry is a single console call made by a guest script.
type ConsoleEntry struct {
	Type      string    `json:"type"`
	Args      []any     `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}

// RunResult is the outcome of one script run.
type RunResult struct {
	RunID         string
	Error         error
	Console       []ConsoleEntry
	FetchCount    int
	LeakedHandles int
	Duration      time.Duration
}
