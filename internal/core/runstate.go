package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
)

// MaxConsoleEntries is the default cap on console entries kept per run.
const MaxConsoleEntries = 1000

// MaxConsoleArgSize caps a single string console argument.
const MaxConsoleArgSize = 4096

// RunState holds the per-run mutable state shared by the installers: console
// entries, the fetch counter, and the host-native objects behind Headers and
// Request shims. Each guest owns exactly one RunState for its lifetime.
type RunState struct {
	mu sync.Mutex

	Console    []ConsoleEntry
	MaxConsole int

	FetchCount int
	MaxFetches int

	headers   map[int]http.Header
	nextHdrID int
	requests  map[int]*NativeRequest
	nextReqID int
	cancels   map[string]context.CancelFunc
	nextFetch int64
	cleanups  []func()
	closed    bool
}

// NewRunState creates the state for one run from its limits.
func NewRunState(cfg Config) *RunState {
	cfg = cfg.WithDefaults()
	return &RunState{
		MaxConsole: cfg.MaxConsoleEntries,
		MaxFetches: cfg.MaxFetchRequests,
		headers:    make(map[int]http.Header),
		requests:   make(map[int]*NativeRequest),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// AddConsole records a console entry. It reports false once the cap is hit.
func (rs *RunState) AddConsole(e ConsoleEntry) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.Console) >= rs.MaxConsole {
		return false
	}
	for i, a := range e.Args {
		if s, ok := a.(string); ok && len(s) > MaxConsoleArgSize {
			e.Args[i] = s[:MaxConsoleArgSize] + "...(truncated)"
		}
	}
	rs.Console = append(rs.Console, e)
	return true
}

// ConsoleEntries returns a copy of the recorded entries.
func (rs *RunState) ConsoleEntries() []ConsoleEntry {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]ConsoleEntry(nil), rs.Console...)
}

// CountFetch reserves one fetch slot.
func (rs *RunState) CountFetch() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.FetchCount >= rs.MaxFetches {
		return fmt.Errorf("exceeded maximum fetch requests (%d)", rs.MaxFetches)
	}
	rs.FetchCount++
	return nil
}

// Fetches returns the number of fetch calls made so far.
func (rs *RunState) Fetches() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.FetchCount
}

// NewHeaders stores a host-native header set and returns its id.
func (rs *RunState) NewHeaders(h http.Header) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if h == nil {
		h = http.Header{}
	}
	rs.nextHdrID++
	rs.headers[rs.nextHdrID] = h
	return rs.nextHdrID
}

// Headers returns the header set stored under id, or nil.
func (rs *RunState) Headers(id int) http.Header {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.headers[id]
}

// NewRequest stores a host-native request and returns its id.
func (rs *RunState) NewRequest(r *NativeRequest) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.nextReqID++
	rs.requests[rs.nextReqID] = r
	return rs.nextReqID
}

// Request returns the request stored under id, or nil.
func (rs *RunState) Request(id int) *NativeRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests[id]
}

// RegisterFetchCancel stores the cancel function of an in-flight fetch and
// returns the fetch id used on both sides of the boundary.
func (rs *RunState) RegisterFetchCancel(cancel context.CancelFunc) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.nextFetch++
	id := strconv.FormatInt(rs.nextFetch, 10)
	rs.cancels[id] = cancel
	return id
}

// RemoveFetchCancel forgets a fetch and returns its cancel function.
func (rs *RunState) RemoveFetchCancel(id string) context.CancelFunc {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	cancel := rs.cancels[id]
	delete(rs.cancels, id)
	return cancel
}

// CallFetchCancel cancels the fetch with the given id, if it is still known.
func (rs *RunState) CallFetchCancel(id string) {
	if cancel := rs.RemoveFetchCancel(id); cancel != nil {
		cancel()
	}
}

// RegisterCleanup adds a function run by Close, in reverse order.
func (rs *RunState) RegisterCleanup(fn func()) {
	rs.mu.Lock()
	rs.cleanups = append(rs.cleanups, fn)
	rs.mu.Unlock()
}

// Close cancels in-flight fetches and runs the registered cleanups. It is
// safe to call more than once.
func (rs *RunState) Close() {
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return
	}
	rs.closed = true
	cleanups := rs.cleanups
	cancels := rs.cancels
	rs.cleanups = nil
	rs.cancels = map[string]context.CancelFunc{}
	rs.headers = map[int]http.Header{}
	rs.requests = map[int]*NativeRequest{}
	rs.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// BoolToInt converts a bool to 1 or 0 for guest interop, since not every
// engine marshals Go bool results.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// JsEscape quotes s as a guest string literal. JSON string syntax is a
// subset of JavaScript string syntax, unlike Go's %q.
func JsEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
