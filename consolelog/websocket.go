package consolelog

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cryguy/scriptcage"
)

// writeTimeout bounds a single frame write so a stalled viewer cannot hold
// up the guest.
const writeTimeout = 5 * time.Second

// Frame is the JSON message sent for each console entry.
type Frame struct {
	RunID string `json:"run_id,omitempty"`
	scriptcage.ConsoleEntry
}

// WebSocketSink writes each console entry as one JSON text frame. After
// the first failed write it drops further entries; Err reports the failure.
type WebSocketSink struct {
	ctx   context.Context
	conn  *websocket.Conn
	runID string

	mu  sync.Mutex
	err error
}

var _ scriptcage.ConsoleSink = (*WebSocketSink)(nil)

// NewWebSocketSink streams to conn until ctx is done.
func NewWebSocketSink(ctx context.Context, conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{ctx: ctx, conn: conn}
}

// ForRun returns a sink on the same connection that tags frames with runID.
func (s *WebSocketSink) ForRun(runID string) *WebSocketSink {
	return &WebSocketSink{ctx: s.ctx, conn: s.conn, runID: runID}
}

// OnConsoleEntry implements scriptcage.ConsoleSink.
func (s *WebSocketSink) OnConsoleEntry(entry scriptcage.ConsoleEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	s.err = wsjson.Write(ctx, s.conn, Frame{RunID: s.runID, ConsoleEntry: entry})
}

// Err returns the write error that stopped the sink, if any.
func (s *WebSocketSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
