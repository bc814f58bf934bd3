// Package consolelog provides ConsoleSink implementations for
// scriptcage: a WebSocket sink that streams entries to a live viewer and a
// SQLite store that keeps them per run.
package consolelog
