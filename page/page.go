// Package page is the engine's view of a web page: rendered text, HTML
// source, the global runtime namespace, persisted key-value storage and,
// optionally, a feed of scripts injected after load.
//
// Two implementations exist. Snapshot is an in-memory, frozen page used
// for HTTP-fetched documents, captured snapshots and tests. The browser
// package provides a live page backed by a Chrome tab.
package page

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by Runtime implementations.
var (
	ErrNotFound    = errors.New("page: not found")
	ErrNotFunction = errors.New("page: not a function")
)

// Page is read-only input to a scan.
type Page interface {
	URL() string
	Text(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Runtime() Runtime
	Storage() Storage
	// Watcher returns nil when the page cannot report late scripts.
	Watcher() ScriptWatcher
}

// Runtime exposes the page's global namespace. Paths are dotted member
// chains rooted at the global object; a segment may be a call with JSON
// arguments, as in `optimizely.get("state").getExperimentStates()`.
// Values cross the boundary as JSON.
type Runtime interface {
	// Exists reports whether path resolves to a defined value.
	Exists(ctx context.Context, path string) bool
	// Lookup returns the JSON encoding of the value at path.
	Lookup(ctx context.Context, path string) (json.RawMessage, bool)
	// Call invokes the function at path with args, bound to its parent
	// object, and returns the JSON encoding of the result.
	Call(ctx context.Context, path string, args ...any) (json.RawMessage, error)
}

// Storage is the page origin's persisted key-value storage.
type Storage interface {
	Keys(ctx context.Context) ([]string, error)
	Item(ctx context.Context, key string) (string, bool, error)
}

// ScriptWatcher reports the src of every script element added to the
// document during window. The channel is closed when the window elapses
// or ctx is done.
type ScriptWatcher interface {
	WatchScripts(ctx context.Context, window time.Duration) (<-chan string, error)
}

// Decode looks up path and unmarshals it into v.
func Decode(ctx context.Context, rt Runtime, path string, v any) error {
	raw, ok := rt.Lookup(ctx, path)
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

// CallDecode calls the function at path and unmarshals the result into v.
func CallDecode(ctx context.Context, rt Runtime, path string, v any, args ...any) error {
	raw, err := rt.Call(ctx, path, args...)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
