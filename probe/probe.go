// Package probe holds the runtime probers: platform-specific inspectors
// that read live SDK objects, persisted storage, configuration objects,
// tag manager event queues and DOM attributes to recover experiments that
// static text scanning cannot see.
//
// Every prober runs a fixed sequence of independent checks. A check that
// fails is logged and recorded as a failed step; the remaining checks
// still run. An absent global or method is not a failure, only an absence
// of evidence.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hazyhaar/expscope/finding"
	"github.com/hazyhaar/expscope/page"
	"github.com/hazyhaar/expscope/signature"
)

// Prober inspects one platform.
type Prober interface {
	Name() string
	Probe(ctx context.Context, env *Env)
}

// Env is what a prober works with during one scan. Acc is owned by the
// scan goroutine; probers must not hand it to other goroutines.
type Env struct {
	Page      page.Page
	Doc       *page.Document
	Acc       *finding.Accumulator
	Registry  *signature.Registry
	Logger    *slog.Logger
	InitDelay time.Duration

	// WatchWindow bounds the dynamic-injection watcher.
	WatchWindow time.Duration

	late     chan finding.DetectionRecord
	watching bool
}

// NewEnv returns an Env with its late-detection channel. Call CloseLate
// once every prober has run.
func NewEnv(p page.Page, doc *page.Document, acc *finding.Accumulator, reg *signature.Registry, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = signature.Default()
	}
	return &Env{
		Page:     p,
		Doc:      doc,
		Acc:      acc,
		Registry: reg,
		Logger:   logger,
		late:     make(chan finding.DetectionRecord, 16),
	}
}

// Late returns the channel of detections made after the synchronous scan.
// It is closed when the watcher stops, or by CloseLate when no watcher
// started.
func (e *Env) Late() <-chan finding.DetectionRecord { return e.late }

// CloseLate closes the late channel unless a watcher owns it.
func (e *Env) CloseLate() {
	if !e.watching {
		close(e.late)
	}
}

// Default returns the probers in run order.
func Default() []Prober {
	return []Prober{
		GrowthBook{},
		Split{},
		Optimizely{},
		StructuredData{},
		Convert{},
		ABTasty{},
		Statsig{},
		Watcher{},
	}
}

// Run runs probers in order.
func Run(ctx context.Context, env *Env, probers []Prober) {
	for _, p := range probers {
		if ctx.Err() != nil {
			env.Logger.Warn("probe: context done, skipping remaining probers", "next", p.Name())
			return
		}
		p.Probe(ctx, env)
	}
}

// check runs one independent check as a recorded step. Panics are
// recovered into the step's error.
func (e *Env) check(step string, fn func() error) {
	err := e.Acc.Step(step, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	})
	if err != nil {
		e.Logger.Warn("probe: check failed", "step", step, "url", e.Page.URL(), "error", err)
	}
}

func (e *Env) exists(ctx context.Context, path string) bool {
	return e.Page.Runtime().Exists(ctx, path)
}

// decode reads path into v. found is false when path is undefined.
func (e *Env) decode(ctx context.Context, path string, v any) (found bool, err error) {
	raw, ok := e.Page.Runtime().Lookup(ctx, path)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// call invokes the function at path and decodes its result into v. found
// is false when the function does not exist.
func (e *Env) call(ctx context.Context, path string, v any, args ...any) (found bool, err error) {
	raw, err := e.Page.Runtime().Call(ctx, path, args...)
	if errors.Is(err, page.ErrNotFound) || errors.Is(err, page.ErrNotFunction) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("call %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %s result: %w", path, err)
	}
	return true, nil
}

// platform records a platform detection.
func (e *Env) platform(name string, kind finding.EvidenceKind, source string, details map[string]any) bool {
	return e.Acc.AddPlatform(finding.DetectionRecord{
		Name:           name,
		EvidenceKind:   kind,
		EvidenceSource: source,
		Details:        details,
	})
}

// storageKeys returns the storage keys accepted by match.
func (e *Env) storageKeys(ctx context.Context, match func(string) bool) ([]string, error) {
	keys, err := e.Page.Storage().Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage keys: %w", err)
	}
	var out []string
	for _, k := range keys {
		if match(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// storageObject decodes the storage item key as a JSON object. ok is
// false when the value is missing or not an object.
func (e *Env) storageObject(ctx context.Context, key string) (map[string]any, bool, error) {
	v, ok, err := e.Page.Storage().Item(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil, false, fmt.Errorf("storage %s: %w", key, err)
	}
	return m, m != nil, nil
}

// sleep waits d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// truthy applies JavaScript truthiness to a JSON value.
func truthy(raw json.RawMessage) bool {
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return false
	}
	return isTruthy(v)
}

func methods(kind string) []finding.IdentificationMethod {
	return []finding.IdentificationMethod{{Type: kind}}
}

// field returns m[key] rendered as a variation, or "" when absent.
func field(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return finding.Stringify(v)
}

// firstField returns the first non-empty field among keys.
func firstField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := field(m, k); s != "" {
			return s
		}
	}
	return ""
}

// sortedKeys returns the keys of m in a stable order so that scans over
// the same input emit records in the same order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
