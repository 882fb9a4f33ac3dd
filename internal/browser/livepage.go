package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/expscope/page"
)

//go:embed runtime.js
var runtimeJS string

//go:embed watch.js
var watchJS string

const scriptBinding = "__expscope_script"

// LivePage is an open tab exposed as a page.Page. Runtime reads go
// through an embedded path walker that serialises values to JSON.
type LivePage struct {
	p      *rod.Page
	url    string
	router *rod.HijackRouter
	mgr    *Manager
}

var (
	_ page.Page          = (*LivePage)(nil)
	_ page.Runtime       = (*LivePage)(nil)
	_ page.Storage       = (*LivePage)(nil)
	_ page.ScriptWatcher = (*LivePage)(nil)
)

// Open opens a tab on pageURL and waits for it to load. The caller must
// Close the page.
func (m *Manager) Open(ctx context.Context, pageURL string) (*LivePage, error) {
	b, err := m.acquire()
	if err != nil {
		return nil, err
	}

	var p *rod.Page
	if *m.cfg.Stealth {
		p, err = stealth.Page(b)
	} else {
		p, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		m.release()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	lp := &LivePage{p: p, url: pageURL, mgr: m}

	if set := newBlockSet(m.cfg.ResourceBlocking); len(set) > 0 {
		lp.router = blockResources(p, set)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()
	if err := p.Context(navCtx).Navigate(pageURL); err != nil {
		lp.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	if info, err := p.Info(); err == nil && info.URL != "" {
		lp.url = info.URL
	}
	return lp, nil
}

// Close closes the tab.
func (lp *LivePage) Close() error {
	if lp.router != nil {
		if err := lp.router.Stop(); err != nil {
			lp.mgr.cfg.Logger.Debug("browser: stop hijack router", "error", err)
		}
		lp.router = nil
	}
	if lp.p == nil {
		return nil
	}
	err := lp.p.Close()
	lp.p = nil
	lp.mgr.release()
	return err
}

// URL implements page.Page. It is the URL after redirects.
func (lp *LivePage) URL() string { return lp.url }

// Text implements page.Page.
func (lp *LivePage) Text(ctx context.Context) (string, error) {
	res, err := lp.p.Context(ctx).Eval(`() => document.documentElement.innerText`)
	if err != nil {
		return "", fmt.Errorf("browser: text: %w", err)
	}
	return res.Value.Str(), nil
}

// HTML implements page.Page.
func (lp *LivePage) HTML(ctx context.Context) (string, error) {
	res, err := lp.p.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: html: %w", err)
	}
	return res.Value.Str(), nil
}

// Runtime implements page.Page.
func (lp *LivePage) Runtime() page.Runtime { return lp }

// Storage implements page.Page.
func (lp *LivePage) Storage() page.Storage { return lp }

// Watcher implements page.Page.
func (lp *LivePage) Watcher() page.ScriptWatcher { return lp }

type jsSegment struct {
	Name string            `json:"name"`
	Call bool              `json:"call"`
	Args []json.RawMessage `json:"args,omitempty"`
}

type resolved struct {
	Found       bool   `json:"found"`
	NotFunction bool   `json:"notFunction"`
	JSON        string `json:"json"`
	Error       string `json:"error"`
}

func jsSegments(path string) ([]jsSegment, error) {
	segs, err := page.ParsePath(path)
	if err != nil {
		return nil, err
	}
	out := make([]jsSegment, len(segs))
	for i, s := range segs {
		out[i] = jsSegment{Name: s.Name, Call: s.Call, Args: s.Args}
	}
	return out, nil
}

func (lp *LivePage) resolve(ctx context.Context, op, path string, args []any) (resolved, error) {
	segs, err := jsSegments(path)
	if err != nil {
		return resolved{}, err
	}
	if args == nil {
		args = []any{}
	}
	res, err := lp.p.Context(ctx).Eval(runtimeJS, op, segs, args)
	if err != nil {
		return resolved{}, fmt.Errorf("browser: %s %s: %w", op, path, err)
	}
	var r resolved
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &r); err != nil {
		return resolved{}, fmt.Errorf("browser: %s %s: decode: %w", op, path, err)
	}
	return r, nil
}

// Exists implements page.Runtime.
func (lp *LivePage) Exists(ctx context.Context, path string) bool {
	r, err := lp.resolve(ctx, "exists", path, nil)
	return err == nil && r.Found
}

// Lookup implements page.Runtime.
func (lp *LivePage) Lookup(ctx context.Context, path string) (json.RawMessage, bool) {
	r, err := lp.resolve(ctx, "lookup", path, nil)
	if err != nil || !r.Found || r.Error != "" {
		return nil, false
	}
	return json.RawMessage(r.JSON), true
}

// Call implements page.Runtime.
func (lp *LivePage) Call(ctx context.Context, path string, args ...any) (json.RawMessage, error) {
	r, err := lp.resolve(ctx, "call", path, args)
	switch {
	case err != nil:
		return nil, err
	case !r.Found:
		return nil, fmt.Errorf("%s: %w", path, page.ErrNotFound)
	case r.NotFunction:
		return nil, fmt.Errorf("%s: %w", path, page.ErrNotFunction)
	case r.Error != "":
		return nil, fmt.Errorf("browser: call %s: %s", path, r.Error)
	}
	return json.RawMessage(r.JSON), nil
}

// Keys implements page.Storage.
func (lp *LivePage) Keys(ctx context.Context) ([]string, error) {
	res, err := lp.p.Context(ctx).Eval(`() => { try { return Object.keys(localStorage); } catch (e) { return []; } }`)
	if err != nil {
		return nil, fmt.Errorf("browser: storage keys: %w", err)
	}
	var keys []string
	for _, v := range res.Value.Arr() {
		keys = append(keys, v.Str())
	}
	return keys, nil
}

// Item implements page.Storage.
func (lp *LivePage) Item(ctx context.Context, key string) (string, bool, error) {
	res, err := lp.p.Context(ctx).Eval(`(k) => { try { return localStorage.getItem(k); } catch (e) { return null; } }`, key)
	if err != nil {
		return "", false, fmt.Errorf("browser: storage item %s: %w", key, err)
	}
	if res.Value.Nil() {
		return "", false, nil
	}
	return res.Value.Str(), true, nil
}

// WatchScripts implements page.ScriptWatcher with a MutationObserver
// that reports the src of every script added to the document. The
// channel closes when ctx ends or window elapses.
func (lp *LivePage) WatchScripts(ctx context.Context, window time.Duration) (<-chan string, error) {
	if err := (proto.RuntimeAddBinding{Name: scriptBinding}).Call(lp.p); err != nil {
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, window)
	srcs := make(chan string, 16)
	wait := lp.p.Context(wctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != scriptBinding {
			return
		}
		select {
		case srcs <- e.Payload:
		case <-wctx.Done():
		}
	})

	res, err := lp.p.Context(wctx).Eval(watchJS, scriptBinding, window.Milliseconds())
	if err == nil && !res.Value.Bool() {
		err = errors.New("binding not installed")
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("browser: inject watcher: %w", err)
	}

	go func() {
		defer close(srcs)
		defer cancel()
		wait()
	}()
	return srcs, nil
}
