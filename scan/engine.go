// Package scan runs one detection pass over a page: keyword sweep,
// tag manager and analytics scanners, runtime probers, platform name
// patterns and inline-script extraction, in that order. The pass never
// fails as a unit; a failing step only leaves fewer records and a failed
// entry in the report diagnostics.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/expscope/finding"
	"github.com/hazyhaar/expscope/page"
	"github.com/hazyhaar/expscope/probe"
	"github.com/hazyhaar/expscope/signature"
)

// ErrNilPage is returned when Scan is called without a page.
var ErrNilPage = errors.New("scan: nil page")

// LateSink receives detections the watcher makes after Scan returned.
type LateSink func(url string, rec finding.DetectionRecord)

// Engine scans pages. It holds no per-scan state and is safe for
// concurrent use.
type Engine struct {
	reg         *signature.Registry
	probers     []probe.Prober
	logger      *slog.Logger
	initDelay   time.Duration
	watchWindow time.Duration
	maxInput    int
	onLate      LateSink
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry sets the signature registry.
func WithRegistry(r *signature.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.reg = r
		}
	}
}

// WithProbers replaces the runtime probers.
func WithProbers(p ...probe.Prober) Option {
	return func(e *Engine) { e.probers = p }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithInitDelay sets how long probers wait for SDKs to finish their own
// initialisation. Zero disables the wait.
func WithInitDelay(d time.Duration) Option {
	return func(e *Engine) { e.initDelay = d }
}

// WithWatchWindow bounds the dynamic-injection watcher. Zero disables it.
func WithWatchWindow(d time.Duration) Option {
	return func(e *Engine) { e.watchWindow = d }
}

// WithMaxInput caps the bytes of rendered text and HTML source scanned.
func WithMaxInput(n int) Option {
	return func(e *Engine) { e.maxInput = n }
}

// WithLateSink sets where Scan delivers late detections. Without a sink
// they are only logged.
func WithLateSink(fn LateSink) Option {
	return func(e *Engine) { e.onLate = fn }
}

// WithClock sets the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine with the default registry and probers.
func New(opts ...Option) *Engine {
	e := &Engine{
		reg:         signature.Default(),
		probers:     probe.Default(),
		logger:      slog.Default(),
		initDelay:   time.Second,
		watchWindow: 5 * time.Second,
		maxInput:    8 << 20,
		now:         time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Scan runs the synchronous detection pass and returns the report. The
// dynamic-injection watcher keeps running after Scan returns; its
// detections go to the late sink.
func (e *Engine) Scan(ctx context.Context, p page.Page) (*finding.ScanReport, error) {
	r, late, err := e.scan(ctx, p)
	if err != nil {
		return nil, err
	}
	known := platformSet(r)
	go func() {
		for rec := range late {
			if !known.add(rec.Name) {
				continue
			}
			if e.onLate == nil {
				e.logger.Info("scan: late detection", "url", r.URL, "platform", rec.Name, "source", rec.EvidenceSource)
				continue
			}
			e.onLate(r.URL, rec)
		}
	}()
	return r, nil
}

// ScanAndWait runs Scan and then waits for the watcher window, folding
// its detections into the report's LateDetections.
func (e *Engine) ScanAndWait(ctx context.Context, p page.Page) (*finding.ScanReport, error) {
	r, late, err := e.scan(ctx, p)
	if err != nil {
		return nil, err
	}
	known := platformSet(r)
	for rec := range late {
		if known.add(rec.Name) {
			r.LateDetections = append(r.LateDetections, rec)
		}
	}
	return r, nil
}

func (e *Engine) scan(ctx context.Context, p page.Page) (*finding.ScanReport, <-chan finding.DetectionRecord, error) {
	if p == nil {
		return nil, nil, ErrNilPage
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan: %s: %w", p.URL(), err)
	}
	start := time.Now()
	acc := finding.NewAccumulator()
	log := e.logger.With("url", p.URL())

	var text, src string
	e.step(acc, log, "page/text", func() (err error) {
		text, err = p.Text(ctx)
		text = clip(text, e.maxInput)
		return err
	})
	e.step(acc, log, "page/html", func() (err error) {
		src, err = p.HTML(ctx)
		src = clip(src, e.maxInput)
		return err
	})
	doc, err := page.ParseDocument(src)
	if err != nil {
		log.Warn("scan: parse document", "error", err)
		doc = &page.Document{}
	}

	keywords := false
	e.step(acc, log, "keywords", func() error {
		keywords = hasKeyword(e.reg.Keywords(), text, src)
		return nil
	})

	e.step(acc, log, "tag-managers", func() error {
		for _, t := range e.reg.TagManagers() {
			if rec, ok := scanTool(t, src); ok {
				acc.AddTagManager(rec)
			}
		}
		return nil
	})
	e.step(acc, log, "analytics", func() error {
		for _, t := range e.reg.Analytics() {
			if rec, ok := scanTool(t, src); ok {
				acc.AddAnalytics(rec)
			}
		}
		return nil
	})

	env := probe.NewEnv(p, doc, acc, e.reg, log)
	env.InitDelay = e.initDelay
	env.WatchWindow = e.watchWindow
	probe.Run(ctx, env, e.probers)
	env.CloseLate()

	e.step(acc, log, "platforms", func() error {
		for _, pl := range e.reg.Platforms() {
			if rec, ok := scanPlatform(pl, text, src); ok {
				acc.AddPlatform(rec)
			}
		}
		return nil
	})

	e.step(acc, log, "identification", func() error {
		acc.AnnotatePlatforms(func(name string) []finding.IdentificationMethod {
			return e.reg.Identify(name, src)
		})
		return nil
	})

	e.step(acc, log, "inline", func() error {
		x := &extraction{reg: e.reg, acc: acc}
		var errs []error
		for i, s := range doc.Scripts() {
			if !s.Inline() {
				continue
			}
			if err := x.script(s.Body); err != nil {
				errs = append(errs, fmt.Errorf("script %d: %w", i, err))
			}
		}
		return errors.Join(errs...)
	})

	r := acc.Report(p.URL(), e.now(), keywords)
	log.Info("scan: completed",
		"platforms", len(r.Platforms),
		"tag_managers", len(r.TagManagers),
		"analytics", len(r.AnalyticsTools),
		"experiments", len(r.Experiments),
		"failed_steps", len(r.Failed()),
		"duration", time.Since(start))
	return r, env.Late(), nil
}

// step runs fn as a recorded step, recovering panics into its error.
func (e *Engine) step(acc *finding.Accumulator, log *slog.Logger, name string, fn func() error) {
	err := acc.Step(name, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	})
	if err != nil {
		log.Warn("scan: step failed", "step", name, "error", err)
	}
}

func hasKeyword(keywords []string, text, src string) bool {
	lt, ls := strings.ToLower(text), strings.ToLower(src)
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if strings.Contains(lt, kw) || strings.Contains(ls, kw) {
			return true
		}
	}
	return false
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

type nameSet map[string]struct{}

func platformSet(r *finding.ScanReport) nameSet {
	s := make(nameSet, len(r.Platforms))
	for _, p := range r.Platforms {
		s[p.Name] = struct{}{}
	}
	return s
}

// add reports whether name was new.
func (s nameSet) add(name string) bool {
	if _, ok := s[name]; ok {
		return false
	}
	s[name] = struct{}{}
	return true
}
