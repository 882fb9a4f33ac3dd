// Package auditor is the expscope service: it acquires pages over HTTP or
// through Chrome, runs the scan engine on them, archives the reports and
// exposes all of it over an HTTP API and MCP tools.
//
// Usage:
//
//	a, err := auditor.New(cfg, auditor.WithLogger(logger))
//	defer a.Close()
//	a.RegisterHTTP(router)
//	a.RegisterMCP(mcpServer)
package auditor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/expscope/archive"
	"github.com/hazyhaar/expscope/finding"
	"github.com/hazyhaar/expscope/internal/browser"
	"github.com/hazyhaar/expscope/internal/config"
	"github.com/hazyhaar/expscope/internal/fetcher"
	"github.com/hazyhaar/expscope/internal/kit"
	"github.com/hazyhaar/expscope/internal/safeurl"
	"github.com/hazyhaar/expscope/page"
	"github.com/hazyhaar/expscope/scan"
	"github.com/hazyhaar/expscope/signature"
)

// Scan modes recorded with archived reports, beyond config.ModeHTTP and
// config.ModeBrowser.
const (
	ModeHTML     = "html"
	ModeSnapshot = "snapshot"
)

var (
	// ErrNoArchive is returned by history queries when archiving is off.
	ErrNoArchive = errors.New("auditor: archive disabled")
	// ErrBadRequest wraps invalid caller input.
	ErrBadRequest = errors.New("auditor: bad request")
)

// BrowserPage is an open tab.
type BrowserPage interface {
	page.Page
	Close() error
}

// Browser opens tabs. *browser.Manager is adapted to it by New.
type Browser interface {
	Open(ctx context.Context, pageURL string) (BrowserPage, error)
	Ping(ctx context.Context) error
	Close() error
}

type chrome struct{ m *browser.Manager }

func (c chrome) Open(ctx context.Context, pageURL string) (BrowserPage, error) {
	lp, err := c.m.Open(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return lp, nil
}

func (c chrome) Ping(ctx context.Context) error { return c.m.Ping(ctx) }
func (c chrome) Close() error { return c.m.Close() }

// Result is the outcome of one scan request.
type Result struct {
	ID         string              `json:"id,omitempty"`
	Mode       string              `json:"mode"`
	Escalated  bool                `json:"escalated,omitempty"`
	Assessment *fetcher.Assessment `json:"assessment,omitempty"`
	Report     *finding.ScanReport `json:"report"`
}

// Auditor wires acquisition, the engine and the archive.
type Auditor struct {
	cfg     *config.Config
	logger  *slog.Logger
	reg     *signature.Registry
	fetch   *fetcher.Fetcher
	browser Browser
	archive *archive.Archive
	live    *scan.Engine
	static  *scan.Engine
	clock   func() time.Time
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f *fetcher.Fetcher) Option {
	return func(a *Auditor) { a.fetch = f }
}

// WithBrowser replaces the Chrome manager.
func WithBrowser(b Browser) Option {
	return func(a *Auditor) { a.browser = b }
}

// WithArchive sets the report archive instead of opening cfg.Archive.Path.
func WithArchive(ar *archive.Archive) Option {
	return func(a *Auditor) { a.archive = ar }
}

// WithClock sets the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.clock = now }
}

// New creates an Auditor. Extra signatures and the archive are loaded
// from cfg; Chrome is only started by the first browser scan.
func New(cfg *config.Config, opts ...Option) (*Auditor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &Auditor{cfg: cfg, logger: slog.Default(), clock: time.Now}
	for _, o := range opts {
		o(a)
	}

	a.reg = signature.Default()
	if cfg.Signatures.Extra != "" {
		extra, err := signature.LoadFile(cfg.Signatures.Extra)
		if err != nil {
			return nil, fmt.Errorf("auditor: %w", err)
		}
		a.reg = a.reg.With(extra)
	}

	if a.fetch == nil {
		fopts := []fetcher.Option{fetcher.WithLogger(a.logger)}
		if !cfg.Scan.AllowPrivate {
			fopts = append(fopts, fetcher.WithClient(&http.Client{
				Timeout:       30 * time.Second,
				CheckRedirect: safeurl.CheckRedirect,
			}))
		}
		if cfg.Scan.UserAgent != "" {
			fopts = append(fopts, fetcher.WithUserAgent(cfg.Scan.UserAgent))
		}
		a.fetch = fetcher.New(fopts...)
	}
	if a.browser == nil {
		a.browser = chrome{browser.NewManager(browser.Config{
			RemoteURL:         cfg.Browser.Remote,
			Stealth:           cfg.Browser.Stealth,
			ResourceBlocking:  cfg.Browser.ResourceBlocking,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			RecycleInterval:   cfg.Browser.RecycleInterval,
			Logger:            a.logger,
		})}
	}
	if a.archive == nil && cfg.Archive.Path != "" {
		ar, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("auditor: %w", err)
		}
		a.archive = ar
	}

	common := []scan.Option{
		scan.WithRegistry(a.reg),
		scan.WithLogger(a.logger),
		scan.WithMaxInput(cfg.Scan.MaxInput),
		scan.WithWatchWindow(cfg.Scan.WatchWindow),
		scan.WithClock(a.clock),
	}
	a.live = scan.New(append(common,
		scan.WithInitDelay(cfg.Scan.InitDelay),
		scan.WithLateSink(a.late))...)
	// Nothing initialises on a static page.
	a.static = scan.New(append(common, scan.WithInitDelay(0))...)
	return a, nil
}

// Close stops Chrome and closes the archive.
func (a *Auditor) Close() error {
	var errs []error
	if a.browser != nil {
		errs = append(errs, a.browser.Close())
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	return errors.Join(errs...)
}

func (a *Auditor) late(pageURL string, rec finding.DetectionRecord) {
	a.logger.Info("auditor: late detection",
		"url", pageURL, "platform", rec.Name, "source", rec.EvidenceSource)
}

// ScanURL scans pageURL. Private and loopback targets are refused unless
// the configuration allows them. Mode is http, browser or auto (empty
// means the configured mode). Auto fetches over HTTP first and moves to Chrome when
// the document is an app shell or mentions experimentation without a
// recognisable platform. With wait, browser scans also collect the
// watcher's late detections before returning.
func (a *Auditor) ScanURL(ctx context.Context, pageURL, mode string, wait bool) (*Result, error) {
	u, err := safeurl.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if !a.cfg.Scan.AllowPrivate {
		if err := safeurl.CheckPublic(ctx, nil, u); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
	}
	pageURL = u.String()
	if mode == "" {
		mode = a.cfg.Scan.Mode
	}

	var res *Result
	switch mode {
	case config.ModeHTTP, config.ModeAuto:
		if res, err = a.scanHTTP(ctx, pageURL); err != nil {
			if mode == config.ModeHTTP {
				return nil, err
			}
			a.logger.Warn("auditor: http fetch failed, using browser", "url", pageURL, "error", err)
		} else if mode == config.ModeHTTP || !needsBrowser(res) {
			break
		}
		var assessment *fetcher.Assessment
		if res != nil {
			assessment = res.Assessment
		}
		if res, err = a.scanBrowser(ctx, pageURL, wait); err != nil {
			return nil, err
		}
		res.Escalated, res.Assessment = true, assessment
	case config.ModeBrowser:
		if res, err = a.scanBrowser(ctx, pageURL, wait); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: mode %q", ErrBadRequest, mode)
	}
	return a.save(ctx, res)
}

func needsBrowser(res *Result) bool {
	if res.Assessment != nil && !res.Assessment.Sufficient {
		return true
	}
	return len(res.Report.Platforms) == 0 && res.Report.HasExperimentKeywords
}

func (a *Auditor) scanHTTP(ctx context.Context, pageURL string) (*Result, error) {
	fr, err := a.fetch.Fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("auditor: %w", err)
	}
	r, err := a.static.ScanAndWait(ctx, fr.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("auditor: %w", err)
	}
	return &Result{Mode: config.ModeHTTP, Assessment: &fr.Assessment, Report: r}, nil
}

func (a *Auditor) scanBrowser(ctx context.Context, pageURL string, wait bool) (*Result, error) {
	p, err := a.browser.Open(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("auditor: %w", err)
	}

	if wait {
		defer p.Close()
		r, err := a.live.ScanAndWait(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("auditor: %w", err)
		}
		return &Result{Mode: config.ModeBrowser, Report: r}, nil
	}

	// The watcher outlives the request, so the tab gets its own deadline
	// and is closed once the window has elapsed.
	budget := a.cfg.Scan.InitDelay + a.cfg.Scan.WatchWindow + a.cfg.Browser.NavigationTimeout
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	r, err := a.live.Scan(sctx, p)
	if err != nil {
		cancel()
		p.Close()
		return nil, fmt.Errorf("auditor: %w", err)
	}
	time.AfterFunc(a.cfg.Scan.WatchWindow, func() {
		cancel()
		if err := p.Close(); err != nil {
			a.logger.Debug("auditor: close tab", "url", pageURL, "error", err)
		}
	})
	return &Result{Mode: config.ModeBrowser, Report: r}, nil
}

// ScanHTML scans a captured HTML document as if served at pageURL.
func (a *Auditor) ScanHTML(ctx context.Context, pageURL, html string) (*Result, error) {
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("%w: empty html", ErrBadRequest)
	}
	snap, err := page.FromHTML(pageURL, html)
	if err != nil {
		return nil, fmt.Errorf("auditor: %w", err)
	}
	return a.ScanSnapshot(ctx, snap, ModeHTML)
}

// ScanSnapshot scans a captured page. Scripts the snapshot recorded as
// injected are reported as late detections.
func (a *Auditor) ScanSnapshot(ctx context.Context, snap *page.Snapshot, mode string) (*Result, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrBadRequest)
	}
	if mode == "" {
		mode = ModeSnapshot
	}
	r, err := a.static.ScanAndWait(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("auditor: %w", err)
	}
	return a.save(ctx, &Result{Mode: mode, Report: r})
}

func (a *Auditor) save(ctx context.Context, res *Result) (*Result, error) {
	if a.archive == nil {
		return res, nil
	}
	id, err := a.archive.Save(ctx, res.Mode, res.Report)
	if err != nil {
		// The scan itself succeeded.
		a.logger.Error("auditor: archive", "url", res.Report.URL, "error", err)
		return res, nil
	}
	res.ID = id
	return res, nil
}

// History lists archived scans, newest first.
func (a *Auditor) History(ctx context.Context, q archive.Query) ([]archive.Entry, error) {
	if a.archive == nil {
		return nil, ErrNoArchive
	}
	return a.archive.List(ctx, q)
}

// Report returns an archived scan.
func (a *Auditor) Report(ctx context.Context, id string) (*archive.Record, error) {
	if a.archive == nil {
		return nil, ErrNoArchive
	}
	return a.archive.Get(ctx, id)
}

// Sightings follows one experiment on pageURL across archived scans.
func (a *Auditor) Sightings(ctx context.Context, pageURL, experimentID string) ([]archive.Sighting, error) {
	if a.archive == nil {
		return nil, ErrNoArchive
	}
	if pageURL == "" || experimentID == "" {
		return nil, fmt.Errorf("%w: url and experiment id are required", ErrBadRequest)
	}
	return a.archive.Sightings(ctx, pageURL, experimentID)
}

// Calls returns the most recent audited API calls.
func (a *Auditor) Calls(ctx context.Context, limit int) ([]archive.CallEntry, error) {
	if a.archive == nil {
		return nil, ErrNoArchive
	}
	return a.archive.Calls(ctx, limit)
}

func (a *Auditor) recordCall(ctx context.Context, c kit.Call) {
	// Recorded even when the request was cancelled.
	if err := a.archive.LogCall(context.WithoutCancel(ctx), c); err != nil {
		a.logger.Warn("auditor: call log", "op", c.Op, "error", err)
	}
}

// Health is the result of Ping.
type Health struct {
	Status  string `json:"status"`
	Browser string `json:"browser"`
	Archive string `json:"archive"`
}

// Ping checks Chrome and the archive. A disabled archive is not an error.
func (a *Auditor) Ping(ctx context.Context) Health {
	h := Health{Status: "ok", Browser: "ok", Archive: "disabled"}
	if err := a.browser.Ping(ctx); err != nil {
		h.Status, h.Browser = "degraded", err.Error()
	}
	if a.archive != nil {
		h.Archive = "ok"
		if err := a.archive.DB.PingContext(ctx); err != nil {
			h.Status, h.Archive = "degraded", err.Error()
		}
	}
	return h
}
