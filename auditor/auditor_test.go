package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/expscope/archive"
	"github.com/hazyhaar/expscope/internal/config"
	"github.com/hazyhaar/expscope/internal/dbopen"
	"github.com/hazyhaar/expscope/internal/kit"
	"github.com/hazyhaar/expscope/internal/safeurl"
	"github.com/hazyhaar/expscope/page"
)

const staticPage = `<html><head><title>Shop</title>
<script>var _conv_q = _conv_q || [];</script>
</head><body>
<main><div data-conv-experiment="42" data-conv-variation="B">` + prose + `</div></main>
</body></html>`

const prose = `The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog.
The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog.
The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog.
The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog.`

const shellPage = `<html><head><script src="/bundle.js"></script></head><body><div id="root"></div></body></html>`

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeTab struct {
	*page.Snapshot
	mu     sync.Mutex
	closed bool
}

func (f *fakeTab) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTab) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeBrowser serves every URL with the same rendered document.
type fakeBrowser struct {
	html    string
	pingErr error

	mu     sync.Mutex
	opened []string
	tabs   []*fakeTab
}

func (b *fakeBrowser) Open(_ context.Context, pageURL string) (BrowserPage, error) {
	snap, err := page.FromHTML(pageURL, b.html)
	if err != nil {
		return nil, err
	}
	tab := &fakeTab{Snapshot: snap}
	b.mu.Lock()
	b.opened = append(b.opened, pageURL)
	b.tabs = append(b.tabs, tab)
	b.mu.Unlock()
	return tab, nil
}

func (b *fakeBrowser) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pingErr
}

func (b *fakeBrowser) Close() error { return nil }

func (b *fakeBrowser) setPingErr(err error) {
	b.mu.Lock()
	b.pingErr = err
	b.mu.Unlock()
}

func (b *fakeBrowser) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.opened)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scan.InitDelay = 0
	cfg.Scan.WatchWindow = 50 * time.Millisecond
	cfg.Scan.AllowPrivate = true
	return cfg
}

// siteServer serves staticPage on /, shellPage on /app and 404 elsewhere.
func siteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, staticPage)
	})
	mux.HandleFunc("/app", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, shellPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestAuditor(t *testing.T, b *fakeBrowser, withArchive bool) *Auditor {
	t.Helper()
	opts := []Option{
		WithLogger(quietLogger()),
		WithBrowser(b),
		WithClock(func() time.Time { return t0 }),
	}
	if withArchive {
		opts = append(opts, WithArchive(archive.New(dbopen.OpenMemory(t, dbopen.WithSchema(archive.Schema)))))
	}
	a, err := New(testConfig(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestScanURL_HTTP(t *testing.T) {
	site := siteServer(t)
	b := &fakeBrowser{html: staticPage}
	a := newTestAuditor(t, b, true)

	res, err := a.ScanURL(context.Background(), site.URL+"/", config.ModeHTTP, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != config.ModeHTTP || res.Escalated {
		t.Errorf("mode: got %q escalated=%v", res.Mode, res.Escalated)
	}
	if res.Assessment == nil || !res.Assessment.Sufficient {
		t.Errorf("assessment: got %+v", res.Assessment)
	}
	if _, ok := res.Report.Platform("convert"); !ok {
		t.Errorf("convert missing: %+v", res.Report.Platforms)
	}
	if e, ok := res.Report.Experiment("42"); !ok || e.Variation != "B" {
		t.Errorf("experiment 42: got %+v", e)
	}
	if !res.Report.Timestamp.Equal(t0) {
		t.Errorf("timestamp: got %v", res.Report.Timestamp)
	}
	if !strings.HasPrefix(res.ID, archive.IDPrefix) {
		t.Errorf("scan was not archived: id %q", res.ID)
	}
	if b.openCount() != 0 {
		t.Error("http mode opened a browser tab")
	}
}

func TestScanURL_HTTPShellStaysHTTP(t *testing.T) {
	site := siteServer(t)
	b := &fakeBrowser{html: staticPage}
	a := newTestAuditor(t, b, false)

	res, err := a.ScanURL(context.Background(), site.URL+"/app", config.ModeHTTP, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Escalated || b.openCount() != 0 {
		t.Error("http mode must not escalate")
	}
	if res.Assessment.Sufficient {
		t.Error("shell page assessed as sufficient")
	}
}

func TestScanURL_AutoEscalates(t *testing.T) {
	site := siteServer(t)
	b := &fakeBrowser{html: staticPage}
	a := newTestAuditor(t, b, false)

	res, err := a.ScanURL(context.Background(), site.URL+"/app", config.ModeAuto, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Escalated || res.Mode != config.ModeBrowser {
		t.Errorf("got mode %q escalated=%v", res.Mode, res.Escalated)
	}
	if res.Assessment == nil || res.Assessment.Sufficient {
		t.Errorf("escalation should keep the http assessment: %+v", res.Assessment)
	}
	if _, ok := res.Report.Platform("convert"); !ok {
		t.Errorf("browser scan lost convert: %+v", res.Report.Platforms)
	}
	if b.openCount() != 1 || !b.tabs[0].isClosed() {
		t.Error("tab not opened and closed once")
	}
}

func TestScanURL_AutoStaysHTTP(t *testing.T) {
	site := siteServer(t)
	b := &fakeBrowser{html: staticPage}
	a := newTestAuditor(t, b, false)

	res, err := a.ScanURL(context.Background(), site.URL+"/", config.ModeAuto, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Escalated || res.Mode != config.ModeHTTP || b.openCount() != 0 {
		t.Errorf("static page escalated: %+v", res)
	}
}

func TestScanURL_AutoFetchFailure(t *testing.T) {
	site := siteServer(t)
	b := &fakeBrowser{html: staticPage}
	a := newTestAuditor(t, b, false)

	res, err := a.ScanURL(context.Background(), site.URL+"/missing", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Escalated || res.Assessment != nil {
		t.Errorf("got escalated=%v assessment=%+v", res.Escalated, res.Assessment)
	}

	if _, err := a.ScanURL(context.Background(), site.URL+"/missing", config.ModeHTTP, false); err == nil {
		t.Error("http mode should fail on 404")
	}
}

func TestScanURL_BrowserClosesTabAfterWindow(t *testing.T) {
	b := &fakeBrowser{html: staticPage}
	a := newTestAuditor(t, b, false)

	res, err := a.ScanURL(context.Background(), "https://shop.example/", config.ModeBrowser, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != config.ModeBrowser || res.Escalated {
		t.Errorf("got %+v", res)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !b.tabs[0].isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("tab left open after the watch window")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScanURL_BadInput(t *testing.T) {
	a := newTestAuditor(t, &fakeBrowser{html: staticPage}, false)
	ctx := context.Background()

	for _, u := range []string{"", "shop.example", "ftp://shop.example/", "http://"} {
		if _, err := a.ScanURL(ctx, u, config.ModeHTTP, false); !errors.Is(err, ErrBadRequest) {
			t.Errorf("url %q: got %v", u, err)
		}
	}
	if _, err := a.ScanURL(ctx, "https://shop.example/", "carrier-pigeon", false); !errors.Is(err, ErrBadRequest) {
		t.Errorf("bad mode: got %v", err)
	}
	if _, err := a.ScanHTML(ctx, "https://shop.example/", "  "); !errors.Is(err, ErrBadRequest) {
		t.Errorf("empty html: got %v", err)
	}
	if _, err := a.ScanSnapshot(ctx, nil, ""); !errors.Is(err, ErrBadRequest) {
		t.Errorf("nil snapshot: got %v", err)
	}
}

func TestScanURL_RefusesPrivateTargets(t *testing.T) {
	b := &fakeBrowser{html: staticPage}
	cfg := testConfig()
	cfg.Scan.AllowPrivate = false
	a, err := New(cfg, WithLogger(quietLogger()), WithBrowser(b))
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"http://127.0.0.1:8080/", "http://localhost/", "http://[::1]/", "http://169.254.169.254/latest/meta-data/"} {
		if _, err := a.ScanURL(context.Background(), u, config.ModeAuto, false); !errors.Is(err, ErrBadRequest) || !errors.Is(err, safeurl.ErrPrivate) {
			t.Errorf("%s: got %v", u, err)
		}
	}
	if b.openCount() != 0 {
		t.Error("browser opened a private target")
	}
}

func TestScanSnapshot_InjectedAreLate(t *testing.T) {
	a := newTestAuditor(t, &fakeBrowser{}, true)
	snap := &page.Snapshot{
		PageURL:  "https://shop.example/",
		Globals:  map[string]any{},
		Injected: []string{"https://acme.tt.omtrdc.net/at.js"},
	}
	res, err := a.ScanSnapshot(context.Background(), snap, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeSnapshot {
		t.Errorf("mode: got %q", res.Mode)
	}
	if len(res.Report.LateDetections) != 1 || res.Report.LateDetections[0].Name != "adobe" {
		t.Errorf("late: got %+v", res.Report.LateDetections)
	}

	rec, err := a.Report(context.Background(), res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Mode != ModeSnapshot || len(rec.Platforms) != 1 || rec.Platforms[0] != "adobe" {
		t.Errorf("archived entry: %+v", rec.Entry)
	}
}

func TestArchiveQueries(t *testing.T) {
	a := newTestAuditor(t, &fakeBrowser{}, true)
	ctx := context.Background()

	first, err := a.ScanHTML(ctx, "https://shop.example/", staticPage)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.ScanHTML(ctx, "https://shop.example/", strings.Replace(staticPage, `data-conv-variation="B"`, `data-conv-variation="C"`, 1))
	if err != nil {
		t.Fatal(err)
	}

	entries, err := a.History(ctx, archive.Query{Platform: "Convert"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID != second.ID {
		t.Errorf("history: got %+v", entries)
	}

	s, err := a.Sightings(ctx, "https://shop.example/", "42")
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 2 || s[0].ScanID != first.ID || s[0].Variation != "B" || s[1].Variation != "C" {
		t.Errorf("sightings: got %+v", s)
	}
	if _, err := a.Sightings(ctx, "", "42"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("missing url: got %v", err)
	}
	if _, err := a.Report(ctx, "scan_nope"); !errors.Is(err, archive.ErrNotFound) {
		t.Errorf("unknown id: got %v", err)
	}
}

func TestArchiveDisabled(t *testing.T) {
	a := newTestAuditor(t, &fakeBrowser{}, false)
	ctx := context.Background()

	res, err := a.ScanHTML(ctx, "https://shop.example/", staticPage)
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != "" {
		t.Errorf("id without archive: %q", res.ID)
	}
	if _, err := a.History(ctx, archive.Query{}); !errors.Is(err, ErrNoArchive) {
		t.Errorf("history: got %v", err)
	}
	if _, err := a.Report(ctx, "scan_x"); !errors.Is(err, ErrNoArchive) {
		t.Errorf("report: got %v", err)
	}
	if h := a.Ping(ctx); h.Status != "ok" || h.Archive != "disabled" {
		t.Errorf("ping: got %+v", h)
	}
}

func TestPing_Degraded(t *testing.T) {
	a := newTestAuditor(t, &fakeBrowser{pingErr: errors.New("chrome gone")}, true)
	h := a.Ping(context.Background())
	if h.Status != "degraded" || h.Browser != "chrome gone" || h.Archive != "ok" {
		t.Errorf("got %+v", h)
	}
}

func TestNew_ExtraSignaturesMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Signatures.Extra = "/nonexistent/signatures.yaml"
	if _, err := New(cfg, WithLogger(quietLogger()), WithBrowser(&fakeBrowser{})); err == nil {
		t.Error("expected error for missing signature file")
	}
}

// --- HTTP API ---

func apiServer(t *testing.T, a *Auditor) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	a.RegisterHTTP(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHTTP_ScanAndReports(t *testing.T) {
	site := siteServer(t)
	a := newTestAuditor(t, &fakeBrowser{html: staticPage}, true)
	api := apiServer(t, a)

	body := `{"url":"` + site.URL + `/","mode":"http"}`
	resp, err := http.Post(api.URL+"/api/scan", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scan status: %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	res := decode[Result](t, resp)
	if res.ID == "" || res.Report == nil {
		t.Fatalf("scan result: %+v", res)
	}

	resp, err = http.Get(api.URL + "/api/reports?limit=10")
	if err != nil {
		t.Fatal(err)
	}
	entries := decode[[]archive.Entry](t, resp)
	if len(entries) != 1 || entries[0].ID != res.ID {
		t.Errorf("reports: got %+v", entries)
	}

	resp, err = http.Get(api.URL + "/api/reports/" + res.ID)
	if err != nil {
		t.Fatal(err)
	}
	rec := decode[archive.Record](t, resp)
	if rec.Report == nil || rec.Report.URL != res.Report.URL {
		t.Errorf("record: got %+v", rec)
	}

	resp, err = http.Get(api.URL + "/api/experiments/42/sightings?url=" + url.QueryEscape(res.Report.URL))
	if err != nil {
		t.Fatal(err)
	}
	sightings := decode[[]archive.Sighting](t, resp)
	if len(sightings) != 1 || sightings[0].Variation != "B" {
		t.Errorf("sightings: got %+v", sightings)
	}

	resp, err = http.Get(api.URL + "/api/reports/scan_missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing report: status %d", resp.StatusCode)
	}

	resp, err = http.Get(api.URL + "/api/calls")
	if err != nil {
		t.Fatal(err)
	}
	calls := decode[[]archive.CallEntry](t, resp)
	status := map[string]string{}
	for _, c := range calls {
		if c.Transport != "http" {
			t.Errorf("call transport: %+v", c)
		}
		if _, seen := status[c.Op]; !seen {
			status[c.Op] = c.Status
		}
	}
	// Newest first: the last report call was the failed lookup.
	if len(calls) != 5 || status["scan"] != "success" || status["report"] != "error" || status["sightings"] != "success" {
		t.Errorf("call log: %+v", calls)
	}
}

func TestHTTP_ScanHTMLBody(t *testing.T) {
	a := newTestAuditor(t, &fakeBrowser{}, false)
	api := apiServer(t, a)

	in, _ := json.Marshal(ScanRequest{URL: "https://shop.example/", HTML: staticPage})
	resp, err := http.Post(api.URL+"/api/scan", "application/json", strings.NewReader(string(in)))
	if err != nil {
		t.Fatal(err)
	}
	res := decode[Result](t, resp)
	if res.Mode != ModeHTML {
		t.Errorf("mode: got %q", res.Mode)
	}
	if _, ok := res.Report.Experiment("42"); !ok {
		t.Errorf("experiment 42 missing: %+v", res.Report.Experiments)
	}
}

func TestHTTP_Errors(t *testing.T) {
	a := newTestAuditor(t, &fakeBrowser{}, false)
	api := apiServer(t, a)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"malformed body", http.MethodPost, "/api/scan", `{`, http.StatusBadRequest},
		{"bad url", http.MethodPost, "/api/scan", `{"url":"nope"}`, http.StatusBadRequest},
		{"bad mode", http.MethodPost, "/api/scan", `{"url":"https://a.example/","mode":"x"}`, http.StatusBadRequest},
		{"archive disabled", http.MethodGet, "/api/reports", "", http.StatusNotImplemented},
		{"sightings disabled", http.MethodGet, "/api/experiments/1/sightings?url=x", "", http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, api.URL+tt.path, strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			out := decode[map[string]string](t, resp)
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.want)
			}
			if out["error"] == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestEndpoints_WrongRequestType(t *testing.T) {
	ep := newTestAuditor(t, &fakeBrowser{}, true).Endpoints()
	ctx := context.Background()

	tests := []struct {
		name string
		ep   kit.Endpoint
		req  any
	}{
		{"scan", ep.Scan, &HistoryRequest{}},
		{"history", ep.History, ScanRequest{URL: "https://a.example/"}},
		{"report", ep.Report, nil},
		{"sightings", ep.Sightings, "b_good"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.ep(ctx, tt.req); !errors.Is(err, ErrBadRequest) {
				t.Errorf("got %v, want ErrBadRequest", err)
			}
		})
	}
}

func TestHTTP_Health(t *testing.T) {
	b := &fakeBrowser{}
	api := apiServer(t, newTestAuditor(t, b, true))

	resp, err := http.Get(api.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if h := decode[Health](t, resp); resp.StatusCode != http.StatusOK || h.Status != "ok" {
		t.Errorf("healthy: %d %+v", resp.StatusCode, h)
	}

	b.setPingErr(errors.New("down"))
	resp, err = http.Get(api.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("degraded: status %d", resp.StatusCode)
	}
}

// --- MCP ---

func mcpSession(t *testing.T, a *Auditor) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "expscope-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	a.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool[T any](t *testing.T, s *mcp.ClientSession, name string, args map[string]any) (T, bool) {
	t.Helper()
	var out T
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if res.IsError {
		return out, false
	}
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out); err != nil {
		t.Fatalf("%s: decode: %v", name, err)
	}
	return out, true
}

func TestMCP_Tools(t *testing.T) {
	site := siteServer(t)
	a := newTestAuditor(t, &fakeBrowser{html: staticPage}, true)
	s := mcpSession(t, a)

	res, ok := callTool[Result](t, s, "expscope_scan_url", map[string]any{"url": site.URL + "/", "mode": "http"})
	if !ok {
		t.Fatal("scan_url failed")
	}
	if _, found := res.Report.Platform("convert"); !found {
		t.Errorf("scan_url: %+v", res.Report.Platforms)
	}

	htmlRes, ok := callTool[Result](t, s, "expscope_scan_html", map[string]any{"url": "https://other.example/", "html": staticPage})
	if !ok || htmlRes.Mode != ModeHTML {
		t.Errorf("scan_html: ok=%v %+v", ok, htmlRes)
	}

	entries, ok := callTool[[]archive.Entry](t, s, "expscope_history", map[string]any{"url": "https://other.example/"})
	if !ok || len(entries) != 1 || entries[0].ID != htmlRes.ID {
		t.Errorf("history: ok=%v %+v", ok, entries)
	}

	rec, ok := callTool[archive.Record](t, s, "expscope_report", map[string]any{"id": res.ID})
	if !ok || rec.ID != res.ID {
		t.Errorf("report: ok=%v %+v", ok, rec.Entry)
	}

	sightings, ok := callTool[[]archive.Sighting](t, s, "expscope_sightings", map[string]any{"url": "https://other.example/", "experiment_id": "42"})
	if !ok || len(sightings) != 1 {
		t.Errorf("sightings: ok=%v %+v", ok, sightings)
	}

	h, ok := callTool[Health](t, s, "expscope_ping", map[string]any{})
	if !ok || h.Status != "ok" {
		t.Errorf("ping: ok=%v %+v", ok, h)
	}

	if _, ok := callTool[Result](t, s, "expscope_scan_url", map[string]any{"url": "not a url"}); ok {
		t.Error("scan_url accepted an invalid URL")
	}
	if _, ok := callTool[archive.Record](t, s, "expscope_report", map[string]any{"id": "scan_missing"}); ok {
		t.Error("report found a missing scan")
	}
}

func TestMCP_ScanURLIgnoresHTML(t *testing.T) {
	site := siteServer(t)
	a := newTestAuditor(t, &fakeBrowser{html: staticPage}, false)
	s := mcpSession(t, a)

	res, ok := callTool[Result](t, s, "expscope_scan_url", map[string]any{
		"url":  site.URL + "/",
		"mode": "http",
		"html": "<html></html>",
	})
	if !ok || res.Mode != config.ModeHTTP {
		t.Errorf("got ok=%v mode=%q", ok, res.Mode)
	}
}
