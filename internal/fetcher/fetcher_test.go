package fetcher

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const article = `<!DOCTYPE html>
<html>
<head><title>Test Page</title>
<script>window.optimizely = window.optimizely || [];</script>
</head>
<body>
<main>
<article>
<h1>Article Title</h1>
<p>Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur.</p>
</article>
</main>
</body>
</html>`

func TestAssess_StaticPage(t *testing.T) {
	a := Assess([]byte(article))
	if !a.Sufficient {
		t.Errorf("expected sufficient, got reason %q", a.Reason)
	}
	if a.Scripts != 1 {
		t.Errorf("scripts: got %d, want 1", a.Scripts)
	}
}

func TestAssess_SPAShell(t *testing.T) {
	html := []byte(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>App</title></head>
<body>
<div id="root"></div>
<script src="/static/js/main.chunk.js"></script>
<script src="/static/js/vendor.chunk.js"></script>
<script src="/static/js/runtime.chunk.js"></script>
</body>
</html>`)
	a := Assess(html)
	if a.Sufficient {
		t.Error("expected insufficient for SPA shell")
	}
	if a.Reason != "client-rendered shell" {
		t.Errorf("reason: got %q", a.Reason)
	}
}

func TestAssess_TooShort(t *testing.T) {
	if IsSufficient([]byte(`<html><body>hi</body></html>`)) {
		t.Error("expected insufficient for very short content")
	}
}

func TestAssess_ScriptHeavy(t *testing.T) {
	body := `<html><head><script>` + strings.Repeat("var a = 1;", 200) + `</script></head><body><p>Short text here.</p></body></html>`
	a := Assess([]byte(body))
	if a.Sufficient {
		t.Error("script text must not count as visible text")
	}
}

func TestMeasure(t *testing.T) {
	text, markup, scripts := measure([]byte(`<div>Hello World</div><style>p{}</style>`))
	if text != len("HelloWorld") {
		t.Errorf("text: got %d, want %d", text, len("HelloWorld"))
	}
	if markup == 0 {
		t.Error("expected non-zero markup count")
	}
	if scripts != 0 {
		t.Errorf("scripts: got %d", scripts)
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFetch(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, article)
	}))
	defer srv.Close()

	f := New(WithClient(srv.Client()), WithUserAgent("expscope-test"), WithLogger(quiet()))
	res, err := f.Fetch(context.Background(), srv.URL+"/post")
	if err != nil {
		t.Fatal(err)
	}
	if ua != "expscope-test" {
		t.Errorf("user agent: got %q", ua)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status: got %d", res.StatusCode)
	}
	if res.FinalURL != srv.URL+"/post" || res.Snapshot.URL() != res.FinalURL {
		t.Errorf("url: got %q / %q", res.FinalURL, res.Snapshot.URL())
	}
	if !res.Assessment.Sufficient {
		t.Errorf("assessment: %+v", res.Assessment)
	}
	if !res.Snapshot.Exists(context.Background(), "optimizely") {
		t.Error("inline global not inferred")
	}
	text, _ := res.Snapshot.Text(context.Background())
	if !strings.Contains(text, "Article Title") {
		t.Errorf("rendered text: %q", text)
	}
}

func TestFetch_Redirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, article)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New(WithClient(srv.Client()), WithLogger(quiet())).Fetch(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalURL != srv.URL+"/new" {
		t.Errorf("final url: got %q", res.FinalURL)
	}
}

func TestFetch_Status(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := New(WithClient(srv.Client()), WithLogger(quiet())).Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404")
	}
}

func TestFetch_MaxBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, article)
	}))
	defer srv.Close()

	res, err := New(WithClient(srv.Client()), WithMaxBody(64), WithLogger(quiet())).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	src, _ := res.Snapshot.HTML(context.Background())
	if len(src) != 64 {
		t.Errorf("body: got %d bytes, want 64", len(src))
	}
}
