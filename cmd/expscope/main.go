// Command expscope detects A/B testing platforms, feature flags, tag
// managers and analytics tools on web pages.
//
// Usage:
//
//	expscope -url https://shop.example/              # scan once, JSON on stdout
//	expscope -url https://shop.example/ -mode browser -wait
//	expscope -html page.html -url https://shop.example/
//	expscope -snapshot capture.json                 # scan a saved page capture
//	expscope -serve                                 # HTTP API (and MCP over QUIC if configured)
//	expscope -mcp                                   # MCP over stdio
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/expscope/auditor"
	"github.com/hazyhaar/expscope/internal/config"
	"github.com/hazyhaar/expscope/internal/mcpquic"
	"github.com/hazyhaar/expscope/page"
)

var version = "dev"

type options struct {
	configPath string
	url        string
	mode       string
	wait       bool
	htmlFile   string
	snapshot   string
	serve      bool
	mcpStdio   bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to expscope.yaml")
	flag.StringVar(&o.url, "url", "", "page to scan (or the URL an -html document was served from)")
	flag.StringVar(&o.mode, "mode", "", "acquisition mode: http, browser or auto (default from config)")
	flag.BoolVar(&o.wait, "wait", false, "wait for the dynamic-injection window before printing")
	flag.StringVar(&o.htmlFile, "html", "", "scan a saved HTML file instead of fetching")
	flag.StringVar(&o.snapshot, "snapshot", "", "scan a JSON page capture")
	flag.BoolVar(&o.serve, "serve", false, "run the HTTP API")
	flag.BoolVar(&o.mcpStdio, "mcp", false, "serve MCP tools over stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("expscope: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.wait {
		cfg.Scan.WaitWatcher = true
	}

	a, err := auditor.New(cfg, auditor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case o.serve:
		return serve(ctx, logger, cfg, a)
	case o.mcpStdio:
		return newMCPServer(a).Run(ctx, &mcp.StdioTransport{})
	case o.snapshot != "":
		f, err := os.Open(o.snapshot)
		if err != nil {
			return err
		}
		defer f.Close()
		snap, err := page.LoadSnapshot(f)
		if err != nil {
			return err
		}
		return printResult(a.ScanSnapshot(ctx, snap, ""))
	case o.htmlFile != "":
		data, err := os.ReadFile(o.htmlFile)
		if err != nil {
			return err
		}
		return printResult(a.ScanHTML(ctx, o.url, string(data)))
	case o.url != "":
		return printResult(a.ScanURL(ctx, o.url, o.mode, cfg.Scan.WaitWatcher))
	}

	fmt.Fprintln(os.Stderr, "usage: expscope -url <url> | -html <file> | -snapshot <file> | -serve | -mcp")
	flag.PrintDefaults()
	os.Exit(2)
	return nil
}

func printResult(res *auditor.Result, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func newMCPServer(a *auditor.Auditor) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "expscope", Version: version}, nil)
	a.RegisterMCP(srv)
	return srv
}

func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config, a *auditor.Auditor) error {
	if cfg.Server.MCPQuicAddr != "" {
		if err := serveQUIC(ctx, logger, cfg, a); err != nil {
			return err
		}
	}

	r := chi.NewRouter()
	a.RegisterHTTP(r)

	// Browser scans with wait can take InitDelay + WatchWindow past
	// navigation.
	writeTimeout := cfg.Browser.NavigationTimeout + cfg.Scan.InitDelay + cfg.Scan.WatchWindow + 30*time.Second
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("expscope: http listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("expscope: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("expscope: shutdown", "error", err)
	}
	return nil
}

func serveQUIC(ctx context.Context, logger *slog.Logger, cfg *config.Config, a *auditor.Auditor) error {
	var (
		tlsCfg *tls.Config
		err    error
	)
	if cfg.Server.TLSCert != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(cfg.Server.TLSCert, cfg.Server.TLSKey)
	} else {
		logger.Warn("expscope: no TLS key pair, using a self-signed certificate for MCP over QUIC")
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		return err
	}
	l, err := mcpquic.NewListener(cfg.Server.MCPQuicAddr, tlsCfg, newMCPServer(a), logger)
	if err != nil {
		return err
	}
	go func() {
		defer l.Close()
		if err := l.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Error("expscope: mcp quic", "error", err)
		}
	}()
	return nil
}
