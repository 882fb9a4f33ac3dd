package auditor

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/expscope/internal/kit"
)

// RegisterMCP registers the expscope tools on srv.
func (a *Auditor) RegisterMCP(srv *mcp.Server) {
	ep := a.Endpoints()

	kit.RegisterMCPTool[ScanRequest](srv, &mcp.Tool{
		Name:        "expscope_scan_url",
		Description: "Scan a web page for A/B testing platforms, feature flags, tag managers and analytics tools. Returns detected platforms and the experiments with their assigned variations.",
		InputSchema: kit.InputSchema(map[string]any{
			"url":  map[string]any{"type": "string", "description": "Absolute http(s) URL of the page"},
			"mode": map[string]any{"type": "string", "enum": []any{"auto", "http", "browser"}, "description": "Acquisition mode (default from configuration)"},
			"wait": map[string]any{"type": "boolean", "description": "Wait for the dynamic-injection window and include late detections"},
		}, "url"),
	}, func(ctx context.Context, req any) (any, error) {
		r, ok := req.(*ScanRequest)
		if !ok {
			return nil, badRequest(req)
		}
		r.HTML = ""
		return ep.Scan(ctx, r)
	})

	kit.RegisterMCPTool[ScanRequest](srv, &mcp.Tool{
		Name:        "expscope_scan_html",
		Description: "Scan a captured HTML document without fetching it. Runtime state is inferred from inline scripts.",
		InputSchema: kit.InputSchema(map[string]any{
			"url":  map[string]any{"type": "string", "description": "URL the document was served from"},
			"html": map[string]any{"type": "string", "description": "Full HTML source"},
		}, "html"),
	}, ep.Scan)

	kit.RegisterMCPTool[HistoryRequest](srv, &mcp.Tool{
		Name:        "expscope_history",
		Description: "List archived scans, newest first, optionally filtered by URL or detected platform.",
		InputSchema: kit.InputSchema(map[string]any{
			"url":      map[string]any{"type": "string", "description": "Only scans of this URL"},
			"platform": map[string]any{"type": "string", "description": "Only scans that detected this platform (e.g. Optimizely)"},
			"limit":    map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}),
	}, ep.History)

	kit.RegisterMCPTool[ReportRequest](srv, &mcp.Tool{
		Name:        "expscope_report",
		Description: "Fetch an archived scan report by ID.",
		InputSchema: kit.InputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Scan ID (scan_...)"},
		}, "id"),
	}, ep.Report)

	kit.RegisterMCPTool[SightingsRequest](srv, &mcp.Tool{
		Name:        "expscope_sightings",
		Description: "Follow one experiment on a page across archived scans to see when its variation changed.",
		InputSchema: kit.InputSchema(map[string]any{
			"url":           map[string]any{"type": "string", "description": "Page URL"},
			"experiment_id": map[string]any{"type": "string", "description": "Experiment ID as reported by a scan"},
		}, "url", "experiment_id"),
	}, ep.Sightings)

	kit.RegisterMCPTool[struct{}](srv, &mcp.Tool{
		Name:        "expscope_ping",
		Description: "Check that the browser and the archive are reachable.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, ep.Ping)
}
