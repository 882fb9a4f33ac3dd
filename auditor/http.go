package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/expscope/archive"
	"github.com/hazyhaar/expscope/internal/kit"
	"github.com/hazyhaar/expscope/internal/shield"
)

// ScanRequest is the body of POST /api/scan and the arguments of the
// scan tools. HTML, when set, is scanned instead of fetching URL.
type ScanRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html,omitempty"`
	Mode string `json:"mode,omitempty"`
	Wait bool   `json:"wait,omitempty"`
}

// HistoryRequest filters archived scans.
type HistoryRequest struct {
	URL      string `json:"url,omitempty"`
	Platform string `json:"platform,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// ReportRequest names an archived scan.
type ReportRequest struct {
	ID string `json:"id"`
}

// SightingsRequest names an experiment on a page.
type SightingsRequest struct {
	URL          string `json:"url"`
	ExperimentID string `json:"experiment_id"`
}

// Endpoints are the service operations shared by the HTTP and MCP
// surfaces.
type Endpoints struct {
	Scan      kit.Endpoint
	History   kit.Endpoint
	Report    kit.Endpoint
	Sightings kit.Endpoint
	Ping      kit.Endpoint
}

// Endpoints builds the service operations with logging. With an archive,
// calls are also recorded in its call log.
func (a *Auditor) Endpoints() Endpoints {
	wrap := func(op string, ep kit.Endpoint) kit.Endpoint {
		mws := []kit.Middleware{kit.Logging(a.logger, op)}
		if a.archive != nil {
			mws = append(mws, kit.Audit(op, a.recordCall))
		}
		return kit.Chain(mws...)(ep)
	}
	return Endpoints{
		Scan: wrap("scan", func(ctx context.Context, req any) (any, error) {
			r, ok := req.(*ScanRequest)
			if !ok {
				return nil, badRequest(req)
			}
			if r.HTML != "" {
				return a.ScanHTML(ctx, r.URL, r.HTML)
			}
			return a.ScanURL(ctx, r.URL, r.Mode, r.Wait)
		}),
		History: wrap("history", func(ctx context.Context, req any) (any, error) {
			r, ok := req.(*HistoryRequest)
			if !ok {
				return nil, badRequest(req)
			}
			return a.History(ctx, archive.Query{URL: r.URL, Platform: r.Platform, Limit: r.Limit})
		}),
		Report: wrap("report", func(ctx context.Context, req any) (any, error) {
			r, ok := req.(*ReportRequest)
			if !ok {
				return nil, badRequest(req)
			}
			return a.Report(ctx, r.ID)
		}),
		Sightings: wrap("sightings", func(ctx context.Context, req any) (any, error) {
			r, ok := req.(*SightingsRequest)
			if !ok {
				return nil, badRequest(req)
			}
			return a.Sightings(ctx, r.URL, r.ExperimentID)
		}),
		Ping: func(ctx context.Context, _ any) (any, error) {
			return a.Ping(ctx), nil
		},
	}
}

func badRequest(req any) error {
	return fmt.Errorf("%w: unexpected request type %T", ErrBadRequest, req)
}

// RegisterHTTP mounts the JSON API on r:
//
//	GET  /health
//	POST /api/scan
//	GET  /api/reports?url=&platform=&limit=
//	GET  /api/reports/{id}
//	GET  /api/experiments/{id}/sightings?url=
//	GET  /api/calls?limit=
func (a *Auditor) RegisterHTTP(r chi.Router) {
	ep := a.Endpoints()

	r.Group(func(r chi.Router) {
		for _, mw := range shield.APIStack(int64(2*a.cfg.Scan.MaxInput) + 64<<10) {
			r.Use(mw)
		}

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			out, _ := ep.Ping(req.Context(), nil)
			h, _ := out.(Health)
			code := http.StatusOK
			if h.Status != "ok" {
				code = http.StatusServiceUnavailable
			}
			writeJSON(w, code, h)
		})

		r.Post("/api/scan", func(w http.ResponseWriter, req *http.Request) {
			var in ScanRequest
			if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			serve(w, req, ep.Scan, &in)
		})

		r.Get("/api/reports", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			serve(w, req, ep.History, &HistoryRequest{
				URL:      q.Get("url"),
				Platform: q.Get("platform"),
				Limit:    queryInt(req, "limit", 50),
			})
		})

		r.Get("/api/reports/{id}", func(w http.ResponseWriter, req *http.Request) {
			serve(w, req, ep.Report, &ReportRequest{ID: chi.URLParam(req, "id")})
		})

		r.Get("/api/experiments/{id}/sightings", func(w http.ResponseWriter, req *http.Request) {
			serve(w, req, ep.Sightings, &SightingsRequest{
				URL:          req.URL.Query().Get("url"),
				ExperimentID: chi.URLParam(req, "id"),
			})
		})

		r.Get("/api/calls", func(w http.ResponseWriter, req *http.Request) {
			calls, err := a.Calls(req.Context(), queryInt(req, "limit", 100))
			if err != nil {
				writeError(w, statusOf(err), err)
				return
			}
			writeJSON(w, http.StatusOK, calls)
		})
	})
}

func serve(w http.ResponseWriter, req *http.Request, ep kit.Endpoint, in any) {
	out, err := ep(kit.WithTransport(req.Context(), "http"), in)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoArchive):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
