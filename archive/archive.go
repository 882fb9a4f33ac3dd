// Package archive stores scan reports in SQLite so that a site's
// experiments can be compared across scans.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/expscope/finding"
	"github.com/hazyhaar/expscope/internal/dbopen"
	"github.com/hazyhaar/expscope/internal/idgen"
)

// IDPrefix starts every scan ID.
const IDPrefix = "scan_"

// ErrNotFound is returned when no scan matches.
var ErrNotFound = errors.New("archive: scan not found")

// Entry summarises one archived scan.
type Entry struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Mode        string    `json:"mode,omitempty"`
	ScannedAt   time.Time `json:"scanned_at"`
	Platforms   []string  `json:"platforms"`
	Experiments int       `json:"experiments"`
	FailedSteps int       `json:"failed_steps"`
}

// Record is an archived scan with its full report.
type Record struct {
	Entry
	Report *finding.ScanReport `json:"report"`
}

// Query filters List. Zero values match everything; Limit defaults to 50.
type Query struct {
	URL      string
	Platform string
	Limit    int
}

// Sighting is one observation of an experiment in an archived scan.
type Sighting struct {
	ScanID    string    `json:"scan_id"`
	ScannedAt time.Time `json:"scanned_at"`
	Name      string    `json:"name"`
	Variation string    `json:"variation"`
}

// Archive is the report store.
type Archive struct {
	DB        *sql.DB
	newID     idgen.Generator
	newCallID idgen.Generator
}

// Open opens (or creates) the archive at path.
func Open(path string, opts ...dbopen.Option) (*Archive, error) {
	all := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return New(db), nil
}

// New wraps a database that already carries Schema.
func New(db *sql.DB) *Archive {
	return &Archive{
		DB:        db,
		newID:     idgen.Prefixed(IDPrefix, idgen.UUIDv7()),
		newCallID: idgen.Prefixed("call_", idgen.UUIDv7()),
	}
}

// Close closes the database.
func (a *Archive) Close() error { return a.DB.Close() }

// Save stores r and returns the new scan ID. Late detections are stored
// with the other detections and flagged.
func (a *Archive) Save(ctx context.Context, mode string, r *finding.ScanReport) (string, error) {
	if r == nil {
		return "", errors.New("archive: save: nil report")
	}
	blob, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("archive: save: encode: %w", err)
	}
	id := a.newID()

	err = dbopen.RunTx(ctx, a.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scans (id, url, mode, scanned_at, has_keywords, note, report)
			VALUES (?,?,?,?,?,?,?)`,
			id, r.URL, mode, r.Timestamp.UnixMilli(), boolInt(r.HasExperimentKeywords), r.Note, string(blob),
		); err != nil {
			return err
		}

		det, err := tx.PrepareContext(ctx, `
			INSERT INTO scan_detections (scan_id, category, name, evidence_kind, evidence_source, late)
			VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer det.Close()
		for _, group := range []struct {
			recs []finding.DetectionRecord
			late bool
		}{
			{r.Platforms, false}, {r.TagManagers, false}, {r.AnalyticsTools, false}, {r.LateDetections, true},
		} {
			for _, d := range group.recs {
				if _, err := det.ExecContext(ctx, id, string(d.Category), d.Name,
					string(d.EvidenceKind), d.EvidenceSource, boolInt(group.late)); err != nil {
					return err
				}
			}
		}

		exp, err := tx.PrepareContext(ctx, `
			INSERT INTO scan_experiments (scan_id, platform, experiment_id, name, variation, type)
			VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer exp.Close()
		for _, e := range r.Experiments {
			if _, err := exp.ExecContext(ctx, id, e.Platform, e.ID, e.Name, e.Variation, string(e.Type)); err != nil {
				return err
			}
		}

		step, err := tx.PrepareContext(ctx, `
			INSERT INTO scan_steps (scan_id, step, detections, experiments, error)
			VALUES (?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer step.Close()
		for _, s := range r.Diagnostics {
			if _, err := step.ExecContext(ctx, id, s.Step, s.Detections, s.Experiments, s.Err); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("archive: save %s: %w", r.URL, err)
	}
	return id, nil
}

const entryColumns = `
	s.id, s.url, s.mode, s.scanned_at,
	(SELECT group_concat(name, char(31)) FROM scan_detections d
	  WHERE d.scan_id = s.id AND d.category = 'platform'),
	(SELECT COUNT(*) FROM scan_experiments e WHERE e.scan_id = s.id),
	(SELECT COUNT(*) FROM scan_steps st WHERE st.scan_id = s.id AND st.error <> '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, extra ...any) (Entry, error) {
	var (
		e         Entry
		at        int64
		platforms sql.NullString
	)
	dest := append([]any{&e.ID, &e.URL, &e.Mode, &at, &platforms, &e.Experiments, &e.FailedSteps}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Entry{}, err
	}
	e.ScannedAt = time.UnixMilli(at).UTC()
	e.Platforms = []string{}
	if platforms.Valid && platforms.String != "" {
		e.Platforms = strings.Split(platforms.String, "\x1f")
		slices.Sort(e.Platforms)
		e.Platforms = slices.Compact(e.Platforms)
	}
	return e, nil
}

func (a *Archive) record(ctx context.Context, where string, args ...any) (*Record, error) {
	var blob string
	row := a.DB.QueryRowContext(ctx, `SELECT `+entryColumns+`, s.report FROM scans s `+where, args...)
	e, err := scanEntry(row, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	var r finding.ScanReport
	if err := json.Unmarshal([]byte(blob), &r); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", e.ID, err)
	}
	return &Record{Entry: e, Report: &r}, nil
}

// Get returns the scan with the given ID.
func (a *Archive) Get(ctx context.Context, id string) (*Record, error) {
	return a.record(ctx, `WHERE s.id = ?`, id)
}

// Latest returns the most recent scan of url.
func (a *Archive) Latest(ctx context.Context, url string) (*Record, error) {
	return a.record(ctx, `WHERE s.url = ? ORDER BY s.scanned_at DESC, s.id DESC LIMIT 1`, url)
}

// List returns scan summaries, newest first.
func (a *Archive) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	if q.URL != "" {
		conds = append(conds, `s.url = ?`)
		args = append(args, q.URL)
	}
	if q.Platform != "" {
		conds = append(conds, `s.id IN (SELECT scan_id FROM scan_detections
			WHERE category = 'platform' AND name = ? COLLATE NOCASE)`)
		args = append(args, q.Platform)
	}
	query := `SELECT ` + entryColumns + ` FROM scans s`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	query += ` ORDER BY s.scanned_at DESC, s.id DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := a.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("archive: list: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sightings returns every archived observation of experimentID on url,
// oldest first, so that variation changes can be followed over time.
func (a *Archive) Sightings(ctx context.Context, url, experimentID string) ([]Sighting, error) {
	rows, err := a.DB.QueryContext(ctx, `
		SELECT s.id, s.scanned_at, e.name, e.variation
		FROM scan_experiments e JOIN scans s ON s.id = e.scan_id
		WHERE s.url = ? AND e.experiment_id = ?
		ORDER BY s.scanned_at ASC, s.id ASC`, url, experimentID)
	if err != nil {
		return nil, fmt.Errorf("archive: sightings: %w", err)
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var (
			s  Sighting
			at int64
		)
		if err := rows.Scan(&s.ScanID, &at, &s.Name, &s.Variation); err != nil {
			return nil, fmt.Errorf("archive: sightings: %w", err)
		}
		s.ScannedAt = time.UnixMilli(at).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a scan and its indexed rows. Child rows are deleted
// explicitly since foreign_keys is a per-connection pragma.
func (a *Archive) Delete(ctx context.Context, id string) error {
	var n int64
	err := dbopen.RunTx(ctx, a.DB, func(tx *sql.Tx) error {
		for _, table := range []string{"scan_detections", "scan_experiments", "scan_steps"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE scan_id = ?`, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("archive: delete %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
