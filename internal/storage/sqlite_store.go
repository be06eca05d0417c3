package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/utils"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNotFound is returned for lookups of records that do not exist.
var ErrNotFound = errors.New("record not found")

var _ interfaces.Store = (*SQLiteStore)(nil)

// SQLiteStore implements interfaces.Store on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (or creates) the pipeline database at dbPath and applies the
// schema. Use ":memory:" or a file: URI for tests.
func Open(dbPath string, logger logging.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" && !isURI(dbPath) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// In-memory databases exist per connection; cap the pool so every
	// query sees the same one.
	if dbPath == ":memory:" || dbPath == "file::memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if logger != nil {
		logger.Info("store opened", logging.Field{Key: "path", Value: dbPath})
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func isURI(path string) bool {
	return len(path) > 5 && path[:5] == "file:"
}

// applySchema sets pragmas and executes the embedded schema.
func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- portals ---

func (s *SQLiteStore) CreatePortal(ctx context.Context, p *model.Portal) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Type == "" {
		p.Type = model.PortalGeneric
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portals (id, name, url, portal_type, requires_login, check_frequency, created_at, last_scan_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.URL, string(p.Type), boolToInt(p.RequiresLogin), p.CheckFrequency, p.CreatedAt, p.LastScanAt)
	if err != nil {
		return fmt.Errorf("failed to create portal: %w", err)
	}
	return nil
}

// SetPortalCredentials stores or replaces a portal's login credentials.
func (s *SQLiteStore) SetPortalCredentials(ctx context.Context, c *model.PortalCredentials) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portal_credentials (portal_id, username, password, login_url, api_key)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(portal_id) DO UPDATE SET
		   username = excluded.username,
		   password = excluded.password,
		   login_url = excluded.login_url,
		   api_key = excluded.api_key`,
		c.PortalID, c.Username, c.Password, c.LoginURL, c.APIKey)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPortal(ctx context.Context, id string) (*model.Portal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, portal_type, requires_login, check_frequency, created_at, last_scan_at
		 FROM portals WHERE id = ?`, id)
	return scanPortal(row)
}

func (s *SQLiteStore) GetPortalWithCredentials(ctx context.Context, id string) (*model.Portal, *model.PortalCredentials, error) {
	p, err := s.GetPortal(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	c := &model.PortalCredentials{PortalID: id}
	err = s.db.QueryRowContext(ctx,
		`SELECT username, password, login_url, api_key FROM portal_credentials WHERE portal_id = ?`, id).
		Scan(&c.Username, &c.Password, &c.LoginURL, &c.APIKey)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return p, c, nil
}

func (s *SQLiteStore) ListPortals(ctx context.Context) ([]model.Portal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, portal_type, requires_login, check_frequency, created_at, last_scan_at
		 FROM portals ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list portals: %w", err)
	}
	defer rows.Close()

	var out []model.Portal
	for rows.Next() {
		var p model.Portal
		var portalType string
		var requiresLogin int
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &portalType, &requiresLogin, &p.CheckFrequency, &p.CreatedAt, &p.LastScanAt); err != nil {
			return nil, err
		}
		p.Type = model.PortalType(portalType)
		p.RequiresLogin = requiresLogin != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TouchPortalScan(ctx context.Context, id string, at int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE portals SET last_scan_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch portal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- work items ---

func (s *SQLiteStore) CreateWorkItem(ctx context.Context, item *model.WorkItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = model.WorkPending
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_items (id, portal_id, scan_id, sequence_id, task_type, status, result, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.PortalID, item.ScanID, item.SequenceID, item.TaskType,
		string(item.Status), item.Result, item.Error, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create work item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteWorkItem(ctx context.Context, id, result string) error {
	return s.finishWorkItem(ctx, id, model.WorkCompleted, result, "")
}

func (s *SQLiteStore) FailWorkItem(ctx context.Context, id, errMsg string) error {
	return s.finishWorkItem(ctx, id, model.WorkFailed, "", errMsg)
}

func (s *SQLiteStore) finishWorkItem(ctx context.Context, id string, status model.WorkItemStatus, result, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), result, errMsg, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update work item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error) {
	var item model.WorkItem
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, portal_id, scan_id, sequence_id, task_type, status, result, error, created_at, updated_at
		 FROM work_items WHERE id = ?`, id).
		Scan(&item.ID, &item.PortalID, &item.ScanID, &item.SequenceID, &item.TaskType,
			&status, &item.Result, &item.Error, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load work item: %w", err)
	}
	item.Status = model.WorkItemStatus(status)
	return &item, nil
}

// --- scans ---

func (s *SQLiteStore) SaveScanSummary(ctx context.Context, sum *model.ScanSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (scan_id, portal_id, portal_name, status, started_at, completed_at, discovered_count, error_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(scan_id) DO UPDATE SET
		   status = excluded.status,
		   completed_at = excluded.completed_at,
		   discovered_count = excluded.discovered_count,
		   error_count = excluded.error_count`,
		sum.ScanID, sum.PortalID, sum.PortalName, string(sum.Status),
		sum.StartedAt.Unix(), sum.CompletedAt.Unix(), sum.DiscoveredCount, sum.ErrorCount)
	if err != nil {
		return fmt.Errorf("failed to save scan summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetScan(ctx context.Context, scanID string) (*model.ScanSummary, error) {
	var sum model.ScanSummary
	var status string
	var startedAt, completedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT scan_id, portal_id, portal_name, status, started_at, completed_at, discovered_count, error_count
		 FROM scans WHERE scan_id = ?`, scanID).
		Scan(&sum.ScanID, &sum.PortalID, &sum.PortalName, &status,
			&startedAt, &completedAt, &sum.DiscoveredCount, &sum.ErrorCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scan: %w", err)
	}
	sum.Status = model.ScanStatus(status)
	sum.StartedAt = time.Unix(startedAt, 0).UTC()
	sum.CompletedAt = time.Unix(completedAt, 0).UTC()
	return &sum, nil
}

// ListScans returns the most recent scan summaries, newest first. A portalID
// of "" returns scans across all portals.
func (s *SQLiteStore) ListScans(ctx context.Context, portalID string, limit int) ([]model.ScanSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT scan_id, portal_id, portal_name, status, started_at, completed_at, discovered_count, error_count
		 FROM scans`
	args := []any{}
	if portalID != "" {
		query += ` WHERE portal_id = ?`
		args = append(args, portalID)
	}
	query += ` ORDER BY started_at DESC, scan_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var out []model.ScanSummary
	for rows.Next() {
		var sum model.ScanSummary
		var status string
		var startedAt, completedAt int64
		if err := rows.Scan(&sum.ScanID, &sum.PortalID, &sum.PortalName, &status,
			&startedAt, &completedAt, &sum.DiscoveredCount, &sum.ErrorCount); err != nil {
			return nil, err
		}
		sum.Status = model.ScanStatus(status)
		sum.StartedAt = time.Unix(startedAt, 0).UTC()
		sum.CompletedAt = time.Unix(completedAt, 0).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveScanEvents(ctx context.Context, scanID string, events []model.ScanEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_events WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("failed to clear scan events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scan_events (scan_id, seq, event_type, ts, message, data) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, ev := range events {
		var data string
		if ev.Data != nil {
			b, err := json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("failed to encode event data: %w", err)
			}
			data = string(b)
		}
		if _, err := stmt.ExecContext(ctx, scanID, i, string(ev.Type), ev.Timestamp.UnixMilli(), ev.Message, data); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetScanEvents(ctx context.Context, scanID string) ([]model.ScanEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, ts, message, data FROM scan_events WHERE scan_id = ? ORDER BY seq`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan events: %w", err)
	}
	defer rows.Close()

	var out []model.ScanEvent
	for rows.Next() {
		var ev model.ScanEvent
		var evType, data string
		var ts int64
		if err := rows.Scan(&evType, &ts, &ev.Message, &data); err != nil {
			return nil, err
		}
		ev.Type = model.ScanEventType(evType)
		ev.Timestamp = time.UnixMilli(ts).UTC()
		if data != "" {
			var decoded any
			if err := json.Unmarshal([]byte(data), &decoded); err == nil {
				ev.Data = decoded
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- opportunities ---

// SaveOpportunities upserts discovered opportunities, keyed by normalized
// title plus canonical URL, and returns how many were new.
func (s *SQLiteStore) SaveOpportunities(ctx context.Context, portalID string, opps []model.Opportunity) (int, error) {
	if len(opps) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	inserted := 0
	for _, opp := range opps {
		key := utils.OpportunityKey(opp.Title, opp.SourceURL)
		var deadline any
		if opp.Deadline != nil {
			deadline = opp.Deadline.Unix()
		}

		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM opportunities WHERE portal_id = ? AND opp_key = ?`, portalID, key).Scan(&exists)
		isNew := errors.Is(err, sql.ErrNoRows)
		if err != nil && !isNew {
			return 0, fmt.Errorf("failed to check opportunity: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO opportunities
			   (portal_id, opp_key, title, description, agency, deadline, estimated_value,
			    source_url, category, notice_id, confidence, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(portal_id, opp_key) DO UPDATE SET
			   title = excluded.title,
			   description = excluded.description,
			   agency = excluded.agency,
			   deadline = excluded.deadline,
			   estimated_value = excluded.estimated_value,
			   source_url = excluded.source_url,
			   category = excluded.category,
			   notice_id = excluded.notice_id,
			   confidence = excluded.confidence,
			   last_seen = excluded.last_seen`,
			portalID, key, opp.Title, opp.Description, opp.Agency, deadline, opp.EstimatedValue,
			opp.SourceURL, opp.Category, opp.NoticeID, opp.Confidence, now, now)
		if err != nil {
			return 0, fmt.Errorf("failed to save opportunity: %w", err)
		}
		if isNew {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListOpportunities returns stored opportunities for a portal, highest
// confidence first.
func (s *SQLiteStore) ListOpportunities(ctx context.Context, portalID string, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT title, description, agency, deadline, estimated_value, source_url, category, notice_id, confidence
		 FROM opportunities WHERE portal_id = ?
		 ORDER BY confidence DESC, title LIMIT ?`, portalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		var opp model.Opportunity
		var deadline sql.NullInt64
		if err := rows.Scan(&opp.Title, &opp.Description, &opp.Agency, &deadline, &opp.EstimatedValue,
			&opp.SourceURL, &opp.Category, &opp.NoticeID, &opp.Confidence); err != nil {
			return nil, err
		}
		if deadline.Valid {
			t := time.Unix(deadline.Int64, 0).UTC()
			opp.Deadline = &t
		}
		out = append(out, opp)
	}
	return out, rows.Err()
}

// --- fingerprints ---

func (s *SQLiteStore) GetFingerprint(ctx context.Context, portalID string) (string, error) {
	var fp string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM fingerprints WHERE portal_id = ?`, portalID).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load fingerprint: %w", err)
	}
	return fp, nil
}

func (s *SQLiteStore) SaveFingerprint(ctx context.Context, portalID, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (portal_id, fingerprint, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(portal_id) DO UPDATE SET
		   fingerprint = excluded.fingerprint,
		   updated_at = excluded.updated_at`,
		portalID, fingerprint, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save fingerprint: %w", err)
	}
	return nil
}

// --- helpers ---

func scanPortal(row *sql.Row) (*model.Portal, error) {
	var p model.Portal
	var portalType string
	var requiresLogin int
	err := row.Scan(&p.ID, &p.Name, &p.URL, &portalType, &requiresLogin, &p.CheckFrequency, &p.CreatedAt, &p.LastScanAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portal: %w", err)
	}
	p.Type = model.PortalType(portalType)
	p.RequiresLogin = requiresLogin != 0
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
