package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// A single connection serializes writers and keeps transactions simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS leads (
			lead_id       TEXT PRIMARY KEY,
			primary_phone TEXT NOT NULL UNIQUE,
			primary_email TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS calls (
			call_id       TEXT PRIMARY KEY,
			lead_id       TEXT NOT NULL REFERENCES leads(lead_id),
			from_phone    TEXT NOT NULL,
			direction     TEXT NOT NULL DEFAULT 'inbound',
			language_pref TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			current_state TEXT NOT NULL,
			source        TEXT NOT NULL DEFAULT '',
			started_at    TEXT NOT NULL,
			ended_at      TEXT
		);

		CREATE TABLE IF NOT EXISTS lead_snapshot (
			lead_id               TEXT PRIMARY KEY REFERENCES leads(lead_id),
			language              TEXT NOT NULL DEFAULT 'unknown',
			city_text             TEXT NOT NULL DEFAULT '',
			region_value          TEXT NOT NULL DEFAULT 'unknown',
			region_confirmed      INTEGER NOT NULL DEFAULT 0,
			budget_band           TEXT NOT NULL DEFAULT 'unknown',
			timeline_bucket       TEXT NOT NULL DEFAULT 'unknown',
			room_size_text        TEXT NOT NULL DEFAULT '',
			email                 TEXT NOT NULL DEFAULT '',
			qualification_status  TEXT NOT NULL DEFAULT 'unknown',
			qualification_reasons TEXT NOT NULL DEFAULT '[]',
			updated_at            TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS events (
			event_id     INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id      TEXT NOT NULL REFERENCES calls(call_id),
			type         TEXT NOT NULL,
			payload_json TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS artifacts (
			artifact_id  INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id      TEXT NOT NULL REFERENCES calls(call_id),
			type         TEXT NOT NULL,
			content_text TEXT NOT NULL DEFAULT '',
			content_json TEXT NOT NULL DEFAULT '{}',
			version      INTEGER NOT NULL DEFAULT 1,
			created_at   TEXT NOT NULL,
			UNIQUE(call_id, type)
		);

		CREATE TABLE IF NOT EXISTS crm_outbox (
			outbox_id       INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id         TEXT NOT NULL,
			action          TEXT NOT NULL,
			payload_json    TEXT NOT NULL DEFAULT '{}',
			idempotency_key TEXT NOT NULL UNIQUE,
			status          TEXT NOT NULL DEFAULT 'pending',
			attempts        INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS funnel_hits (
			call_id    TEXT NOT NULL,
			state      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(call_id, state)
		);

		CREATE INDEX IF NOT EXISTS idx_calls_lead ON calls(lead_id);
		CREATE INDEX IF NOT EXISTS idx_calls_status ON calls(status);
		CREATE INDEX IF NOT EXISTS idx_events_call ON events(call_id);
		CREATE INDEX IF NOT EXISTS idx_outbox_status ON crm_outbox(status);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCall(ctx context.Context, lead *protocol.Lead, call *protocol.Call, events []protocol.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: create call: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO leads (lead_id, primary_phone, primary_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(lead_id) DO UPDATE SET updated_at=excluded.updated_at
	`, lead.ID, lead.PrimaryPhone, lead.PrimaryEmail, formatTime(lead.CreatedAt), formatTime(lead.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create call: lead: %w", err)
	}

	if err := insertSnapshotIfMissing(ctx, tx, protocol.NewSnapshot(lead.ID, call.StartedAt)); err != nil {
		return fmt.Errorf("store: create call: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO calls (call_id, lead_id, from_phone, direction, language_pref, status, current_state, source, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, call.ID, call.LeadID, call.FromPhone, call.Direction, call.LanguagePref, string(call.Status),
		string(call.CurrentState), call.Source, formatTime(call.StartedAt), formatTimePtr(call.EndedAt))
	if err != nil {
		return fmt.Errorf("store: create call: insert: %w", err)
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return fmt.Errorf("store: create call: %w", err)
	}
	if err := insertFunnelHit(ctx, tx, call.ID, call.CurrentState, call.StartedAt); err != nil {
		return fmt.Errorf("store: create call: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: create call: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CommitTurn(ctx context.Context, call *protocol.Call, snap *protocol.LeadSnapshot, events []protocol.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: commit turn: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE calls SET language_pref = ?, status = ?, current_state = ?, ended_at = ?
		WHERE call_id = ?
	`, call.LanguagePref, string(call.Status), string(call.CurrentState), formatTimePtr(call.EndedAt), call.ID)
	if err != nil {
		return fmt.Errorf("store: commit turn: call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: commit turn: call %q: %w", call.ID, ErrNotFound)
	}

	if snap != nil {
		if err := upsertSnapshot(ctx, tx, snap); err != nil {
			return fmt.Errorf("store: commit turn: %w", err)
		}
		if snap.Email != "" {
			_, err := tx.ExecContext(ctx, `UPDATE leads SET primary_email = ?, updated_at = ? WHERE lead_id = ?`,
				snap.Email, formatTime(snap.UpdatedAt), snap.LeadID)
			if err != nil {
				return fmt.Errorf("store: commit turn: lead email: %w", err)
			}
		}
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return fmt.Errorf("store: commit turn: %w", err)
	}
	at := time.Now().UTC()
	if len(events) > 0 {
		at = events[len(events)-1].CreatedAt
	}
	if err := insertFunnelHit(ctx, tx, call.ID, call.CurrentState, at); err != nil {
		return fmt.Errorf("store: commit turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit turn: commit: %w", err)
	}
	return nil
}

const callColumns = `call_id, lead_id, from_phone, direction, language_pref, status, current_state, source, started_at, ended_at`

func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*protocol.Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_id = ?`, id)
	c, err := scanCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: call %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get call: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCalls(ctx context.Context, filter CallFilter) ([]*protocol.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE 1=1`
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.LeadID != "" {
		query += " AND lead_id = ?"
		args = append(args, filter.LeadID)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	query += " ORDER BY started_at DESC, call_id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list calls: %w", err)
	}
	defer rows.Close()

	var calls []*protocol.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list calls: scan: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*protocol.Lead, error) {
	return s.getLead(ctx, `lead_id = ?`, id)
}

func (s *SQLiteStore) FindLeadByPhone(ctx context.Context, phone string) (*protocol.Lead, error) {
	return s.getLead(ctx, `primary_phone = ?`, phone)
}

func (s *SQLiteStore) getLead(ctx context.Context, where string, arg string) (*protocol.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT lead_id, primary_phone, primary_email, created_at, updated_at FROM leads WHERE `+where, arg)
	var l protocol.Lead
	var created, updated string
	if err := row.Scan(&l.ID, &l.PrimaryPhone, &l.PrimaryEmail, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: lead %q: %w", arg, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get lead: %w", err)
	}
	l.CreatedAt = parseTime(created)
	l.UpdatedAt = parseTime(updated)
	return &l, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, leadID string) (*protocol.LeadSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT lead_id, language, city_text, region_value, region_confirmed, budget_band, timeline_bucket,
			room_size_text, email, qualification_status, qualification_reasons, updated_at
		FROM lead_snapshot WHERE lead_id = ?`, leadID)

	var snap protocol.LeadSnapshot
	var language, region, budget, timeline, status, reasonsJSON, updated string
	var confirmed int
	err := row.Scan(&snap.LeadID, &language, &snap.CityText, &region, &confirmed, &budget, &timeline,
		&snap.RoomSizeText, &snap.Email, &status, &reasonsJSON, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: snapshot %q: %w", leadID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get snapshot: %w", err)
	}
	snap.Language = protocol.Language(language)
	snap.RegionValue = protocol.Region(region)
	snap.RegionConfirmed = confirmed != 0
	snap.BudgetBand = protocol.BudgetBand(budget)
	snap.TimelineBucket = protocol.TimelineBucket(timeline)
	snap.QualificationStatus = protocol.QualificationStatus(status)
	if err := json.Unmarshal([]byte(reasonsJSON), &snap.QualificationReasons); err != nil {
		return nil, fmt.Errorf("store: snapshot %q: reasons: %w", leadID, err)
	}
	if snap.QualificationReasons == nil {
		snap.QualificationReasons = []protocol.QualificationReason{}
	}
	snap.UpdatedAt = parseTime(updated)
	return &snap, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, callID string) ([]protocol.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, call_id, type, payload_json, created_at FROM events WHERE call_id = ? ORDER BY event_id`, callID)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var events []protocol.Event
	for rows.Next() {
		var e protocol.Event
		var typ, payload, created string
		if err := rows.Scan(&e.ID, &e.CallID, &typ, &payload, &created); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.Type = protocol.EventType(typ)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("store: event %d: payload: %w", e.ID, err)
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, a *protocol.Artifact, outbox []protocol.OutboxEntry) (bool, error) {
	content, err := json.Marshal(a.ContentJSON)
	if err != nil {
		return false, fmt.Errorf("store: save summary: encode: %w", err)
	}
	version := a.Version
	if version == 0 {
		version = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: save summary: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (call_id, type, content_text, content_json, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id, type) DO NOTHING
	`, a.CallID, a.Type, a.ContentText, string(content), version, formatTime(a.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("store: save summary: artifact: %w", err)
	}
	created, _ := res.RowsAffected()

	for _, e := range outbox {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return false, fmt.Errorf("store: save summary: outbox %s: %w", e.IdempotencyKey, err)
		}
		status := e.Status
		if status == "" {
			status = protocol.OutboxPending
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO crm_outbox (call_id, action, payload_json, idempotency_key, status, attempts, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)
			ON CONFLICT(idempotency_key) DO NOTHING
		`, e.CallID, e.Action, string(payload), e.IdempotencyKey, string(status),
			formatTime(e.CreatedAt), formatTime(e.CreatedAt))
		if err != nil {
			return false, fmt.Errorf("store: save summary: outbox %s: %w", e.IdempotencyKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: save summary: commit: %w", err)
	}
	return created > 0, nil
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, callID, typ string) (*protocol.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT artifact_id, call_id, type, content_text, content_json, version, created_at
		FROM artifacts WHERE call_id = ? AND type = ?`, callID, typ)
	var a protocol.Artifact
	var content, created string
	if err := row.Scan(&a.ID, &a.CallID, &a.Type, &a.ContentText, &content, &a.Version, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: artifact %s/%s: %w", callID, typ, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get artifact: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &a.ContentJSON); err != nil {
		return nil, fmt.Errorf("store: artifact %s/%s: content: %w", callID, typ, err)
	}
	a.CreatedAt = parseTime(created)
	return &a, nil
}

func (s *SQLiteStore) ListUnsummarized(ctx context.Context, limit int) ([]*protocol.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls c
		WHERE c.status != ? AND NOT EXISTS (
			SELECT 1 FROM artifacts a WHERE a.call_id = c.call_id AND a.type = ?
		)
		ORDER BY c.started_at, c.call_id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, string(protocol.CallInProgress), protocol.ArtifactSummary)
	if err != nil {
		return nil, fmt.Errorf("store: list unsummarized: %w", err)
	}
	defer rows.Close()

	var calls []*protocol.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list unsummarized: scan: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

const outboxColumns = `outbox_id, call_id, action, payload_json, idempotency_key, status, attempts, last_error, created_at, updated_at`

func (s *SQLiteStore) PendingOutbox(ctx context.Context, limit int, actions ...string) ([]protocol.OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM crm_outbox WHERE status = ?`
	args := []any{string(protocol.OutboxPending)}
	if len(actions) > 0 {
		query += " AND action IN (?" + strings.Repeat(", ?", len(actions)-1) + ")"
		for _, a := range actions {
			args = append(args, a)
		}
	}
	query += " ORDER BY outbox_id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryOutbox(ctx, query, args...)
}

func (s *SQLiteStore) ListOutbox(ctx context.Context, callID string) ([]protocol.OutboxEntry, error) {
	return s.queryOutbox(ctx, `SELECT `+outboxColumns+` FROM crm_outbox WHERE call_id = ? ORDER BY outbox_id`, callID)
}

func (s *SQLiteStore) queryOutbox(ctx context.Context, query string, args ...any) ([]protocol.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: outbox: %w", err)
	}
	defer rows.Close()

	var entries []protocol.OutboxEntry
	for rows.Next() {
		var e protocol.OutboxEntry
		var payload, status, created, updated string
		if err := rows.Scan(&e.ID, &e.CallID, &e.Action, &payload, &e.IdempotencyKey, &status,
			&e.Attempts, &e.LastError, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: outbox: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("store: outbox %d: payload: %w", e.ID, err)
		}
		e.Status = protocol.OutboxStatus(status)
		e.CreatedAt = parseTime(created)
		e.UpdatedAt = parseTime(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) MarkOutbox(ctx context.Context, id int64, status protocol.OutboxStatus, attempts int, lastErr string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE crm_outbox SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE outbox_id = ?`,
		string(status), attempts, lastErr, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("store: mark outbox: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: outbox %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) FunnelCounts(ctx context.Context) (map[protocol.CallState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(DISTINCT call_id) FROM funnel_hits GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("store: funnel counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[protocol.CallState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("store: funnel counts: scan: %w", err)
		}
		counts[protocol.CallState(state)] = n
	}
	return counts, rows.Err()
}

// --- helpers ---

func insertSnapshotIfMissing(ctx context.Context, tx *sql.Tx, snap *protocol.LeadSnapshot) error {
	reasons, _ := json.Marshal(snap.QualificationReasons)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lead_snapshot (lead_id, language, city_text, region_value, region_confirmed, budget_band,
			timeline_bucket, room_size_text, email, qualification_status, qualification_reasons, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lead_id) DO NOTHING
	`, snapshotArgs(snap, reasons)...)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

func upsertSnapshot(ctx context.Context, tx *sql.Tx, snap *protocol.LeadSnapshot) error {
	reasons, _ := json.Marshal(snap.QualificationReasons)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lead_snapshot (lead_id, language, city_text, region_value, region_confirmed, budget_band,
			timeline_bucket, room_size_text, email, qualification_status, qualification_reasons, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lead_id) DO UPDATE SET
			language=excluded.language, city_text=excluded.city_text, region_value=excluded.region_value,
			region_confirmed=excluded.region_confirmed, budget_band=excluded.budget_band,
			timeline_bucket=excluded.timeline_bucket, room_size_text=excluded.room_size_text,
			email=excluded.email, qualification_status=excluded.qualification_status,
			qualification_reasons=excluded.qualification_reasons, updated_at=excluded.updated_at
	`, snapshotArgs(snap, reasons)...)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

func snapshotArgs(snap *protocol.LeadSnapshot, reasons []byte) []any {
	if string(reasons) == "null" {
		reasons = []byte("[]")
	}
	confirmed := 0
	if snap.RegionConfirmed {
		confirmed = 1
	}
	return []any{
		snap.LeadID, string(snap.Language), snap.CityText, string(snap.RegionValue), confirmed,
		string(snap.BudgetBand), string(snap.TimelineBucket), snap.RoomSizeText, snap.Email,
		string(snap.QualificationStatus), string(reasons), formatTime(snap.UpdatedAt),
	}
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []protocol.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("event %s: %w", e.Type, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO events (call_id, type, payload_json, created_at) VALUES (?, ?, ?, ?)`,
			e.CallID, string(e.Type), string(payload), formatTime(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("event %s: %w", e.Type, err)
		}
	}
	return nil
}

func insertFunnelHit(ctx context.Context, tx *sql.Tx, callID string, state protocol.CallState, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO funnel_hits (call_id, state, created_at) VALUES (?, ?, ?) ON CONFLICT(call_id, state) DO NOTHING`,
		callID, string(state), formatTime(at))
	if err != nil {
		return fmt.Errorf("funnel hit: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCall(s scannable) (*protocol.Call, error) {
	var c protocol.Call
	var status, state, started string
	var ended *string
	err := s.Scan(&c.ID, &c.LeadID, &c.FromPhone, &c.Direction, &c.LanguagePref, &status, &state,
		&c.Source, &started, &ended)
	if err != nil {
		return nil, err
	}
	c.Status = protocol.CallStatus(status)
	c.CurrentState = protocol.CallState(state)
	c.StartedAt = parseTime(started)
	if ended != nil {
		t := parseTime(*ended)
		c.EndedAt = &t
	}
	return &c, nil
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
