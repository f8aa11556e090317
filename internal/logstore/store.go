// SPDX-License-Identifier: MIT

// Package logstore persists capture events in SQLite and serves the
// filtered, sorted and paginated reads behind the log query API.
package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	platformnet "github.com/ar27111994/webhook-debugger-logger-sub001/internal/platform/net"
)

// Store provides SQLite persistence for capture events.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Options configures the store.
type Options struct {
	Path string
	// FixedMemoryMB bounds the SQLite page cache when positive.
	FixedMemoryMB int
}

// Open initializes the SQLite store and runs migrations. WAL mode and a
// busy timeout keep concurrent reader/writer traffic from tripping over
// "database locked" errors.
func Open(opts Options) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", opts.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if opts.FixedMemoryMB > 0 {
		// Negative cache_size is interpreted by SQLite as KiB.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA cache_size = -%d", opts.FixedMemoryMB*1024)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply cache_size: %w", err)
		}
	}

	s := &Store{db: db, log: log.WithComponent("logstore")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s.log.Info().
		Str("event", "logstore.open").
		Str("path", opts.Path).
		Msg("log repository ready")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS logs (
		id TEXT PRIMARY KEY,
		webhook_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		request_url TEXT NOT NULL DEFAULT '',
		headers TEXT,
		query TEXT,
		body TEXT,
		content_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		processing_time INTEGER NOT NULL DEFAULT 0,
		status_code INTEGER NOT NULL DEFAULT 0,
		remote_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		signature_valid INTEGER,
		signature_provider TEXT NOT NULL DEFAULT '',
		signature_error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		target_host TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_logs_ts_id ON logs(timestamp DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_logs_webhook ON logs(webhook_id);
	CREATE INDEX IF NOT EXISTS idx_logs_type ON logs(type);
	`

	_, err := s.db.Exec(schema)
	return err
}

const logColumns = "id, webhook_id, timestamp, type, method, request_url, " +
	"headers, query, body, content_type, size, processing_time, status_code, " +
	"remote_ip, user_agent, request_id, signature_valid, signature_provider, " +
	"signature_error, attempts, last_error, target_host"

const insertSQL = "INSERT INTO logs (" + logColumns + ") VALUES " +
	"(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

// columnByField maps the API field names to their columns. It doubles as
// the allow-list for projections.
var columnByField = map[string]string{
	"id":                "id",
	"webhookId":         "webhook_id",
	"timestamp":         "timestamp",
	"type":              "type",
	"method":            "method",
	"requestUrl":        "request_url",
	"headers":           "headers",
	"query":             "query",
	"body":              "body",
	"contentType":       "content_type",
	"size":              "size",
	"processingTime":    "processing_time",
	"statusCode":        "status_code",
	"remoteIp":          "remote_ip",
	"userAgent":         "user_agent",
	"requestId":         "request_id",
	"signatureValid":    "signature_valid",
	"signatureProvider": "signature_provider",
	"signatureError":    "signature_error",
	"attempts":          "attempts",
	"lastError":         "last_error",
	"targetHost":        "target_host",
}

// InsertLog writes a single capture event.
func (s *Store) InsertLog(ctx context.Context, e capture.Event) error {
	args, err := insertArgs(e)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertSQL, args...); err != nil {
		return fmt.Errorf("insert log %s: %w", e.ID, err)
	}
	return nil
}

// BatchInsertLogs writes the events in one transaction. An empty slice is a
// no-op.
func (s *Store) BatchInsertLogs(ctx context.Context, events []capture.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		args, err := insertArgs(e)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert log %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// FindLogs returns one offset/limit page plus the total match count. A CIDR
// remoteIp filter switches to batched scans refined in Go.
func (s *Store) FindLogs(ctx context.Context, f Filter) ([]capture.Event, int, error) {
	where, args := buildWhere(f)
	order := buildOrder(f.Sort)
	limit := f.Limit
	if limit <= 0 {
		limit = MaxItemsForBatch
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	if cidr := f.cidr(); cidr != "" {
		items := make([]capture.Event, 0, limit)
		matched := 0
		err := s.scanBatches(ctx, where, args, order, []string{cidr}, func(e capture.Event) bool {
			if matched >= offset && len(items) < limit {
				items = append(items, e)
			}
			matched++
			return true
		})
		if err != nil {
			return nil, 0, err
		}
		return items, matched, nil
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}

	query := "SELECT " + logColumns + " FROM logs" + where + order + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(append([]any{}, args...), limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]capture.Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CursorPage is one page of cursor-paginated results. NextCursor is empty
// on the last page.
type CursorPage struct {
	Items      []capture.Event
	NextCursor string
}

// FindLogsCursor returns one cursor page ordered (timestamp DESC, id DESC).
// A malformed cursor falls back to the first page.
func (s *Store) FindLogsCursor(ctx context.Context, f Filter) (CursorPage, error) {
	where, args := buildWhere(f)
	if ts, id, ok := decodeCursor(f.Cursor); ok {
		pred := "(timestamp < ? OR (timestamp = ? AND id < ?))"
		if where == "" {
			where = " WHERE " + pred
		} else {
			where += " AND " + pred
		}
		args = append(args, ts, ts, id)
	}
	order := " ORDER BY timestamp DESC, id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = MaxItemsForBatch
	}

	var items []capture.Event
	if cidr := f.cidr(); cidr != "" {
		err := s.scanBatches(ctx, where, args, order, []string{cidr}, func(e capture.Event) bool {
			items = append(items, e)
			return len(items) <= limit
		})
		if err != nil {
			return CursorPage{}, err
		}
	} else {
		query := "SELECT " + logColumns + " FROM logs" + where + order + " LIMIT ?"
		rows, err := s.db.QueryContext(ctx, query, append(append([]any{}, args...), limit+1)...)
		if err != nil {
			return CursorPage{}, fmt.Errorf("query logs: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			e, err := scanEvent(rows.Scan)
			if err != nil {
				return CursorPage{}, err
			}
			items = append(items, e)
		}
		if err := rows.Err(); err != nil {
			return CursorPage{}, err
		}
	}

	page := CursorPage{}
	if len(items) > limit {
		items = items[:limit]
		last := items[limit-1]
		page.NextCursor = EncodeCursor(last.Timestamp, last.ID)
	}
	page.Items = items
	return page, nil
}

// GetLogByID returns the full entry, or nil when no row matches.
func (s *Store) GetLogByID(ctx context.Context, id string) (*capture.Event, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+logColumns+" FROM logs WHERE id = ?", id)
	e, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetLogFields returns a projection of the entry keyed by API field name.
// Unknown fields are dropped; an empty list selects everything. Returns
// (nil, nil) when no row matches.
func (s *Store) GetLogFields(ctx context.Context, id string, fields []string) (map[string]any, error) {
	var cols, names []string
	for _, f := range fields {
		if col, ok := columnByField[f]; ok {
			cols = append(cols, col)
			names = append(names, f)
		}
	}
	if len(cols) == 0 {
		e, err := s.GetLogByID(ctx, id)
		if err != nil || e == nil {
			return nil, err
		}
		return eventToMap(*e)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+strings.Join(cols, ", ")+" FROM logs WHERE id = ?", id)

	holders := make([]any, len(cols))
	for i, col := range cols {
		switch col {
		case "timestamp", "size", "processing_time", "status_code", "attempts", "signature_valid":
			holders[i] = new(sql.NullInt64)
		default:
			holders[i] = new(sql.NullString)
		}
	}
	if err := row.Scan(holders...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	out := make(map[string]any, len(names))
	for i, name := range names {
		switch h := holders[i].(type) {
		case *sql.NullInt64:
			if !h.Valid {
				// Tri-state signature outcome: absent stays absent.
				continue
			}
			switch names[i] {
			case "signatureValid":
				out[name] = h.Int64 != 0
			case "statusCode", "attempts":
				out[name] = int(h.Int64)
			default:
				out[name] = h.Int64
			}
		case *sql.NullString:
			if !h.Valid {
				continue
			}
			switch names[i] {
			case "headers", "query", "body":
				out[name] = decodeJSONValue(h.String)
			default:
				out[name] = h.String
			}
		}
	}
	return out, nil
}

// DeleteLogsByWebhookID removes every entry owned by the webhook and
// reports how many rows went away.
func (s *Store) DeleteLogsByWebhookID(ctx context.Context, webhookID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM logs WHERE webhook_id = ?", webhookID)
	if err != nil {
		return 0, fmt.Errorf("delete logs for %s: %w", webhookID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// FindOffloadedPayloads returns the payload-store keys referenced by the
// webhook's offloaded bodies. Non-JSON bodies and bodies that are not
// offload descriptors are skipped.
func (s *Store) FindOffloadedPayloads(ctx context.Context, webhookID string) ([]string, error) {
	query := `SELECT json_extract(body, '$.key') FROM logs
	WHERE webhook_id = ? AND body IS NOT NULL AND json_valid(body)
	AND json_extract(body, '$.data') IN (?, ?)
	ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, webhookID,
		capture.OffloadMarkerSync, capture.OffloadMarkerStream)
	if err != nil {
		return nil, fmt.Errorf("scan offloaded payloads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key sql.NullString
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if key.Valid && key.String != "" {
			keys = append(keys, key.String)
		}
	}
	return keys, rows.Err()
}

// CountLogs reports the total number of stored entries.
func (s *Store) CountLogs(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs").Scan(&n)
	return n, err
}

// scanBatches walks matching rows page by page, refining each row against
// the CIDR ranges in Go. fn returns false to stop early.
func (s *Store) scanBatches(ctx context.Context, where string, args []any, order string, ranges []string, fn func(capture.Event) bool) error {
	query := "SELECT " + logColumns + " FROM logs" + where + order + " LIMIT ? OFFSET ?"
	for offset := 0; ; offset += MaxItemsForBatch {
		rows, err := s.db.QueryContext(ctx, query, append(append([]any{}, args...), MaxItemsForBatch, offset)...)
		if err != nil {
			return fmt.Errorf("query logs batch: %w", err)
		}

		n := 0
		for rows.Next() {
			e, err := scanEvent(rows.Scan)
			if err != nil {
				_ = rows.Close()
				return err
			}
			n++
			if !platformnet.CheckIPInRanges(e.RemoteIP, ranges) {
				continue
			}
			if !fn(e) {
				_ = rows.Close()
				return nil
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return err
		}
		if n < MaxItemsForBatch {
			return nil
		}
	}
}

// insertArgs renders an event as the insert parameter list.
func insertArgs(e capture.Event) ([]any, error) {
	headers, err := encodeJSONMap(e.Headers)
	if err != nil {
		return nil, fmt.Errorf("encode headers for %s: %w", e.ID, err)
	}
	query, err := encodeJSONMap(e.Query)
	if err != nil {
		return nil, fmt.Errorf("encode query for %s: %w", e.ID, err)
	}
	body, err := encodeBody(e.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body for %s: %w", e.ID, err)
	}

	var sigValid any
	if e.SignatureValid != nil {
		if *e.SignatureValid {
			sigValid = 1
		} else {
			sigValid = 0
		}
	}

	return []any{
		e.ID, e.WebhookID, e.Timestamp, e.Type, e.Method, e.RequestURL,
		headers, query, body, e.ContentType, e.Size, e.ProcessingTime,
		e.StatusCode, e.RemoteIP, e.UserAgent, e.RequestID, sigValid,
		e.SignatureProvider, e.SignatureError, e.Attempts, e.LastError,
		e.TargetHost,
	}, nil
}

// encodeJSONMap marshals a header/query map, storing NULL for nil maps.
func encodeJSONMap(m map[string]string) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// encodeBody stores strings raw and marshals structured values. Empty
// bodies are stored as NULL.
func encodeBody(body any) (any, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return string(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
}

// scanEvent reads one full row. The scan argument order matches logColumns.
func scanEvent(scan func(...any) error) (capture.Event, error) {
	var e capture.Event
	var headers, query, body sql.NullString
	var sigValid sql.NullInt64

	err := scan(
		&e.ID, &e.WebhookID, &e.Timestamp, &e.Type, &e.Method, &e.RequestURL,
		&headers, &query, &body, &e.ContentType, &e.Size, &e.ProcessingTime,
		&e.StatusCode, &e.RemoteIP, &e.UserAgent, &e.RequestID, &sigValid,
		&e.SignatureProvider, &e.SignatureError, &e.Attempts, &e.LastError,
		&e.TargetHost,
	)
	if err != nil {
		return capture.Event{}, err
	}

	if headers.Valid {
		e.Headers = decodeStringMap(headers.String)
	}
	if query.Valid {
		e.Query = decodeStringMap(query.String)
	}
	if body.Valid {
		e.Body = decodeJSONValue(body.String)
	}
	if sigValid.Valid {
		b := sigValid.Int64 != 0
		e.SignatureValid = &b
	}
	return e, nil
}

func decodeStringMap(raw string) map[string]string {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// decodeJSONValue parses stored JSON, falling back to the raw string when
// the column holds plain text.
func decodeJSONValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// eventToMap renders an event as a field-name keyed map, honoring the JSON
// shape of the entry.
func eventToMap(e capture.Event) (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
