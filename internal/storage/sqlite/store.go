// Package sqlite provides SQLite-backed ledger storage.
//
// A single SQLite file holds both token records and the event journal
// so every transition and its event commit share the same database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/sealbox/internal/events"
	sqlitemigrate "github.com/louisbranch/sealbox/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/sealbox/internal/storage"
	"github.com/louisbranch/sealbox/internal/storage/sqlite/migrations"
	"github.com/louisbranch/sealbox/internal/token"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements ledger persistence over SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a ledger SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.Apply(sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all
// startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateToken persists a new record and returns its assigned ID.
func (s *Store) CreateToken(ctx context.Context, tok token.Token) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO tokens (
    sender, recipient_address, recipient_timestamp,
    deadline_accept, deadline_key_release,
    message_hash, encrypted_message_hash,
    cipher_ux, cipher_uy, cipher_v, cipher_w,
    state, owner, transferable_to,
    released_key_x, released_key_y,
    created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tok.Sender,
		tok.Recipient.Address,
		toMillis(tok.Recipient.Timestamp),
		toMillis(tok.DeadlineAccept),
		toMillis(tok.DeadlineKeyRelease),
		tok.MessageHash,
		tok.EncryptedMessageHash,
		tok.SealedKey.CipherUX,
		tok.SealedKey.CipherUY,
		tok.SealedKey.CipherV,
		tok.SealedKey.CipherW,
		token.StateLabel(tok.State),
		tok.Owner,
		tok.TransferableTo,
		tok.ReleasedKey.X,
		tok.ReleasedKey.Y,
		toMillis(tok.CreatedAt),
		toMillis(tok.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert token: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("token id: %w", err)
	}
	return id, nil
}

// GetToken fetches a token record by ID.
func (s *Store) GetToken(ctx context.Context, id int64) (token.Token, error) {
	if s == nil || s.sqlDB == nil {
		return token.Token{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, sender, recipient_address, recipient_timestamp,
       deadline_accept, deadline_key_release,
       message_hash, encrypted_message_hash,
       cipher_ux, cipher_uy, cipher_v, cipher_w,
       state, owner, transferable_to,
       released_key_x, released_key_y,
       created_at, updated_at
FROM tokens WHERE id = ?`, id)

	return scanToken(row)
}

// UpdateToken replaces an existing record.
func (s *Store) UpdateToken(ctx context.Context, tok token.Token) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE tokens SET
    state = ?, owner = ?, transferable_to = ?,
    released_key_x = ?, released_key_y = ?,
    updated_at = ?
WHERE id = ?`,
		token.StateLabel(tok.State),
		tok.Owner,
		tok.TransferableTo,
		tok.ReleasedKey.X,
		tok.ReleasedKey.Y,
		toMillis(tok.UpdatedAt),
		tok.ID,
	)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountOwned returns the number of tokens owned by an address.
func (s *Store) CountOwned(ctx context.Context, address string) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if address == "" {
		return 0, nil
	}

	var count int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tokens WHERE owner = ?", address,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count owned tokens: %w", err)
	}
	return count, nil
}

// AppendEvent assigns the next sequence number and persists the event.
func (s *Store) AppendEvent(ctx context.Context, evt events.Event) (events.Event, error) {
	if s == nil || s.sqlDB == nil {
		return events.Event{}, fmt.Errorf("storage is not configured")
	}

	payload := evt.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return events.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}

	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO ledger_events (token_id, event_type, actor, from_state, to_state, payload_json, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.TokenID,
		string(evt.Type),
		evt.Actor,
		evt.FromState,
		evt.ToState,
		string(payloadJSON),
		toMillis(evt.Timestamp),
	)
	if err != nil {
		return events.Event{}, fmt.Errorf("append event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return events.Event{}, fmt.Errorf("event seq: %w", err)
	}
	evt.Seq = seq
	return evt, nil
}

// ListEvents returns all events for a token in append order.
func (s *Store) ListEvents(ctx context.Context, tokenID int64) ([]events.Event, error) {
	return s.listEvents(ctx, `
SELECT seq, token_id, event_type, actor, from_state, to_state, payload_json, timestamp
FROM ledger_events WHERE token_id = ? ORDER BY seq`, tokenID)
}

// ListEventsAfter returns up to limit events past the given cursor.
func (s *Store) ListEventsAfter(ctx context.Context, after int64, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listEvents(ctx, `
SELECT seq, token_id, event_type, actor, from_state, to_state, payload_json, timestamp
FROM ledger_events WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
}

func (s *Store) listEvents(ctx context.Context, query string, args ...any) ([]events.Event, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var evt events.Event
		var eventType string
		var payloadJSON string
		var timestamp int64
		if err := rows.Scan(
			&evt.Seq, &evt.TokenID, &eventType, &evt.Actor,
			&evt.FromState, &evt.ToState, &payloadJSON, &timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Type = events.Type(eventType)
		evt.Timestamp = fromMillis(timestamp)
		if err := json.Unmarshal([]byte(payloadJSON), &evt.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (token.Token, error) {
	var tok token.Token
	var recipientTS, deadlineAccept, deadlineKeyRelease, createdAt, updatedAt int64
	var state string

	err := row.Scan(
		&tok.ID,
		&tok.Sender,
		&tok.Recipient.Address,
		&recipientTS,
		&deadlineAccept,
		&deadlineKeyRelease,
		&tok.MessageHash,
		&tok.EncryptedMessageHash,
		&tok.SealedKey.CipherUX,
		&tok.SealedKey.CipherUY,
		&tok.SealedKey.CipherV,
		&tok.SealedKey.CipherW,
		&state,
		&tok.Owner,
		&tok.TransferableTo,
		&tok.ReleasedKey.X,
		&tok.ReleasedKey.Y,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Token{}, storage.ErrNotFound
	}
	if err != nil {
		return token.Token{}, fmt.Errorf("scan token: %w", err)
	}

	tok.Recipient.Timestamp = fromMillis(recipientTS)
	tok.DeadlineAccept = fromMillis(deadlineAccept)
	tok.DeadlineKeyRelease = fromMillis(deadlineKeyRelease)
	tok.State = token.StateFromLabel(state)
	tok.CreatedAt = fromMillis(createdAt)
	tok.UpdatedAt = fromMillis(updatedAt)
	return tok, nil
}
