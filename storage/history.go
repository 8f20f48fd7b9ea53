package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"julius/model"
)

const (
	StatusComplete     = string(model.OutcomeComplete)
	StatusWithWarnings = string(model.OutcomeWithWarnings)
	StatusFailed       = "failed"
)

var (
	ErrExchangeNotFound  = errors.New("exchange not found")
	ErrAmbiguousExchange = errors.New("exchange id prefix matches more than one exchange")
)

// ExchangeSummary is one row of the history listing.
type ExchangeSummary struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Provider    string    `json:"provider"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Messages    int       `json:"message_count"`
	Attachments int       `json:"attachment_count"`
	Warnings    int       `json:"warning_count"`
}

type StoredMessage struct {
	Index             int    `json:"index"`
	Role              string `json:"role"`
	Content           string `json:"content"`
	AdvancedReasoning bool   `json:"advanced_reasoning,omitempty"`
}

type StoredReply struct {
	MessageIndex int    `json:"message_index"`
	Content      string `json:"content"`
	Fragments    int    `json:"fragments"`
}

type StoredAttachment struct {
	MessageIndex int    `json:"message_index"`
	Name         string `json:"name"`
	Source       string `json:"source"`
	MimeType     string `json:"mime_type"`
	Status       string `json:"status"`
}

type StoredWarning struct {
	MessageIndex int    `json:"message_index"`
	Kind         string `json:"kind"`
	Offset       int64  `json:"offset"`
	Reason       string `json:"reason"`
	Unit         string `json:"unit,omitempty"`
}

// Exchange is a fully loaded history entry.
type Exchange struct {
	ExchangeSummary
	Content      string             `json:"content"`
	Error        string             `json:"error,omitempty"`
	ErrorStage   string             `json:"error_stage,omitempty"`
	ErrorMessage int                `json:"error_message_index,omitempty"`
	Conversation []StoredMessage    `json:"messages"`
	Replies      []StoredReply      `json:"replies"`
	Files        []StoredAttachment `json:"attachments"`
	Diagnostics  []StoredWarning    `json:"warnings"`
}

// HistoryStore persists sessions and exchanges in SQLite. It implements
// model.Recorder.
type HistoryStore struct {
	db  *sql.DB
	log *zap.Logger
}

var _ model.Recorder = (*HistoryStore)(nil)

// NewHistoryStore opens (creating if needed) history.db in dataDir.
func NewHistoryStore(dataDir string, log *zap.Logger) (*HistoryStore, error) {
	return OpenHistoryStore(filepath.Join(dataDir, "history.db"), log)
}

// OpenHistoryStore opens the database at dbPath.
func OpenHistoryStore(dbPath string, log *zap.Logger) (*HistoryStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	hs := &HistoryStore{db: db, log: log}
	if err := hs.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return hs, nil
}

func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

func (hs *HistoryStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_started ON exchanges(started_at);
	CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id);
	CREATE TABLE IF NOT EXISTS messages (
		exchange_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		advanced_reasoning INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (exchange_id, idx)
	);
	CREATE TABLE IF NOT EXISTS replies (
		exchange_id TEXT NOT NULL,
		message_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		fragments INTEGER NOT NULL,
		PRIMARY KEY (exchange_id, message_index)
	);
	CREATE TABLE IF NOT EXISTS attachments (
		exchange_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		message_index INTEGER NOT NULL,
		name TEXT NOT NULL,
		source TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY (exchange_id, position)
	);
	CREATE TABLE IF NOT EXISTS warnings (
		exchange_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		message_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		byte_offset INTEGER NOT NULL,
		reason TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (exchange_id, position)
	);
	`
	if _, err := hs.db.Exec(schema); err != nil {
		return err
	}

	if err := hs.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// migrateSchema adds columns introduced after the first release.
func (hs *HistoryStore) migrateSchema() error {
	columns := []struct {
		name string
		ddl  string
	}{
		{"error_stage", `ALTER TABLE exchanges ADD COLUMN error_stage TEXT NOT NULL DEFAULT ''`},
		{"error_message_index", `ALTER TABLE exchanges ADD COLUMN error_message_index INTEGER NOT NULL DEFAULT -1`},
	}

	for _, col := range columns {
		exists, err := hs.columnExists("exchanges", col.name)
		if err != nil {
			return fmt.Errorf("failed to check for %s column: %w", col.name, err)
		}
		if exists {
			continue
		}
		if _, err := hs.db.Exec(col.ddl); err != nil {
			return fmt.Errorf("failed to add %s column: %w", col.name, err)
		}
		hs.log.Debug("migrated history schema", zap.String("column", col.name))
	}
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (hs *HistoryStore) columnExists(tableName, columnName string) (bool, error) {
	rows, err := hs.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SaveSession implements model.Recorder.
func (hs *HistoryStore) SaveSession(ctx context.Context, session model.Session) error {
	created := session.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := hs.db.ExecContext(ctx,
		`INSERT INTO sessions (id, provider, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET provider = excluded.provider`,
		session.ID, session.Provider, created)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SaveExchange implements model.Recorder. Saving the same exchange id again
// replaces the stored copy.
func (hs *HistoryStore) SaveExchange(ctx context.Context, rec model.ExchangeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	status := StatusFailed
	content := ""
	if rec.Err == nil && rec.Completion != nil {
		status = string(rec.Completion.Outcome())
		content = rec.Completion.Content
	}

	var (
		errText    string
		errStage   string
		errMessage = -1
	)
	if rec.Err != nil {
		errText = rec.Err.Error()
		if stage, ok := model.StageOf(rec.Err); ok {
			errStage = string(stage)
		}
		var ee *model.ExchangeError
		if errors.As(rec.Err, &ee) {
			errMessage = ee.MessageIndex
		}
	}

	tx, err := hs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "replies", "attachments", "warnings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE exchange_id = ?", rec.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO exchanges
			(id, session_id, name, provider, status, content, error, error_stage, error_message_index, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, GenerateExchangeName(firstUserContent(rec.Messages)), rec.Provider,
		status, content, errText, errStage, errMessage, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to save exchange: %w", err)
	}

	for i, msg := range rec.Messages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (exchange_id, idx, role, content, advanced_reasoning) VALUES (?, ?, ?, ?, ?)`,
			rec.ID, i, string(msg.Role), msg.Content, msg.AdvancedReasoning)
		if err != nil {
			return fmt.Errorf("failed to save message %d: %w", i, err)
		}
	}

	for i, ra := range rec.Attachments {
		a := ra.Attachment
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (exchange_id, position, message_index, name, source, mime_type, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, i, ra.MessageIndex, a.Name, a.Source, a.MimeType, string(a.Status))
		if err != nil {
			return fmt.Errorf("failed to save attachment %q: %w", a.Name, err)
		}
	}

	if rec.Completion != nil {
		for _, r := range rec.Completion.Replies {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO replies (exchange_id, message_index, content, fragments) VALUES (?, ?, ?, ?)`,
				rec.ID, r.MessageIndex, r.Content, r.Fragments)
			if err != nil {
				return fmt.Errorf("failed to save reply %d: %w", r.MessageIndex, err)
			}
		}
		for i, w := range rec.Completion.Warnings {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO warnings (exchange_id, position, message_index, kind, byte_offset, reason, unit) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				rec.ID, i, w.MessageIndex, string(w.Kind), w.Offset, w.Reason, w.Unit)
			if err != nil {
				return fmt.Errorf("failed to save warning: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exchange: %w", err)
	}

	hs.log.Debug("exchange recorded", zap.String("exchange_id", rec.ID), zap.String("status", status))
	return nil
}

const summaryColumns = `
	e.id, e.session_id, e.name, e.provider, e.status, e.started_at, e.finished_at,
	(SELECT COUNT(*) FROM messages m WHERE m.exchange_id = e.id),
	(SELECT COUNT(*) FROM attachments a WHERE a.exchange_id = e.id),
	(SELECT COUNT(*) FROM warnings w WHERE w.exchange_id = e.id)`

func scanSummary(row interface{ Scan(...any) error }, s *ExchangeSummary, extra ...any) error {
	dest := []any{&s.ID, &s.SessionID, &s.Name, &s.Provider, &s.Status, &s.StartedAt, &s.FinishedAt,
		&s.Messages, &s.Attachments, &s.Warnings}
	return row.Scan(append(dest, extra...)...)
}

// ListExchanges returns the most recent exchanges first. A limit of zero or
// less returns all of them.
func (hs *HistoryStore) ListExchanges(ctx context.Context, limit int) ([]ExchangeSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := hs.db.QueryContext(ctx,
		`SELECT`+summaryColumns+` FROM exchanges e ORDER BY e.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	defer rows.Close()

	var out []ExchangeSummary
	for rows.Next() {
		var s ExchangeSummary
		if err := scanSummary(rows, &s); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ResolveID expands a unique id prefix into a full exchange id.
func (hs *HistoryStore) ResolveID(ctx context.Context, idOrPrefix string) (string, error) {
	if err := uuid.Validate(idOrPrefix); err == nil {
		return idOrPrefix, nil
	}
	if idOrPrefix == "" {
		return "", ErrExchangeNotFound
	}

	rows, err := hs.db.QueryContext(ctx,
		`SELECT id FROM exchanges WHERE substr(id, 1, ?) = ? LIMIT 2`, len(idOrPrefix), idOrPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to resolve exchange id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrExchangeNotFound, idOrPrefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousExchange, idOrPrefix)
	}
}

// LoadExchange loads one exchange by full id or unique id prefix.
func (hs *HistoryStore) LoadExchange(ctx context.Context, idOrPrefix string) (*Exchange, error) {
	id, err := hs.ResolveID(ctx, idOrPrefix)
	if err != nil {
		return nil, err
	}

	var ex Exchange
	row := hs.db.QueryRowContext(ctx,
		`SELECT`+summaryColumns+`, e.content, e.error, e.error_stage, e.error_message_index FROM exchanges e WHERE e.id = ?`, id)
	err = scanSummary(row, &ex.ExchangeSummary, &ex.Content, &ex.Error, &ex.ErrorStage, &ex.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrExchangeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange: %w", err)
	}

	if err := hs.loadChildren(ctx, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

func (hs *HistoryStore) loadChildren(ctx context.Context, ex *Exchange) error {
	err := queryEach(ctx, hs.db,
		`SELECT idx, role, content, advanced_reasoning FROM messages WHERE exchange_id = ? ORDER BY idx`, ex.ID,
		func(rows *sql.Rows) error {
			var m StoredMessage
			if err := rows.Scan(&m.Index, &m.Role, &m.Content, &m.AdvancedReasoning); err != nil {
				return err
			}
			ex.Conversation = append(ex.Conversation, m)
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	err = queryEach(ctx, hs.db,
		`SELECT message_index, content, fragments FROM replies WHERE exchange_id = ? ORDER BY message_index`, ex.ID,
		func(rows *sql.Rows) error {
			var r StoredReply
			if err := rows.Scan(&r.MessageIndex, &r.Content, &r.Fragments); err != nil {
				return err
			}
			ex.Replies = append(ex.Replies, r)
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load replies: %w", err)
	}

	err = queryEach(ctx, hs.db,
		`SELECT message_index, name, source, mime_type, status FROM attachments WHERE exchange_id = ? ORDER BY position`, ex.ID,
		func(rows *sql.Rows) error {
			var a StoredAttachment
			if err := rows.Scan(&a.MessageIndex, &a.Name, &a.Source, &a.MimeType, &a.Status); err != nil {
				return err
			}
			ex.Files = append(ex.Files, a)
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load attachments: %w", err)
	}

	err = queryEach(ctx, hs.db,
		`SELECT message_index, kind, byte_offset, reason, unit FROM warnings WHERE exchange_id = ? ORDER BY position`, ex.ID,
		func(rows *sql.Rows) error {
			var w StoredWarning
			if err := rows.Scan(&w.MessageIndex, &w.Kind, &w.Offset, &w.Reason, &w.Unit); err != nil {
				return err
			}
			ex.Diagnostics = append(ex.Diagnostics, w)
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load warnings: %w", err)
	}
	return nil
}

func queryEach(ctx context.Context, db *sql.DB, query string, arg any, fn func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query, arg)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func firstUserContent(messages []model.Message) string {
	for _, m := range messages {
		if m.Role == model.RoleUser {
			return m.Content
		}
	}
	return ""
}
