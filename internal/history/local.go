package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/veilchat/veil-go/internal/chat"
	"github.com/veilchat/veil-go/internal/logger"
	"github.com/veilchat/veil-go/internal/state"
)

// Local keeps the state store as the sole record. When a snapshot path is
// configured the projection is additionally mirrored to sqlite; the database
// is opened lazily on first commit, and any open or query failure falls back
// to memory-only operation.
type Local struct {
	store *state.Store
	path  string

	mu      sync.Mutex
	dbOnce  sync.Once
	db      *sql.DB
	initErr error
}

// NewLocal builds the local-only adapter. An empty path disables snapshotting.
func NewLocal(store *state.Store, path string) *Local {
	return &Local{store: store, path: path}
}

func (l *Local) initDB() {
	db, err := sql.Open("sqlite", "file:"+l.path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		l.initErr = err
		logger.L.Warn("sqlite open failed; keeping history in memory only", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY,
        family TEXT,
        title TEXT,
        date TEXT,
        messages TEXT
    );`); err != nil {
		l.initErr = err
		logger.L.Warn("sqlite table creation failed; keeping history in memory only", "error", err)
		return
	}
	l.db = db
	logger.L.Info("local history snapshot initialized", "path", l.path)
}

// Commit applies the same preparation as the remote mode but skips the
// network entirely. Snapshot failures never fail the commit.
func (l *Local) Commit(ctx context.Context, family chat.Family, conv *chat.Conversation) error {
	prepared := prepare(conv.Messages)
	if l.path != "" {
		l.snapshot(ctx, family, conv, prepared)
	}
	notify(l.store, family, conv)
	return nil
}

func (l *Local) snapshot(ctx context.Context, family chat.Family, conv *chat.Conversation, messages []chat.Message) {
	l.dbOnce.Do(l.initDB)
	if l.initErr != nil || l.db == nil {
		return
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		logger.L.Error("failed to encode snapshot", "conversation", conv.ID, "error", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.db.ExecContext(ctx, `INSERT INTO conversations (id, family, title, date, messages)
        VALUES (?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET title=excluded.title, date=excluded.date, messages=excluded.messages;`,
		conv.ID, string(family), conv.Title, conv.Date, string(payload)); err != nil {
		logger.L.Error("failed to snapshot conversation", "conversation", conv.ID, "error", err)
	}
}

// Load restores the snapshotted conversations of one family, newest last.
// Memory-only mode returns nil.
func (l *Local) Load(ctx context.Context, family chat.Family) ([]*chat.Conversation, error) {
	if l.path == "" {
		return nil, nil
	}
	l.dbOnce.Do(l.initDB)
	if l.initErr != nil || l.db == nil {
		return nil, l.initErr
	}
	rows, err := l.db.QueryContext(ctx, `SELECT id, title, date, messages FROM conversations WHERE family = ? ORDER BY date ASC;`, string(family))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*chat.Conversation
	for rows.Next() {
		var c chat.Conversation
		var payload string
		if err := rows.Scan(&c.ID, &c.Title, &c.Date, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &c.Messages); err != nil {
			logger.L.Warn("skipping undecodable snapshot", "conversation", c.ID, "error", err)
			continue
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
