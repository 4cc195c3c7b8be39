package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/rumblechat/internal/core"
	"github.com/you/rumblechat/internal/httpapi"
	"github.com/you/rumblechat/internal/ingesttrace"
)

const schema = `CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY,
  ts TEXT NOT NULL,
  user_id INTEGER NOT NULL,
  username TEXT NOT NULL,
  channel_id INTEGER NOT NULL DEFAULT 0,
  text TEXT NOT NULL,
  rant_cents INTEGER NOT NULL DEFAULT 0,
  deleted INTEGER NOT NULL DEFAULT 0,
  raw_json TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages (ts);
CREATE INDEX IF NOT EXISTS idx_messages_username ON messages (username);`

type SQLiteSink struct {
	db *sql.DB
}

const defaultListLimit = 100

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplySQLitePragmas(context.Background(), db)
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func (s *SQLiteSink) RawDB() *sql.DB { return s.db }

func (s *SQLiteSink) Write(rec core.ChatRecord, trace *ingesttrace.MessageTrace) error {
	const q = `INSERT INTO messages (id, ts, user_id, username, channel_id, text, rant_cents, deleted, raw_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;`
	ts := rec.Ts.UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(q, rec.ID, ts, rec.UserID, rec.Username, rec.ChannelID,
		rec.Text, rec.RantCents, boolInt(rec.Deleted), rec.RawJSON)
	if err != nil {
		return errors.Wrap(err, "insert message")
	}
	if trace != nil {
		trace.IncCounter(ingesttrace.StageWrittenToDB)
	}
	return nil
}

// MarkDeleted flags stored messages as deleted. Rows are kept; deletion is
// a moderation event, not data loss.
func (s *SQLiteSink) MarkDeleted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	q := fmt.Sprintf("UPDATE messages SET deleted = 1 WHERE id IN (%s);", strings.Join(placeholders, ","))
	_, err := s.db.ExecContext(ctx, q, args...)
	return errors.Wrap(err, "mark deleted")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteSink) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteSink) String() string {
	return fmt.Sprintf("SQLiteSink{%p}", s.db)
}

func (s *SQLiteSink) CountMessages(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildMessageQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteSink) ListMessages(ctx context.Context, filters httpapi.Filters) ([]core.ChatRecord, error) {
	query, args := buildMessageQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []core.ChatRecord
	for rows.Next() {
		var (
			rec     core.ChatRecord
			ts      string
			deleted int
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.UserID, &rec.Username, &rec.ChannelID, &rec.Text, &rec.RantCents, &deleted, &rec.RawJSON); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Ts = t
		}
		rec.Deleted = deleted != 0
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}
	return out, nil
}

func buildMessageQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM messages")
	} else {
		builder.WriteString("SELECT id, ts, user_id, username, channel_id, text, rant_cents, deleted, raw_json FROM messages")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Usernames) > 0 {
		ors := make([]string, 0, len(filters.Usernames))
		for _, u := range filters.Usernames {
			ors = append(ors, "LOWER(username) LIKE '%' || ? || '%'")
			args = append(args, u)
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if len(filters.Channels) > 0 {
		placeholders := make([]string, 0, len(filters.Channels))
		for _, c := range filters.Channels {
			placeholders = append(placeholders, "?")
			args = append(args, c)
		}
		conditions = append(conditions, fmt.Sprintf("channel_id IN (%s)", strings.Join(placeholders, ",")))
	}

	if filters.Deleted != nil {
		conditions = append(conditions, "deleted = ?")
		args = append(args, boolInt(*filters.Deleted))
	}

	if filters.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY ts ")
		builder.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}
