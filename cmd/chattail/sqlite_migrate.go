package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

// migrateSQLite brings databases written by earlier builds up to the
// current messages schema. CREATE TABLE IF NOT EXISTS never touches an
// existing table, so added columns have to be bolted on here.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	path := sqlitePath(ctx, db)
	userVersion, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}

	log.Printf("chattail: sqlite: path=%s user_version=%d", path, userVersion)

	columns, err := sqliteTableInfo(ctx, db, "messages")
	if err != nil {
		return fmt.Errorf("sqlite: describe messages: %w", err)
	}
	if len(columns) == 0 {
		log.Printf("chattail: sqlite: messages table missing; skipping migration")
		return nil
	}

	added := []struct {
		name string
		ddl  string
	}{
		{"channel_id", `ALTER TABLE messages ADD COLUMN channel_id INTEGER NOT NULL DEFAULT 0;`},
		{"rant_cents", `ALTER TABLE messages ADD COLUMN rant_cents INTEGER NOT NULL DEFAULT 0;`},
		{"deleted", `ALTER TABLE messages ADD COLUMN deleted INTEGER NOT NULL DEFAULT 0;`},
		{"raw_json", `ALTER TABLE messages ADD COLUMN raw_json TEXT NOT NULL DEFAULT '';`},
	}
	for _, col := range added {
		if _, ok := columns[col.name]; ok {
			continue
		}
		if _, err := db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("sqlite: ensure %s column: %w", col.name, err)
		}
		log.Printf("chattail: sqlite: added %s column to messages", col.name)
	}

	normalize := []struct {
		query string
		label string
	}{
		{`UPDATE messages SET raw_json='' WHERE raw_json IS NULL;`, "raw_json"},
		{`UPDATE messages SET deleted=0 WHERE deleted IS NULL;`, "deleted"},
		{`UPDATE messages SET channel_id=0 WHERE channel_id IS NULL;`, "channel_id"},
		{`UPDATE messages SET rant_cents=0 WHERE rant_cents IS NULL;`, "rant_cents"},
	}
	for _, step := range normalize {
		res, execErr := db.ExecContext(ctx, step.query)
		if execErr != nil {
			return fmt.Errorf("sqlite: normalize %s: %w", step.label, execErr)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Printf("chattail: sqlite: normalized %s nulls=%d", step.label, n)
		}
	}

	for _, idx := range []struct {
		name string
		ddl  string
	}{
		{"idx_messages_ts", `CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages (ts);`},
		{"idx_messages_username", `CREATE INDEX IF NOT EXISTS idx_messages_username ON messages (username);`},
	} {
		if _, err := db.ExecContext(ctx, idx.ddl); err != nil {
			return fmt.Errorf("sqlite: ensure %s: %w", idx.name, err)
		}
	}

	columns, err = sqliteTableInfo(ctx, db, "messages")
	if err != nil {
		return fmt.Errorf("sqlite: refresh messages schema: %w", err)
	}

	hasTsIndex, err := sqliteHasIndex(ctx, db, "messages", "idx_messages_ts")
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}

	nullCounts := make(map[string]int64)
	for _, field := range []string{"raw_json", "deleted"} {
		var count int64
		if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM messages WHERE %s IS NULL;", field)).Scan(&count); err != nil {
			return fmt.Errorf("sqlite: count null %s: %w", field, err)
		}
		nullCounts[field] = count
	}

	_, hasRant := columns["rant_cents"]
	log.Printf("chattail: sqlite: rant_cents_column=%v idx_messages_ts=%v raw_json_nulls=%d deleted_nulls=%d",
		hasRant,
		hasTsIndex,
		nullCounts["raw_json"],
		nullCounts["deleted"],
	)

	return nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	if err := rows.Err(); err != nil {
		return "(unknown)"
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var userVersion int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&userVersion); err != nil {
		return 0, err
	}
	return userVersion, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		lower := strings.ToLower(strings.TrimSpace(name))
		out[lower] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return false, nil
}
