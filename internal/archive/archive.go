// Package archive keeps a SQLite history of published newsletters so later
// runs can skip stories that were already sent.
package archive

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
)

// SQLite caps bound parameters per statement; URL lookups are chunked below it.
const lookupChunk = 500

const schema = `
	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		subtitle TEXT NOT NULL,
		format TEXT NOT NULL,
		generated_at INTEGER NOT NULL,
		entry_count INTEGER NOT NULL,
		body TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS issue_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		headline TEXT NOT NULL,
		source_url TEXT NOT NULL,
		UNIQUE(issue_id, source_url)
	);
	CREATE INDEX IF NOT EXISTS idx_issue_entries_source_url ON issue_entries(source_url);
`

// Archive is a SQLite-backed issue history.
type Archive struct {
	db *sql.DB
}

// Open opens (creating when needed) the archive database at path.
func Open(path string) (*Archive, error) {
	if path == "" {
		path = "daily-brief.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to open SQLite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: failed to connect to SQLite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: failed to initialize schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveIssue records n and its entries. It returns the new issue id.
func (a *Archive) SaveIssue(ctx context.Context, n *newsletter.Newsletter, body string) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("archive: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sq.Insert("issues").
		Columns("title", "subtitle", "format", "generated_at", "entry_count", "body").
		Values(n.Title, n.Subtitle, n.Format, n.GeneratedAt.Unix(), n.EntryCount(), body).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("archive: failed to build issue insert: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("archive: failed to insert issue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("archive: failed to read issue id: %w", err)
	}

	if n.EntryCount() > 0 {
		insert := sq.Insert("issue_entries").
			Options("OR IGNORE").
			Columns("issue_id", "category", "headline", "source_url")
		for _, s := range n.Sections {
			for _, e := range s.Entries {
				insert = insert.Values(id, s.Category, e.Headline, e.SourceURL)
			}
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return 0, fmt.Errorf("archive: failed to build entry insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("archive: failed to insert entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("archive: failed to commit: %w", err)
	}
	return id, nil
}

// Published reports which of urls appeared in any earlier issue.
func (a *Archive) Published(ctx context.Context, urls []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	for start := 0; start < len(urls); start += lookupChunk {
		end := min(start+lookupChunk, len(urls))

		query, args, err := sq.Select("DISTINCT source_url").
			From("issue_entries").
			Where(sq.Eq{"source_url": urls[start:end]}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("archive: failed to build lookup: %w", err)
		}

		rows, err := a.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("archive: failed to look up urls: %w", err)
		}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return nil, fmt.Errorf("archive: failed to scan url: %w", err)
			}
			seen[u] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("archive: failed to read urls: %w", err)
		}
	}
	return seen, nil
}

// IssueCount returns the number of archived issues.
func (a *Archive) IssueCount(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("issues").ToSql()
	if err != nil {
		return 0, fmt.Errorf("archive: failed to build count: %w", err)
	}
	var n int
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("archive: failed to count issues: %w", err)
	}
	return n, nil
}
