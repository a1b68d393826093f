package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole API is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const (
	bookVector    = "to_tsvector('english', b.title || ' ' || b.description)"
	chapterVector = "to_tsvector('english', c.title || ' ' || c.description || ' ' || c.text)"
)

// Search runs a UNION ALL over books and published chapters using plainto_tsquery,
// ranked with ts_rank and snippeted with ts_headline. The vectors match the GIN indexes.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultBook {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'book'::text AS type, b.id::text AS id, b.title,
				ts_headline('english', b.description, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.author_id::text AS author_id, ''::text AS book_id, ''::text AS status,
				ts_rank(%s, %s) AS rank
			FROM books b
			WHERE %s @@ %s`, tsQuery, bookVector, tsQuery, bookVector, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultChapter {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'chapter'::text AS type, c.id::text AS id, c.title,
				ts_headline('english', c.text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.author_id::text AS author_id, coalesce(c.book_id::text, '') AS book_id, c.status::text AS status,
				ts_rank(%s, %s) AS rank
			FROM chapters c
			WHERE c.status = 'published' AND %s @@ %s`, tsQuery, chapterVector, tsQuery, chapterVector, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, author_id, book_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.AuthorID, &r.BookID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]BookRecord, []ChapterRecord, error) {
	bookRows, err := p.db.QueryContext(ctx, `SELECT id::text, title, description, author_id::text FROM books`)
	if err != nil {
		return nil, nil, fmt.Errorf("load books: %w", err)
	}
	defer bookRows.Close()

	books := make([]BookRecord, 0)
	for bookRows.Next() {
		var b BookRecord
		if err := bookRows.Scan(&b.ID, &b.Title, &b.Description, &b.AuthorID); err != nil {
			return nil, nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := bookRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate books: %w", err)
	}

	chapterRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, title, description, text, author_id::text, coalesce(book_id::text, ''), status::text
		FROM chapters
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load chapters: %w", err)
	}
	defer chapterRows.Close()

	chapters := make([]ChapterRecord, 0)
	for chapterRows.Next() {
		var c ChapterRecord
		if err := chapterRows.Scan(&c.ID, &c.Title, &c.Description, &c.Text, &c.AuthorID, &c.BookID, &c.Status); err != nil {
			return nil, nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, c)
	}
	if err := chapterRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate chapters: %w", err)
	}

	return books, chapters, nil
}
