package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const bookColumns = `id, title, description, author_id, likes, dislikes, created_at, updated_at`

const chapterColumns = `id, title, description, text, status::text, chapter_number, author_id, book_id, likes, dislikes, created_at, updated_at`

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, part := range parts {
		parts[i] = prefix + part
	}
	return strings.Join(parts, ", ")
}

func scanBook(row rowScanner) (Book, error) {
	var book Book
	err := row.Scan(&book.ID, &book.Title, &book.Description, &book.AuthorID, &book.Likes, &book.Dislikes, &book.CreatedAt, &book.UpdatedAt)
	return book, err
}

func scanChapter(row rowScanner) (Chapter, error) {
	var (
		chapter Chapter
		status  string
		number  sql.NullInt32
		bookID  sql.NullString
	)
	err := row.Scan(&chapter.ID, &chapter.Title, &chapter.Description, &chapter.Text, &status, &number,
		&chapter.AuthorID, &bookID, &chapter.Likes, &chapter.Dislikes, &chapter.CreatedAt, &chapter.UpdatedAt)
	if err != nil {
		return Chapter{}, err
	}
	chapter.Status = ChapterStatus(status)
	if number.Valid {
		n := int(number.Int32)
		chapter.ChapterNumber = &n
	}
	if bookID.Valid {
		id := bookID.String
		chapter.BookID = &id
	}
	return chapter, nil
}

func collectBooks(rows *sql.Rows, err error) ([]Book, error) {
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	items := make([]Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		items = append(items, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return items, nil
}

func collectChapters(rows *sql.Rows, err error) ([]Chapter, error) {
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	items := make([]Chapter, 0)
	for rows.Next() {
		chapter, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		items = append(items, chapter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return items, nil
}

// CreateBook inserts the book, its first chapter and its tag links in one transaction.
func (s *PostgresStore) CreateBook(ctx context.Context, book Book, first Chapter, tags []Tag) (Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Book{}, fmt.Errorf("begin create book: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanBook(tx.QueryRowContext(ctx, `
		INSERT INTO books (id, title, description, author_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+bookColumns,
		book.ID, book.Title, book.Description, book.AuthorID))
	if err != nil {
		return Book{}, fmt.Errorf("insert book: %w", err)
	}

	first.BookID = &created.ID
	if first.ChapterNumber == nil {
		one := 1
		first.ChapterNumber = &one
	}
	if _, err := insertChapter(ctx, tx, first); err != nil {
		return Book{}, err
	}
	if err := linkTags(ctx, tx, KindBook, created.ID, tags); err != nil {
		return Book{}, err
	}

	if err := tx.Commit(); err != nil {
		return Book{}, fmt.Errorf("commit create book: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetBook(ctx context.Context, bookID string) (Book, error) {
	return scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id=$1`, bookID))
}

func (s *PostgresStore) ListBooksByAuthor(ctx context.Context, authorID string) ([]Book, error) {
	return collectBooks(s.db.QueryContext(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE author_id=$1
		ORDER BY created_at DESC
	`, authorID))
}

// ListTimelineBooks pages books authored by the users followerID follows, newest first.
func (s *PostgresStore) ListTimelineBooks(ctx context.Context, followerID string, before time.Time, limit int) ([]Book, error) {
	return collectBooks(s.db.QueryContext(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE author_id IN (SELECT leader_id FROM follows WHERE follow_id=$1)
		  AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, followerID, before, limit))
}

// ListAllBooks is used by search reindexing.
func (s *PostgresStore) ListAllBooks(ctx context.Context) ([]Book, error) {
	return collectBooks(s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY created_at`))
}

// DeleteBook removes the book; chapters, reactions, comments, tags links and notes cascade.
func (s *PostgresStore) DeleteBook(ctx context.Context, bookID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id=$1`, bookID)
	if err != nil {
		return false, fmt.Errorf("delete book: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete book rows: %w", err)
	}
	return affected > 0, nil
}

func insertChapter(ctx context.Context, tx *sql.Tx, chapter Chapter) (Chapter, error) {
	status := chapter.Status
	if status == "" {
		status = StatusDraft
	}
	var number any
	if chapter.ChapterNumber != nil {
		number = *chapter.ChapterNumber
	}
	var bookID any
	if chapter.BookID != nil {
		bookID = *chapter.BookID
	}
	created, err := scanChapter(tx.QueryRowContext(ctx, `
		INSERT INTO chapters (id, title, description, text, status, chapter_number, author_id, book_id)
		VALUES ($1, $2, $3, $4, $5::chapter_status, $6, $7, $8)
		RETURNING `+chapterColumns,
		chapter.ID, chapter.Title, chapter.Description, chapter.Text, string(status), number, chapter.AuthorID, bookID))
	if err != nil {
		return Chapter{}, fmt.Errorf("insert chapter: %w", err)
	}
	return created, nil
}

// nextChapterNumber locks the book row so concurrent appends get distinct numbers.
func nextChapterNumber(ctx context.Context, tx *sql.Tx, bookID string) (int, error) {
	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM books WHERE id=$1 FOR UPDATE`, bookID).Scan(&locked); err != nil {
		return 0, err
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chapters WHERE book_id=$1`, bookID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count book chapters: %w", err)
	}
	return count + 1, nil
}

// CreateChapter inserts a chapter. When BookID is set the chapter is appended to the book.
func (s *PostgresStore) CreateChapter(ctx context.Context, chapter Chapter, tags []Tag) (Chapter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Chapter{}, fmt.Errorf("begin create chapter: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if chapter.BookID != nil {
		number, err := nextChapterNumber(ctx, tx, *chapter.BookID)
		if err != nil {
			return Chapter{}, err
		}
		chapter.ChapterNumber = &number
	}
	created, err := insertChapter(ctx, tx, chapter)
	if err != nil {
		return Chapter{}, err
	}
	if err := linkTags(ctx, tx, KindChapter, created.ID, tags); err != nil {
		return Chapter{}, err
	}
	if err := tx.Commit(); err != nil {
		return Chapter{}, fmt.Errorf("commit create chapter: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetChapter(ctx context.Context, chapterID string) (Chapter, error) {
	return scanChapter(s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id=$1`, chapterID))
}

func (s *PostgresStore) ListChaptersByBook(ctx context.Context, bookID string) ([]Chapter, error) {
	return collectChapters(s.db.QueryContext(ctx, `
		SELECT `+chapterColumns+`
		FROM chapters
		WHERE book_id=$1
		ORDER BY chapter_number, created_at
	`, bookID))
}

// ListChaptersByAuthor returns an author's chapters. Drafts are included only when asked.
func (s *PostgresStore) ListChaptersByAuthor(ctx context.Context, authorID string, includeDrafts bool) ([]Chapter, error) {
	return collectChapters(s.db.QueryContext(ctx, `
		SELECT `+chapterColumns+`
		FROM chapters
		WHERE author_id=$1 AND ($2 OR status='published')
		ORDER BY created_at DESC
	`, authorID, includeDrafts))
}

// ListTimelineChapters pages published chapters by the users followerID follows.
func (s *PostgresStore) ListTimelineChapters(ctx context.Context, followerID string, before time.Time, limit int) ([]Chapter, error) {
	return collectChapters(s.db.QueryContext(ctx, `
		SELECT `+chapterColumns+`
		FROM chapters
		WHERE author_id IN (SELECT leader_id FROM follows WHERE follow_id=$1)
		  AND status='published'
		  AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, followerID, before, limit))
}

func (s *PostgresStore) ListAllChapters(ctx context.Context) ([]Chapter, error) {
	return collectChapters(s.db.QueryContext(ctx, `SELECT `+chapterColumns+` FROM chapters ORDER BY created_at`))
}

func (s *PostgresStore) UpdateChapter(ctx context.Context, chapterID, title, description, text string) (Chapter, error) {
	chapter, err := scanChapter(s.db.QueryRowContext(ctx, `
		UPDATE chapters
		SET title=$2, description=$3, text=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING `+chapterColumns,
		chapterID, title, description, text))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chapter{}, err
		}
		return Chapter{}, fmt.Errorf("update chapter: %w", err)
	}
	return chapter, nil
}

// AttachChapterToBook moves a chapter to the end of bookID.
func (s *PostgresStore) AttachChapterToBook(ctx context.Context, chapterID, bookID string) (Chapter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Chapter{}, fmt.Errorf("begin attach chapter: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	number, err := nextChapterNumber(ctx, tx, bookID)
	if err != nil {
		return Chapter{}, err
	}
	chapter, err := scanChapter(tx.QueryRowContext(ctx, `
		UPDATE chapters
		SET book_id=$2, chapter_number=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+chapterColumns,
		chapterID, bookID, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chapter{}, err
		}
		return Chapter{}, fmt.Errorf("attach chapter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Chapter{}, fmt.Errorf("commit attach chapter: %w", err)
	}
	return chapter, nil
}

func (s *PostgresStore) SetChapterStatus(ctx context.Context, chapterID string, status ChapterStatus) (Chapter, error) {
	chapter, err := scanChapter(s.db.QueryRowContext(ctx, `
		UPDATE chapters
		SET status=$2::chapter_status, updated_at=NOW()
		WHERE id=$1
		RETURNING `+chapterColumns,
		chapterID, string(status)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chapter{}, err
		}
		return Chapter{}, fmt.Errorf("set chapter status: %w", err)
	}
	return chapter, nil
}

// DeleteChapter removes the chapter; reactions, comments, tag links, notes and bookmarks cascade.
func (s *PostgresStore) DeleteChapter(ctx context.Context, chapterID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chapters WHERE id=$1`, chapterID)
	if err != nil {
		return false, fmt.Errorf("delete chapter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete chapter rows: %w", err)
	}
	return affected > 0, nil
}

// HasVoted reports whether userID currently holds a vote on the target.
func (s *PostgresStore) HasVoted(ctx context.Context, kind ContentKind, userID, targetID string) (bool, error) {
	_, reactions, err := kind.tables()
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+reactions+` WHERE author_id=$1 AND target_id=$2)`, userID, targetID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup %s vote: %w", kind, err)
	}
	return exists, nil
}
