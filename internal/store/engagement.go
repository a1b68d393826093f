package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const commentColumns = `id, text, author_id, book_id, chapter_id, created_at, updated_at`

func scanComment(row rowScanner) (Comment, error) {
	var (
		comment   Comment
		bookID    sql.NullString
		chapterID sql.NullString
	)
	if err := row.Scan(&comment.ID, &comment.Text, &comment.AuthorID, &bookID, &chapterID, &comment.CreatedAt, &comment.UpdatedAt); err != nil {
		return Comment{}, err
	}
	comment.BookID = nullableString(bookID)
	comment.ChapterID = nullableString(chapterID)
	return comment, nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func optional(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) (Comment, error) {
	created, err := scanComment(s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, text, author_id, book_id, chapter_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+commentColumns,
		comment.ID, comment.Text, comment.AuthorID, optional(comment.BookID), optional(comment.ChapterID)))
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	return scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, commentID))
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, text string) (Comment, error) {
	comment, err := scanComment(s.db.QueryRowContext(ctx, `
		UPDATE comments SET text=$2, updated_at=NOW() WHERE id=$1
		RETURNING `+commentColumns,
		commentID, text))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Comment{}, err
		}
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return comment, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, kind ContentKind, targetID string) ([]Comment, error) {
	column := "book_id"
	if kind == KindChapter {
		column = "chapter_id"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE `+column+`=$1
		ORDER BY created_at
	`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// UpsertTags returns the canonical row for every tag value, creating missing ones.
func (s *PostgresStore) UpsertTags(ctx context.Context, tags []Tag) ([]Tag, error) {
	items := make([]Tag, 0, len(tags))
	for _, tag := range tags {
		var stored Tag
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO tags (id, label, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (value) DO UPDATE SET label = tags.label
			RETURNING id, label, value
		`, tag.ID, tag.Label, tag.Value).Scan(&stored.ID, &stored.Label, &stored.Value)
		if err != nil {
			return nil, fmt.Errorf("upsert tag %s: %w", tag.Value, err)
		}
		items = append(items, stored)
	}
	return items, nil
}

func linkTags(ctx context.Context, tx *sql.Tx, kind ContentKind, targetID string, tags []Tag) error {
	query := `INSERT INTO book_tags (book_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if kind == KindChapter {
		query = `INSERT INTO chapter_tags (chapter_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, query, targetID, tag.ID); err != nil {
			return fmt.Errorf("link %s tag: %w", kind, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListTags(ctx context.Context, kind ContentKind, targetID string) ([]Tag, error) {
	query := `SELECT t.id, t.label, t.value FROM tags t JOIN book_tags l ON l.tag_id = t.id WHERE l.book_id=$1 ORDER BY t.value`
	if kind == KindChapter {
		query = `SELECT t.id, t.label, t.value FROM tags t JOIN chapter_tags l ON l.tag_id = t.id WHERE l.chapter_id=$1 ORDER BY t.value`
	}
	rows, err := s.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Label, &tag.Value); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

// SaveReadLater bookmarks a chapter; an existing bookmark yields ErrDuplicate.
func (s *PostgresStore) SaveReadLater(ctx context.Context, userID, chapterID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO read_later (author_id, chapter_id) VALUES ($1, $2)`, userID, chapterID)
	if err != nil {
		if _, ok := violatedConstraint(err); ok {
			return ErrDuplicate
		}
		return fmt.Errorf("save read later: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveReadLater(ctx context.Context, userID, chapterID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM read_later WHERE author_id=$1 AND chapter_id=$2`, userID, chapterID)
	if err != nil {
		return false, fmt.Errorf("remove read later: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove read later rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListReadLater(ctx context.Context, userID string, limit, offset int) ([]SavedChapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixed("c.", chapterColumns)+`, r.created_at
		FROM read_later r JOIN chapters c ON c.id = r.chapter_id
		WHERE r.author_id=$1
		ORDER BY r.created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list read later: %w", err)
	}
	defer rows.Close()

	items := make([]SavedChapter, 0)
	for rows.Next() {
		var (
			saved  SavedChapter
			status string
			number sql.NullInt32
			bookID sql.NullString
		)
		c := &saved.Chapter
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.Text, &status, &number, &c.AuthorID, &bookID,
			&c.Likes, &c.Dislikes, &c.CreatedAt, &c.UpdatedAt, &saved.SavedAt); err != nil {
			return nil, fmt.Errorf("scan read later: %w", err)
		}
		c.Status = ChapterStatus(status)
		c.BookID = nullableString(bookID)
		if number.Valid {
			n := int(number.Int32)
			c.ChapterNumber = &n
		}
		items = append(items, saved)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate read later: %w", err)
	}
	return items, nil
}

const noteColumns = `id, title, text, author_id, book_id, chapter_id, created_at, updated_at`

func scanNote(row rowScanner) (Note, error) {
	var (
		note      Note
		chapterID sql.NullString
	)
	if err := row.Scan(&note.ID, &note.Title, &note.Text, &note.AuthorID, &note.BookID, &chapterID, &note.CreatedAt, &note.UpdatedAt); err != nil {
		return Note{}, err
	}
	note.ChapterID = nullableString(chapterID)
	return note, nil
}

func (s *PostgresStore) CreateNote(ctx context.Context, note Note) (Note, error) {
	created, err := scanNote(s.db.QueryRowContext(ctx, `
		INSERT INTO notes (id, title, text, author_id, book_id, chapter_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+noteColumns,
		note.ID, note.Title, note.Text, note.AuthorID, note.BookID, optional(note.ChapterID)))
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	return scanNote(s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=$1`, noteID))
}

// ListNotes returns the author's notes on a book, narrowed to one chapter when chapterID is set.
func (s *PostgresStore) ListNotes(ctx context.Context, authorID, bookID string, chapterID *string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE author_id=$1 AND book_id=$2 AND ($3::uuid IS NULL OR chapter_id=$3::uuid)
		ORDER BY created_at DESC
	`, authorID, bookID, optional(chapterID))
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, noteID, title, text string) (Note, error) {
	note, err := scanNote(s.db.QueryRowContext(ctx, `
		UPDATE notes SET title=$2, text=$3, updated_at=NOW() WHERE id=$1
		RETURNING `+noteColumns,
		noteID, title, text))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Note{}, err
		}
		return Note{}, fmt.Errorf("update note: %w", err)
	}
	return note, nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// AttachTags upserts the canonical tag rows and links them to the target in one transaction.
func (s *PostgresStore) AttachTags(ctx context.Context, kind ContentKind, targetID string, tags []Tag) ([]Tag, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin attach tags: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	items := make([]Tag, 0, len(tags))
	for _, tag := range tags {
		var stored Tag
		err := tx.QueryRowContext(ctx, `
			INSERT INTO tags (id, label, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (value) DO UPDATE SET label = tags.label
			RETURNING id, label, value
		`, tag.ID, tag.Label, tag.Value).Scan(&stored.ID, &stored.Label, &stored.Value)
		if err != nil {
			return nil, fmt.Errorf("upsert tag %s: %w", tag.Value, err)
		}
		items = append(items, stored)
	}
	if err := linkTags(ctx, tx, kind, targetID, items); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attach tags: %w", err)
	}
	return items, nil
}
