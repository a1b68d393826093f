package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Tx is the set of row operations the reaction and follow mutations run inside one
// unit of work. Lock* methods take a row lock held until the unit of work ends and
// return sql.ErrNoRows when the row is missing.
type Tx interface {
	LockContent(ctx context.Context, kind ContentKind, id string) (Content, error)
	FindVote(ctx context.Context, kind ContentKind, authorID, targetID string) (Vote, bool, error)
	InsertVote(ctx context.Context, kind ContentKind, vote Vote) error
	UpdateVote(ctx context.Context, kind ContentKind, vote Vote) error
	DeleteVote(ctx context.Context, kind ContentKind, authorID, targetID string) error
	AddContentCounters(ctx context.Context, kind ContentKind, id string, likes, dislikes int) (Content, error)

	LockProfile(ctx context.Context, userID string) (Profile, error)
	FindFollow(ctx context.Context, leaderID, followID string) (bool, error)
	InsertFollow(ctx context.Context, leaderID, followID string) error
	DeleteFollow(ctx context.Context, leaderID, followID string) error
	AddFollowCounters(ctx context.Context, userID string, followers, following int) (Profile, error)
}

// WithinTx runs fn in a database transaction. It commits when fn returns nil and
// rolls back otherwise, including when ctx is cancelled mid-flight.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockContent(ctx context.Context, kind ContentKind, id string) (Content, error) {
	table, _, err := kind.tables()
	if err != nil {
		return Content{}, err
	}
	content := Content{Kind: kind}
	query := `SELECT id, author_id, likes, dislikes FROM ` + table + ` WHERE id = $1 FOR UPDATE`
	err = t.tx.QueryRowContext(ctx, query, id).Scan(&content.ID, &content.AuthorID, &content.Likes, &content.Dislikes)
	if err != nil {
		return Content{}, err
	}
	return content, nil
}

func (t *pgTx) FindVote(ctx context.Context, kind ContentKind, authorID, targetID string) (Vote, bool, error) {
	_, reactions, err := kind.tables()
	if err != nil {
		return Vote{}, false, err
	}
	vote := Vote{AuthorID: authorID, TargetID: targetID}
	query := `SELECT value FROM ` + reactions + ` WHERE author_id = $1 AND target_id = $2`
	err = t.tx.QueryRowContext(ctx, query, authorID, targetID).Scan(&vote.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return Vote{}, false, nil
	}
	if err != nil {
		return Vote{}, false, fmt.Errorf("lookup %s vote: %w", kind, err)
	}
	return vote, true, nil
}

func (t *pgTx) InsertVote(ctx context.Context, kind ContentKind, vote Vote) error {
	_, reactions, err := kind.tables()
	if err != nil {
		return err
	}
	query := `INSERT INTO ` + reactions + ` (author_id, target_id, value) VALUES ($1, $2, $3)`
	if _, err := t.tx.ExecContext(ctx, query, vote.AuthorID, vote.TargetID, vote.Value); err != nil {
		return fmt.Errorf("insert %s vote: %w", kind, err)
	}
	return nil
}

func (t *pgTx) UpdateVote(ctx context.Context, kind ContentKind, vote Vote) error {
	_, reactions, err := kind.tables()
	if err != nil {
		return err
	}
	query := `UPDATE ` + reactions + ` SET value = $3, updated_at = NOW() WHERE author_id = $1 AND target_id = $2`
	result, err := t.tx.ExecContext(ctx, query, vote.AuthorID, vote.TargetID, vote.Value)
	if err != nil {
		return fmt.Errorf("update %s vote: %w", kind, err)
	}
	return expectOneRow(result, "update "+string(kind)+" vote")
}

func (t *pgTx) DeleteVote(ctx context.Context, kind ContentKind, authorID, targetID string) error {
	_, reactions, err := kind.tables()
	if err != nil {
		return err
	}
	query := `DELETE FROM ` + reactions + ` WHERE author_id = $1 AND target_id = $2`
	result, err := t.tx.ExecContext(ctx, query, authorID, targetID)
	if err != nil {
		return fmt.Errorf("delete %s vote: %w", kind, err)
	}
	return expectOneRow(result, "delete "+string(kind)+" vote")
}

func (t *pgTx) AddContentCounters(ctx context.Context, kind ContentKind, id string, likes, dislikes int) (Content, error) {
	table, _, err := kind.tables()
	if err != nil {
		return Content{}, err
	}
	content := Content{Kind: kind}
	query := `
		UPDATE ` + table + `
		SET likes = likes + $2, dislikes = dislikes + $3
		WHERE id = $1
		RETURNING id, author_id, likes, dislikes
	`
	err = t.tx.QueryRowContext(ctx, query, id, likes, dislikes).Scan(&content.ID, &content.AuthorID, &content.Likes, &content.Dislikes)
	if err != nil {
		return Content{}, fmt.Errorf("update %s counters: %w", kind, err)
	}
	return content, nil
}

func (t *pgTx) LockProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, follower_count, following_count FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&profile.ID, &profile.FollowerCount, &profile.FollowingCount)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (t *pgTx) FindFollow(ctx context.Context, leaderID, followID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM follows WHERE leader_id = $1 AND follow_id = $2)
	`, leaderID, followID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup follow: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertFollow(ctx context.Context, leaderID, followID string) error {
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO follows (leader_id, follow_id) VALUES ($1, $2)`, leaderID, followID); err != nil {
		return fmt.Errorf("insert follow: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteFollow(ctx context.Context, leaderID, followID string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM follows WHERE leader_id = $1 AND follow_id = $2`, leaderID, followID)
	if err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	return expectOneRow(result, "delete follow")
}

func (t *pgTx) AddFollowCounters(ctx context.Context, userID string, followers, following int) (Profile, error) {
	var profile Profile
	err := t.tx.QueryRowContext(ctx, `
		UPDATE users
		SET follower_count = follower_count + $2, following_count = following_count + $3
		WHERE id = $1
		RETURNING id, follower_count, following_count
	`, userID, followers, following).Scan(&profile.ID, &profile.FollowerCount, &profile.FollowingCount)
	if err != nil {
		return Profile{}, fmt.Errorf("update follow counters: %w", err)
	}
	return profile, nil
}

func expectOneRow(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected != 1 {
		return fmt.Errorf("%s: expected 1 row, got %d", op, affected)
	}
	return nil
}
