package store_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scrivono/api/internal/domain"
	"scrivono/api/internal/reaction"
	"scrivono/api/internal/social"
	"scrivono/api/internal/store"
	"scrivono/api/internal/util"
)

func openMigratedStore(t *testing.T) (*store.PostgresStore, *sql.DB) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SCRIVONO_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SCRIVONO_TEST_DATABASE_URL is not set")
	}
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := store.ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store.NewPostgresStore(db), db
}

func createUser(t *testing.T, s *store.PostgresStore, username string) store.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), store.User{
		ID:           util.NewID(""),
		Name:         username,
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func TestReactionCountersUnderConcurrencyPostgres(t *testing.T) {
	s, db := openMigratedStore(t)
	ctx := context.Background()
	author := createUser(t, s, "author")

	book, err := s.CreateBook(ctx, store.Book{ID: util.NewID(""), Title: "T", AuthorID: author.ID},
		store.Chapter{ID: util.NewID(""), Title: "First Chapter", Text: "sample chapter", AuthorID: author.ID}, nil)
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	svc := reaction.NewService(s, nil)
	voters := make([]store.User, 12)
	for i := range voters {
		voters[i] = createUser(t, s, "voter"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for i, voter := range voters {
		wg.Add(1)
		go func(i int, voterID string) {
			defer wg.Done()
			value := 1
			if i%3 == 0 {
				value = -1
			}
			// same polarity twice retracts, so the final vote is the opposite of the first
			for _, v := range []int{value, value, -value} {
				if _, err := svc.Apply(ctx, voterID, reaction.Target{Kind: store.KindBook, ID: book.ID}, v); err != nil {
					t.Errorf("apply: %v", err)
				}
			}
		}(i, voter.ID)
	}
	wg.Wait()

	var likes, dislikes, upVotes, downVotes int
	if err := db.QueryRowContext(ctx, `SELECT likes, dislikes FROM books WHERE id=$1`, book.ID).Scan(&likes, &dislikes); err != nil {
		t.Fatalf("read counters: %v", err)
	}
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE value = 1), COUNT(*) FILTER (WHERE value = -1)
		FROM book_reactions WHERE target_id=$1
	`, book.ID).Scan(&upVotes, &downVotes); err != nil {
		t.Fatalf("count votes: %v", err)
	}
	if likes != upVotes || dislikes != downVotes {
		t.Fatalf("counter drift: likes=%d votes=%d dislikes=%d votes=%d", likes, upVotes, dislikes, downVotes)
	}
	if likes != 4 || dislikes != 8 {
		t.Fatalf("expected 4 likes and 8 dislikes, got %d/%d", likes, dislikes)
	}
}

func TestFollowCountersPostgres(t *testing.T) {
	s, _ := openMigratedStore(t)
	ctx := context.Background()
	a := createUser(t, s, "alice")
	b := createUser(t, s, "bob")
	svc := social.NewService(s, nil)

	if _, err := svc.Follow(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if _, err := svc.Follow(ctx, a.ID, b.ID); domain.KindOf(err) != domain.KindDuplicateEdge {
		t.Fatalf("expected duplicate edge, got %v", err)
	}

	leader, err := s.GetUserByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("get leader: %v", err)
	}
	follower, err := s.GetUserByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get follower: %v", err)
	}
	if leader.FollowerCount != 1 || follower.FollowingCount != 1 {
		t.Fatalf("unexpected counters: leader=%d follower=%d", leader.FollowerCount, follower.FollowingCount)
	}

	if _, err := svc.Unfollow(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	leader, _ = s.GetUserByID(ctx, b.ID)
	if leader.FollowerCount != 0 {
		t.Fatalf("expected followerCount 0 after unfollow, got %d", leader.FollowerCount)
	}
}
