package store

import (
	"fmt"
	"time"
)

type User struct {
	ID             string
	Name           string
	Email          string
	Username       string
	PasswordHash   string
	Bio            string
	AvatarSeed     string
	FollowerCount  int
	FollowingCount int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Profile is the counter-bearing part of a user row.
type Profile struct {
	ID             string
	FollowerCount  int
	FollowingCount int
}

// Follow is a directed edge: FollowID follows LeaderID.
type Follow struct {
	LeaderID  string
	FollowID  string
	CreatedAt time.Time
}

// ContentKind selects which reactable table pair an operation touches.
type ContentKind string

const (
	KindBook    ContentKind = "book"
	KindChapter ContentKind = "chapter"
)

func (k ContentKind) Valid() bool {
	return k == KindBook || k == KindChapter
}

// tables returns the content and reaction table names. Only whitelisted kinds reach SQL.
func (k ContentKind) tables() (content string, reactions string, err error) {
	switch k {
	case KindBook:
		return "books", "book_reactions", nil
	case KindChapter:
		return "chapters", "chapter_reactions", nil
	default:
		return "", "", fmt.Errorf("unknown content kind %q", string(k))
	}
}

// Content is the reactable view shared by books and chapters.
type Content struct {
	Kind     ContentKind
	ID       string
	AuthorID string
	Likes    int
	Dislikes int
}

type Vote struct {
	AuthorID string
	TargetID string
	Value    int
}

type Book struct {
	ID          string
	Title       string
	Description string
	AuthorID    string
	Likes       int
	Dislikes    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ChapterStatus string

const (
	StatusDraft     ChapterStatus = "draft"
	StatusPublished ChapterStatus = "published"
)

func (s ChapterStatus) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

type Chapter struct {
	ID            string
	Title         string
	Description   string
	Text          string
	Status        ChapterStatus
	ChapterNumber *int
	AuthorID      string
	BookID        *string
	Likes         int
	Dislikes      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Comment struct {
	ID        string
	Text      string
	AuthorID  string
	BookID    *string
	ChapterID *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Tag struct {
	ID    string
	Label string
	Value string
}

type Note struct {
	ID        string
	Title     string
	Text      string
	AuthorID  string
	BookID    string
	ChapterID *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SavedChapter is a read-later bookmark joined with its chapter.
type SavedChapter struct {
	Chapter Chapter
	SavedAt time.Time
}

// CommitInfo describes one saved revision of a chapter.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
