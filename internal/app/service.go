package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"scrivono/api/internal/auth"
	"scrivono/api/internal/authpw"
	"scrivono/api/internal/config"
	"scrivono/api/internal/domain"
	"scrivono/api/internal/export"
	"scrivono/api/internal/gitrepo"
	"scrivono/api/internal/reaction"
	"scrivono/api/internal/search"
	"scrivono/api/internal/session"
	"scrivono/api/internal/social"
	"scrivono/api/internal/store"
)

type dataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	UpdateProfile(context.Context, string, string, string, string) (store.User, error)
	ListFollowing(context.Context, string) ([]store.User, error)
	ListFollowers(context.Context, string) ([]store.User, error)

	CreateBook(context.Context, store.Book, store.Chapter, []store.Tag) (store.Book, error)
	GetBook(context.Context, string) (store.Book, error)
	ListBooksByAuthor(context.Context, string) ([]store.Book, error)
	ListTimelineBooks(context.Context, string, time.Time, int) ([]store.Book, error)
	DeleteBook(context.Context, string) (bool, error)

	CreateChapter(context.Context, store.Chapter, []store.Tag) (store.Chapter, error)
	GetChapter(context.Context, string) (store.Chapter, error)
	ListChaptersByBook(context.Context, string) ([]store.Chapter, error)
	ListChaptersByAuthor(context.Context, string, bool) ([]store.Chapter, error)
	ListTimelineChapters(context.Context, string, time.Time, int) ([]store.Chapter, error)
	UpdateChapter(context.Context, string, string, string, string) (store.Chapter, error)
	AttachChapterToBook(context.Context, string, string) (store.Chapter, error)
	SetChapterStatus(context.Context, string, store.ChapterStatus) (store.Chapter, error)
	DeleteChapter(context.Context, string) (bool, error)
	HasVoted(context.Context, store.ContentKind, string, string) (bool, error)

	CreateComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	UpdateComment(context.Context, string, string) (store.Comment, error)
	DeleteComment(context.Context, string) error
	ListComments(context.Context, store.ContentKind, string) ([]store.Comment, error)

	UpsertTags(context.Context, []store.Tag) ([]store.Tag, error)
	AttachTags(context.Context, store.ContentKind, string, []store.Tag) ([]store.Tag, error)
	ListTags(context.Context, store.ContentKind, string) ([]store.Tag, error)

	SaveReadLater(context.Context, string, string) error
	RemoveReadLater(context.Context, string, string) (bool, error)
	ListReadLater(context.Context, string, int, int) ([]store.SavedChapter, error)

	CreateNote(context.Context, store.Note) (store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	ListNotes(context.Context, string, string, *string) ([]store.Note, error)
	UpdateNote(context.Context, string, string, string) (store.Note, error)
	DeleteNote(context.Context, string) error

	Ping(context.Context) error
}

type gitService interface {
	SaveRevision(string, gitrepo.Content, string, string) (store.CommitInfo, bool, error)
	History(string, int) ([]store.CommitInfo, error)
	Revision(string, string) (gitrepo.Content, store.CommitInfo, error)
	Remove(string) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexBook(search.BookRecord)
	IndexChapter(search.ChapterRecord)
	DeleteBook(string)
	DeleteChapter(string)
}

type sessionStore interface {
	Create(context.Context, string, time.Duration) (string, error)
	Lookup(context.Context, string) (session.Data, error)
	Destroy(context.Context, string) error
	Ping(context.Context) error
}

type exporter interface {
	Export(context.Context, export.Book, export.Format) (*export.Result, error)
}

type objectUploader interface {
	Upload(ctx context.Context, ownerID, filename, contentType string, data []byte) (string, error)
}

type mailer interface {
	IsConfigured() bool
	SendWelcomeEmail(to, name, username, loginURL string) error
}

type retryObserver interface {
	ObserveRetry(operation string)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	accounts  *authpw.Service
	reactions *reaction.Service
	social    *social.Service
	git       gitService
	search    searchService
	exporter  exporter
	objects   objectUploader
	mail      mailer
	retries   retryObserver
	clock     clock.Clock
}

// Deps are the collaborators wired by cmd/api. Optional ones may be nil.
type Deps struct {
	Store     *store.PostgresStore
	Sessions  *session.RedisStore
	Git       *gitrepo.Service
	Search    *search.Service
	Exporter  *export.Service
	Objects   objectUploader
	Mail      mailer
	Reactions reaction.Observer
	Follows   social.Observer
	Retries   retryObserver
}

func New(cfg config.Config, deps Deps) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     deps.Store,
		accounts:  authpw.NewService(deps.Store),
		reactions: reaction.NewService(deps.Store, deps.Reactions),
		social:    social.NewService(deps.Store, deps.Follows),
		objects:   deps.Objects,
		mail:      deps.Mail,
		retries:   deps.Retries,
		clock:     clock.WallClock,
	}
	// Optional collaborators stay nil interfaces when absent.
	if deps.Sessions != nil {
		svc.sessions = deps.Sessions
	}
	if deps.Git != nil {
		svc.git = deps.Git
	}
	if deps.Search != nil {
		svc.search = deps.Search
	}
	if deps.Exporter != nil {
		svc.exporter = deps.Exporter
	} else {
		svc.exporter = export.NewService()
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks the session store.
func (s *Service) PingSessions(ctx context.Context) error {
	if s.sessions == nil {
		return errors.New("session store not configured")
	}
	return s.sessions.Ping(ctx)
}

func (s *Service) reconcileAttempts() int {
	if s.cfg.ReconcileAttempts < 1 {
		return 1
	}
	return s.cfg.ReconcileAttempts
}

func (s *Service) reconcileDelay() time.Duration {
	if s.cfg.ReconcileDelay <= 0 {
		return time.Millisecond
	}
	return s.cfg.ReconcileDelay
}

// withRetry re-runs fn while it fails with a retryable reconciliation error. Each
// attempt opens a fresh unit of work, so state is re-read every time.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var last error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			last = fn()
			return last
		},
		IsFatalError: func(err error) bool {
			return !domain.Retryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			log.Printf("app: %s attempt %d failed: %v", op, attempt, err)
			if s.retries != nil {
				s.retries.ObserveRetry(op)
			}
		},
		Attempts: s.reconcileAttempts(),
		Delay:    s.reconcileDelay(),
		Clock:    s.clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return err
}

// StartSession stores a new session for userID and returns the signed cookie value.
func (s *Service) StartSession(ctx context.Context, userID string) (string, error) {
	if s.sessions == nil {
		return "", errors.New("session store not configured")
	}
	id, err := s.sessions.Create(ctx, userID, s.cfg.SessionTTL)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return auth.SignSessionID([]byte(s.cfg.SessionSecret), id), nil
}

// ResolveSession maps a cookie value to the user it was issued for.
func (s *Service) ResolveSession(ctx context.Context, cookieValue string) (string, error) {
	if s.sessions == nil {
		return "", session.ErrNotFound
	}
	id, err := auth.VerifySessionID([]byte(s.cfg.SessionSecret), cookieValue)
	if err != nil {
		return "", err
	}
	data, err := s.sessions.Lookup(ctx, id)
	if err != nil {
		return "", err
	}
	return data.UserID, nil
}

// EndSession destroys the session behind cookieValue. Unknown sessions are not an error.
func (s *Service) EndSession(ctx context.Context, cookieValue string) error {
	if s.sessions == nil {
		return nil
	}
	id, err := auth.VerifySessionID([]byte(s.cfg.SessionSecret), cookieValue)
	if err != nil {
		return nil
	}
	return s.sessions.Destroy(ctx, id)
}

// cursorTime parses a timeline cursor (unix milliseconds). Empty means "now".
func cursorTime(cursor string, now time.Time) (time.Time, error) {
	if cursor == "" {
		return now, nil
	}
	ms, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return time.Time{}, domain.Validation("Cursor must be a unix timestamp in milliseconds.")
	}
	return time.UnixMilli(ms), nil
}

func clampTake(take, max int) int {
	if take < 1 {
		return 1
	}
	if take > max {
		return max
	}
	return take
}
