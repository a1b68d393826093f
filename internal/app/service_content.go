package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"scrivono/api/internal/domain"
	"scrivono/api/internal/gitrepo"
	"scrivono/api/internal/guard"
	"scrivono/api/internal/search"
	"scrivono/api/internal/store"
	"scrivono/api/internal/util"
)

const (
	maxTimelineTake   = 50
	firstChapterTitle = "First Chapter"
	firstChapterText  = "sample chapter"
)

type TagInput struct {
	Label string
	Value string
}

type BookInput struct {
	Title       string
	Description string
	Tags        []TagInput
}

type ChapterInput struct {
	Title       string
	Description string
	Text        string
	BookID      string
	Tags        []TagInput
}

// ChapterUpdate changes only the fields that are set.
type ChapterUpdate struct {
	ID          string
	Title       *string
	Description *string
	Text        *string
}

// BookPage is one timeline page. HasMore is set when the page is full.
type BookPage struct {
	Books   []store.Book
	HasMore bool
}

type ChapterPage struct {
	Chapters []store.Chapter
	HasMore  bool
}

var (
	errBookNotFound    = domain.NotFound("Book doesn't exist or has been deleted.")
	errChapterNotFound = domain.NotFound("Chapter doesn't exist or has been deleted.")
)

func (s *Service) loadBook(ctx context.Context, bookID string) (store.Book, error) {
	if !util.IsID(bookID) {
		return store.Book{}, errBookNotFound
	}
	book, err := s.store.GetBook(ctx, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Book{}, errBookNotFound
	}
	return book, err
}

func (s *Service) loadChapter(ctx context.Context, chapterID string) (store.Chapter, error) {
	if !util.IsID(chapterID) {
		return store.Chapter{}, errChapterNotFound
	}
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chapter{}, errChapterNotFound
	}
	return chapter, err
}

// ownBook loads the book and fails unless the actor wrote it.
func (s *Service) ownBook(ctx context.Context, bookID string) (string, store.Book, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return "", store.Book{}, err
	}
	book, err := s.loadBook(ctx, bookID)
	if err != nil {
		return "", store.Book{}, err
	}
	if err := guard.RequireOwner(actorID, book.AuthorID, "Book"); err != nil {
		return "", store.Book{}, err
	}
	return actorID, book, nil
}

func (s *Service) ownChapter(ctx context.Context, chapterID string) (string, store.Chapter, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return "", store.Chapter{}, err
	}
	chapter, err := s.loadChapter(ctx, chapterID)
	if err != nil {
		return "", store.Chapter{}, err
	}
	if err := guard.RequireOwner(actorID, chapter.AuthorID, "Chapter"); err != nil {
		return "", store.Chapter{}, err
	}
	return actorID, chapter, nil
}

func normalizeTags(input []TagInput) ([]store.Tag, error) {
	seen := make(map[string]bool, len(input))
	tags := make([]store.Tag, 0, len(input))
	for _, tag := range input {
		value := strings.ToLower(strings.TrimSpace(tag.Value))
		if value == "" {
			return nil, domain.Validation("Tag value can't be empty.")
		}
		if seen[value] {
			continue
		}
		seen[value] = true
		label := strings.TrimSpace(tag.Label)
		if label == "" {
			label = value
		}
		tags = append(tags, store.Tag{ID: util.NewID(""), Label: label, Value: value})
	}
	return tags, nil
}

func requireTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", domain.Validation("Title can't be empty.")
	}
	return title, nil
}

func (s *Service) TimelineBooks(ctx context.Context, take int, cursor string) (BookPage, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return BookPage{}, err
	}
	before, err := cursorTime(cursor, s.clock.Now())
	if err != nil {
		return BookPage{}, err
	}
	take = clampTake(take, maxTimelineTake)
	books, err := s.store.ListTimelineBooks(ctx, actorID, before, take)
	if err != nil {
		return BookPage{}, err
	}
	return BookPage{Books: books, HasMore: len(books) == take}, nil
}

// TimelineChapters pages published chapters written by users the actor follows.
func (s *Service) TimelineChapters(ctx context.Context, take int, cursor string) (ChapterPage, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return ChapterPage{}, err
	}
	before, err := cursorTime(cursor, s.clock.Now())
	if err != nil {
		return ChapterPage{}, err
	}
	take = clampTake(take, maxTimelineTake)
	chapters, err := s.store.ListTimelineChapters(ctx, actorID, before, take)
	if err != nil {
		return ChapterPage{}, err
	}
	return ChapterPage{Chapters: chapters, HasMore: len(chapters) == take}, nil
}

// CreateBook stores the book with its first chapter and starts that chapter's history.
func (s *Service) CreateBook(ctx context.Context, input BookInput) (store.Book, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return store.Book{}, err
	}
	title, err := requireTitle(input.Title)
	if err != nil {
		return store.Book{}, err
	}
	tags, err := normalizeTags(input.Tags)
	if err != nil {
		return store.Book{}, err
	}
	if len(tags) > 0 {
		if tags, err = s.store.UpsertTags(ctx, tags); err != nil {
			return store.Book{}, err
		}
	}

	one := 1
	first := store.Chapter{
		ID:            util.NewID(""),
		Title:         firstChapterTitle,
		Text:          firstChapterText,
		Status:        store.StatusDraft,
		ChapterNumber: &one,
		AuthorID:      actorID,
	}
	book, err := s.store.CreateBook(ctx, store.Book{
		ID:          util.NewID(""),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		AuthorID:    actorID,
	}, first, tags)
	if err != nil {
		return store.Book{}, err
	}

	first.BookID = &book.ID
	s.recordRevision(ctx, first, "Create chapter")
	s.indexBook(book)
	s.indexChapter(first)
	return book, nil
}

// GetBook returns a book to its author.
func (s *Service) GetBook(ctx context.Context, bookID string) (store.Book, error) {
	_, book, err := s.ownBook(ctx, bookID)
	return book, err
}

func (s *Service) Books(ctx context.Context) ([]store.Book, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListBooksByAuthor(ctx, actorID)
}

func (s *Service) BooksByAuthor(ctx context.Context, authorID string) ([]store.Book, error) {
	return s.store.ListBooksByAuthor(ctx, authorID)
}

// DeleteBook removes the book and its chapters along with their history and index entries.
func (s *Service) DeleteBook(ctx context.Context, bookID string) (bool, error) {
	_, book, err := s.ownBook(ctx, bookID)
	if err != nil {
		return false, err
	}
	chapters, err := s.store.ListChaptersByBook(ctx, book.ID)
	if err != nil {
		return false, err
	}
	deleted, err := s.store.DeleteBook(ctx, book.ID)
	if err != nil || !deleted {
		return deleted, err
	}
	for _, chapter := range chapters {
		s.forgetChapter(chapter.ID)
	}
	if s.search != nil {
		s.search.DeleteBook(book.ID)
	}
	return true, nil
}

func (s *Service) CreateChapter(ctx context.Context, input ChapterInput) (store.Chapter, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return store.Chapter{}, err
	}
	title, err := requireTitle(input.Title)
	if err != nil {
		return store.Chapter{}, err
	}
	tags, err := normalizeTags(input.Tags)
	if err != nil {
		return store.Chapter{}, err
	}

	chapter := store.Chapter{
		ID:          util.NewID(""),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Text:        input.Text,
		Status:      store.StatusDraft,
		AuthorID:    actorID,
	}
	if input.BookID != "" {
		if _, _, err := s.ownBook(ctx, input.BookID); err != nil {
			return store.Chapter{}, err
		}
		bookID := input.BookID
		chapter.BookID = &bookID
	}
	if len(tags) > 0 {
		if tags, err = s.store.UpsertTags(ctx, tags); err != nil {
			return store.Chapter{}, err
		}
	}

	created, err := s.store.CreateChapter(ctx, chapter, tags)
	if err != nil {
		return store.Chapter{}, err
	}
	s.recordRevision(ctx, created, "Create chapter")
	s.indexChapter(created)
	return created, nil
}

// GetChapter returns published chapters to anyone and drafts to their author only.
func (s *Service) GetChapter(ctx context.Context, chapterID string) (store.Chapter, error) {
	chapter, err := s.loadChapter(ctx, chapterID)
	if err != nil {
		return store.Chapter{}, err
	}
	actorID, _ := guard.Actor(ctx)
	published := chapter.Status == store.StatusPublished
	if !guard.Can(guard.Relate(actorID, chapter.AuthorID), guard.ActionRead, published) {
		return store.Chapter{}, errChapterNotFound
	}
	return chapter, nil
}

func (s *Service) ChaptersFromBook(ctx context.Context, bookID string) ([]store.Chapter, error) {
	_, book, err := s.ownBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return s.store.ListChaptersByBook(ctx, book.ID)
}

// ChaptersFromUser lists a user's chapters. Drafts are included only for the user themself.
func (s *Service) ChaptersFromUser(ctx context.Context, username string) ([]store.Chapter, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	actorID, _ := guard.Actor(ctx)
	return s.store.ListChaptersByAuthor(ctx, user.ID, actorID == user.ID)
}

func (s *Service) UpdateChapter(ctx context.Context, input ChapterUpdate) (store.Chapter, error) {
	_, chapter, err := s.ownChapter(ctx, input.ID)
	if err != nil {
		return store.Chapter{}, err
	}
	title, description, text := chapter.Title, chapter.Description, chapter.Text
	if input.Title != nil {
		if title, err = requireTitle(*input.Title); err != nil {
			return store.Chapter{}, err
		}
	}
	if input.Description != nil {
		description = strings.TrimSpace(*input.Description)
	}
	if input.Text != nil {
		text = *input.Text
	}
	updated, err := s.store.UpdateChapter(ctx, chapter.ID, title, description, text)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chapter{}, errChapterNotFound
	}
	if err != nil {
		return store.Chapter{}, err
	}
	s.recordRevision(ctx, updated, "Update chapter")
	s.indexChapter(updated)
	return updated, nil
}

func (s *Service) AddChapterToBook(ctx context.Context, chapterID, bookID string) (store.Chapter, error) {
	_, chapter, err := s.ownChapter(ctx, chapterID)
	if err != nil {
		return store.Chapter{}, err
	}
	if _, _, err := s.ownBook(ctx, bookID); err != nil {
		return store.Chapter{}, err
	}
	if chapter.BookID != nil && *chapter.BookID == bookID {
		return store.Chapter{}, domain.Conflict("Chapter is already in this book.")
	}
	moved, err := s.store.AttachChapterToBook(ctx, chapter.ID, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chapter{}, errChapterNotFound
	}
	if err != nil {
		return store.Chapter{}, err
	}
	s.indexChapter(moved)
	return moved, nil
}

func (s *Service) DeleteChapter(ctx context.Context, chapterID string) (bool, error) {
	_, chapter, err := s.ownChapter(ctx, chapterID)
	if err != nil {
		return false, err
	}
	deleted, err := s.store.DeleteChapter(ctx, chapter.ID)
	if err != nil || !deleted {
		return deleted, err
	}
	s.forgetChapter(chapter.ID)
	return true, nil
}

// ChangeStatus publishes or unpublishes a chapter. Setting the current status is rejected.
func (s *Service) ChangeStatus(ctx context.Context, chapterID string, status store.ChapterStatus) (store.Chapter, error) {
	if !status.Valid() {
		return store.Chapter{}, domain.Validation("Status must be draft or published.")
	}
	_, chapter, err := s.ownChapter(ctx, chapterID)
	if err != nil {
		return store.Chapter{}, err
	}
	if chapter.Status == status {
		return store.Chapter{}, domain.Validation("Chapter is already " + string(status) + ".")
	}
	updated, err := s.store.SetChapterStatus(ctx, chapter.ID, status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chapter{}, errChapterNotFound
	}
	if err != nil {
		return store.Chapter{}, err
	}
	s.recordRevision(ctx, updated, "Set status to "+string(status))
	s.indexChapter(updated)
	return updated, nil
}

// ChapterHistory lists saved revisions of a chapter, newest first.
func (s *Service) ChapterHistory(ctx context.Context, chapterID string, limit int) ([]store.CommitInfo, error) {
	_, chapter, err := s.ownChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if s.git == nil {
		return []store.CommitInfo{}, nil
	}
	items, err := s.git.History(chapter.ID, limit)
	if errors.Is(err, gitrepo.ErrNoRepository) {
		return []store.CommitInfo{}, nil
	}
	return items, err
}

func (s *Service) ChapterRevision(ctx context.Context, chapterID, hash string) (gitrepo.Content, store.CommitInfo, error) {
	_, chapter, err := s.ownChapter(ctx, chapterID)
	if err != nil {
		return gitrepo.Content{}, store.CommitInfo{}, err
	}
	if s.git == nil {
		return gitrepo.Content{}, store.CommitInfo{}, domain.NotFound("Revision not found.")
	}
	content, info, err := s.git.Revision(chapter.ID, strings.TrimSpace(hash))
	if err != nil {
		if !errors.Is(err, gitrepo.ErrNoRepository) {
			log.Printf("gitrepo: revision %s of %s: %v", hash, chapter.ID, err)
		}
		return gitrepo.Content{}, store.CommitInfo{}, domain.NotFound("Revision not found.")
	}
	return content, info, nil
}

// CompareChapterRevisions lists the fields changed between two revisions.
func (s *Service) CompareChapterRevisions(ctx context.Context, chapterID, fromHash, toHash string) ([]gitrepo.FieldChange, error) {
	from, _, err := s.ChapterRevision(ctx, chapterID, fromHash)
	if err != nil {
		return nil, err
	}
	to, _, err := s.ChapterRevision(ctx, chapterID, toHash)
	if err != nil {
		return nil, err
	}
	return gitrepo.Diff(from, to), nil
}

// recordRevision commits the chapter's versioned fields. Failures are logged, the
// database row stays the source of truth.
func (s *Service) recordRevision(ctx context.Context, chapter store.Chapter, message string) {
	if s.git == nil {
		return
	}
	author := chapter.AuthorID
	if user, err := s.store.GetUserByID(ctx, chapter.AuthorID); err == nil {
		author = user.Username
	}
	if _, _, err := s.git.SaveRevision(chapter.ID, gitrepo.FromChapter(chapter), author, message); err != nil {
		log.Printf("gitrepo: save %s: %v", chapter.ID, err)
	}
}

func (s *Service) forgetChapter(chapterID string) {
	if s.git != nil {
		if err := s.git.Remove(chapterID); err != nil {
			log.Printf("gitrepo: remove %s: %v", chapterID, err)
		}
	}
	if s.search != nil {
		s.search.DeleteChapter(chapterID)
	}
}

func (s *Service) indexBook(book store.Book) {
	if s.search == nil {
		return
	}
	s.search.IndexBook(search.BookRecord{
		ID:          book.ID,
		Title:       book.Title,
		Description: book.Description,
		AuthorID:    book.AuthorID,
	})
}

func (s *Service) indexChapter(chapter store.Chapter) {
	if s.search == nil {
		return
	}
	record := search.ChapterRecord{
		ID:          chapter.ID,
		Title:       chapter.Title,
		Description: chapter.Description,
		Text:        chapter.Text,
		AuthorID:    chapter.AuthorID,
		Status:      string(chapter.Status),
	}
	if chapter.BookID != nil {
		record.BookID = *chapter.BookID
	}
	s.search.IndexChapter(record)
}

func (s *Service) Search(ctx context.Context, text string, kind search.ResultType, take, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Results: []search.Result{}}, nil
	}
	if kind != "" && kind != search.ResultBook && kind != search.ResultChapter {
		return search.Response{}, domain.Validation("Search type must be book or chapter.")
	}
	if offset < 0 {
		offset = 0
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: kind,
		Limit:      clampTake(take, maxTimelineTake),
		Offset:     offset,
	}), nil
}
