package app

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"strings"

	"scrivono/api/internal/domain"
	"scrivono/api/internal/export"
	"scrivono/api/internal/guard"
	"scrivono/api/internal/reaction"
	"scrivono/api/internal/store"
	"scrivono/api/internal/util"
)

const maxSavedTake = 50

type CommentInput struct {
	Text      string
	BookID    string
	ChapterID string
}

type TagsInput struct {
	Kind     store.ContentKind
	TargetID string
	Tags     []TagInput
}

type NoteInput struct {
	Title     string
	Text      string
	BookID    string
	ChapterID string
}

type SavedPage struct {
	Items   []store.SavedChapter
	HasMore bool
}

// Reacted is a reaction outcome with counters overlaid on the freshly loaded content.
type Reacted struct {
	Book     store.Book
	Chapter  store.Chapter
	HasVoted bool
	Action   reaction.Action
}

// Exported is either a download URL or the inline base64 payload.
type Exported struct {
	Filename string
	MimeType string
	URL      string
	Data     string
}

var errCommentNotFound = domain.NotFound("Comment doesn't exist or has been deleted.")

// commentTarget resolves exactly one of bookID or chapterID to a readable target.
func (s *Service) commentTarget(ctx context.Context, actorID, bookID, chapterID string) (store.ContentKind, string, error) {
	switch {
	case bookID != "" && chapterID != "":
		return "", "", domain.Validation("Comment on a book or a chapter, not both.")
	case bookID != "":
		if _, err := s.loadBook(ctx, bookID); err != nil {
			return "", "", err
		}
		return store.KindBook, bookID, nil
	case chapterID != "":
		chapter, err := s.loadChapter(ctx, chapterID)
		if err != nil {
			return "", "", err
		}
		published := chapter.Status == store.StatusPublished
		if !guard.Can(guard.Relate(actorID, chapter.AuthorID), guard.ActionReact, published) {
			return "", "", errChapterNotFound
		}
		return store.KindChapter, chapterID, nil
	default:
		return "", "", domain.Validation("Comment needs a book or a chapter.")
	}
}

func (s *Service) CreateComment(ctx context.Context, input CommentInput) (store.Comment, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return store.Comment{}, err
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return store.Comment{}, domain.Validation("Comment can't be empty.")
	}
	kind, targetID, err := s.commentTarget(ctx, actorID, input.BookID, input.ChapterID)
	if err != nil {
		return store.Comment{}, err
	}
	comment := store.Comment{ID: util.NewID(""), Text: text, AuthorID: actorID}
	if kind == store.KindBook {
		comment.BookID = &targetID
	} else {
		comment.ChapterID = &targetID
	}
	return s.store.CreateComment(ctx, comment)
}

func (s *Service) ownComment(ctx context.Context, commentID string) (store.Comment, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return store.Comment{}, err
	}
	if !util.IsID(commentID) {
		return store.Comment{}, errCommentNotFound
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Comment{}, errCommentNotFound
	}
	if err != nil {
		return store.Comment{}, err
	}
	if err := guard.RequireOwner(actorID, comment.AuthorID, "Comment"); err != nil {
		return store.Comment{}, err
	}
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, commentID, text string) (store.Comment, error) {
	comment, err := s.ownComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Comment{}, domain.Validation("Comment can't be empty.")
	}
	updated, err := s.store.UpdateComment(ctx, comment.ID, text)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Comment{}, errCommentNotFound
	}
	return updated, err
}

func (s *Service) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	comment, err := s.ownComment(ctx, commentID)
	if err != nil {
		return false, err
	}
	if err := s.store.DeleteComment(ctx, comment.ID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Comments(ctx context.Context, kind store.ContentKind, targetID string) ([]store.Comment, error) {
	return s.store.ListComments(ctx, kind, targetID)
}

// CreateTags links tags to a book or chapter the actor owns.
func (s *Service) CreateTags(ctx context.Context, input TagsInput) ([]store.Tag, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return nil, err
	}
	var ownerID, what string
	switch input.Kind {
	case store.KindBook:
		book, err := s.loadBook(ctx, input.TargetID)
		if err != nil {
			return nil, err
		}
		ownerID, what = book.AuthorID, "Book"
	case store.KindChapter:
		chapter, err := s.loadChapter(ctx, input.TargetID)
		if err != nil {
			return nil, err
		}
		ownerID, what = chapter.AuthorID, "Chapter"
	default:
		return nil, domain.Validation("Unknown content type.")
	}
	if err := guard.RequireOwner(actorID, ownerID, what); err != nil {
		return nil, err
	}
	tags, err := normalizeTags(input.Tags)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, domain.Validation("Provide at least one tag.")
	}
	return s.store.AttachTags(ctx, input.Kind, input.TargetID, tags)
}

func (s *Service) Tags(ctx context.Context, kind store.ContentKind, targetID string) ([]store.Tag, error) {
	return s.store.ListTags(ctx, kind, targetID)
}

func (s *Service) SaveToReadLater(ctx context.Context, chapterID string) (bool, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return false, err
	}
	chapter, err := s.loadChapter(ctx, chapterID)
	if err != nil {
		return false, err
	}
	published := chapter.Status == store.StatusPublished
	if !guard.Can(guard.Relate(actorID, chapter.AuthorID), guard.ActionRead, published) {
		return false, errChapterNotFound
	}
	err = s.store.SaveReadLater(ctx, actorID, chapter.ID)
	if errors.Is(err, store.ErrDuplicate) {
		return false, domain.Conflict("Chapter is already saved.")
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) RemoveFromReadLater(ctx context.Context, chapterID string) (bool, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return false, err
	}
	if !util.IsID(chapterID) {
		return false, domain.NotFound("Chapter is not in your read later list.")
	}
	removed, err := s.store.RemoveReadLater(ctx, actorID, chapterID)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, domain.NotFound("Chapter is not in your read later list.")
	}
	return true, nil
}

func (s *Service) SavedChapters(ctx context.Context, take, offset int) (SavedPage, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return SavedPage{}, err
	}
	take = clampTake(take, maxSavedTake)
	if offset < 0 {
		offset = 0
	}
	items, err := s.store.ListReadLater(ctx, actorID, take, offset)
	if err != nil {
		return SavedPage{}, err
	}
	return SavedPage{Items: items, HasMore: len(items) == take}, nil
}

func (s *Service) CreateNote(ctx context.Context, input NoteInput) (store.Note, error) {
	actorID, book, err := s.ownBook(ctx, input.BookID)
	if err != nil {
		return store.Note{}, err
	}
	title, err := requireTitle(input.Title)
	if err != nil {
		return store.Note{}, err
	}
	note := store.Note{ID: util.NewID(""), Title: title, Text: input.Text, AuthorID: actorID, BookID: book.ID}
	if input.ChapterID != "" {
		chapter, err := s.loadChapter(ctx, input.ChapterID)
		if err != nil {
			return store.Note{}, err
		}
		if chapter.BookID == nil || *chapter.BookID != book.ID {
			return store.Note{}, domain.Validation("Chapter doesn't belong to this book.")
		}
		note.ChapterID = &chapter.ID
	}
	return s.store.CreateNote(ctx, note)
}

func (s *Service) ownNote(ctx context.Context, noteID string) (store.Note, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return store.Note{}, err
	}
	notFound := domain.NotFound("Note doesn't exist or has been deleted.")
	if !util.IsID(noteID) {
		return store.Note{}, notFound
	}
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, notFound
	}
	if err != nil {
		return store.Note{}, err
	}
	if err := guard.RequireOwner(actorID, note.AuthorID, "Note"); err != nil {
		return store.Note{}, err
	}
	return note, nil
}

func (s *Service) GetNote(ctx context.Context, noteID string) (store.Note, error) {
	return s.ownNote(ctx, noteID)
}

// Notes lists the actor's notes on a book, or on one chapter of it.
func (s *Service) Notes(ctx context.Context, bookID, chapterID string) ([]store.Note, error) {
	actorID, book, err := s.ownBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	var chapter *string
	if chapterID != "" {
		if !util.IsID(chapterID) {
			return nil, errChapterNotFound
		}
		chapter = &chapterID
	}
	return s.store.ListNotes(ctx, actorID, book.ID, chapter)
}

func (s *Service) UpdateNote(ctx context.Context, noteID, title, text string) (store.Note, error) {
	note, err := s.ownNote(ctx, noteID)
	if err != nil {
		return store.Note{}, err
	}
	if title, err = requireTitle(title); err != nil {
		return store.Note{}, err
	}
	return s.store.UpdateNote(ctx, note.ID, title, text)
}

func (s *Service) DeleteNote(ctx context.Context, noteID string) (bool, error) {
	note, err := s.ownNote(ctx, noteID)
	if err != nil {
		return false, err
	}
	if err := s.store.DeleteNote(ctx, note.ID); err != nil {
		return false, err
	}
	return true, nil
}

// React reconciles the actor's vote on a book or chapter. Drafts only accept
// reactions from their author.
func (s *Service) React(ctx context.Context, kind store.ContentKind, targetID string, value int) (Reacted, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return Reacted{}, err
	}
	var out Reacted
	switch kind {
	case store.KindBook:
		if out.Book, err = s.loadBook(ctx, targetID); err != nil {
			return Reacted{}, err
		}
	case store.KindChapter:
		if out.Chapter, err = s.loadChapter(ctx, targetID); err != nil {
			return Reacted{}, err
		}
		published := out.Chapter.Status == store.StatusPublished
		if !guard.Can(guard.Relate(actorID, out.Chapter.AuthorID), guard.ActionReact, published) {
			return Reacted{}, errChapterNotFound
		}
	default:
		return Reacted{}, domain.Validation("Unknown content type.")
	}

	var result reaction.Result
	err = s.withRetry(ctx, "react_"+string(kind), func() error {
		var err error
		result, err = s.reactions.Apply(ctx, actorID, reaction.Target{Kind: kind, ID: targetID}, value)
		return err
	})
	if err != nil {
		return Reacted{}, err
	}

	out.HasVoted = result.HasVoted
	out.Action = result.Action
	if kind == store.KindBook {
		out.Book.Likes, out.Book.Dislikes = result.Content.Likes, result.Content.Dislikes
	} else {
		out.Chapter.Likes, out.Chapter.Dislikes = result.Content.Likes, result.Content.Dislikes
	}
	return out, nil
}

// HasVoted is false for anonymous callers.
func (s *Service) HasVoted(ctx context.Context, kind store.ContentKind, targetID string) (bool, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return false, nil
	}
	return s.store.HasVoted(ctx, kind, actorID, targetID)
}

// ExportBook renders the actor's book and returns a download URL when object storage
// is configured, otherwise the document inline.
func (s *Service) ExportBook(ctx context.Context, bookID, rawFormat string) (Exported, error) {
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(rawFormat)))
	if err != nil {
		return Exported{}, domain.Validation("Format must be html, pdf or docx.")
	}
	actorID, book, err := s.ownBook(ctx, bookID)
	if err != nil {
		return Exported{}, err
	}
	doc, err := s.exportDocument(ctx, book)
	if err != nil {
		return Exported{}, err
	}

	result, err := s.exporter.Export(ctx, doc, format)
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return Exported{}, domain.Validation(string(format) + " export is not available on this server.")
	case err != nil:
		return Exported{}, err
	}

	out := Exported{Filename: result.Filename, MimeType: result.MimeType}
	if s.objects != nil {
		url, err := s.objects.Upload(ctx, actorID, result.Filename, result.MimeType, result.Data)
		if err != nil {
			return Exported{}, err
		}
		out.URL = url
		return out, nil
	}
	out.Data = base64.StdEncoding.EncodeToString(result.Data)
	return out, nil
}

func (s *Service) exportDocument(ctx context.Context, book store.Book) (export.Book, error) {
	chapters, err := s.store.ListChaptersByBook(ctx, book.ID)
	if err != nil {
		return export.Book{}, err
	}
	tags, err := s.store.ListTags(ctx, store.KindBook, book.ID)
	if err != nil {
		return export.Book{}, err
	}
	doc := export.Book{
		Title:       book.Title,
		Description: book.Description,
		UpdatedAt:   book.UpdatedAt,
	}
	if author, err := s.store.GetUserByID(ctx, book.AuthorID); err == nil {
		doc.Author = author.Name
	}
	for _, tag := range tags {
		doc.Tags = append(doc.Tags, tag.Label)
	}
	for i, chapter := range chapters {
		number := i + 1
		if chapter.ChapterNumber != nil {
			number = *chapter.ChapterNumber
		}
		doc.Chapters = append(doc.Chapters, export.Chapter{
			Number:      number,
			Title:       chapter.Title,
			Description: chapter.Description,
			Text:        chapter.Text,
		})
	}
	return doc, nil
}
