package search

import (
	"context"
	"log"
)

// Indexer pushes books and chapters into an index.
type Indexer interface {
	Healthy() bool
	IndexBooks(books []BookRecord) error
	IndexChapters(chapters []ChapterRecord) error
	DeleteBook(id string) error
	DeleteChapter(id string) error
}

// RecordLoader reads every searchable record, for full reindexing.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]BookRecord, []ChapterRecord, error)
}

// Service is the facade that tries the primary index first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	loader   RecordLoader
}

// NewService creates a search service over Meilisearch and PG FTS. meili may be nil.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

// Search tries the primary index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: publishedOnly(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: publishedOnly(results), Total: total, Query: q.Text}
}

func (s *Service) indexReady() bool {
	return s.indexer != nil && s.indexer.Healthy()
}

// IndexBook indexes a book (fire-and-forget).
func (s *Service) IndexBook(book BookRecord) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.indexer.IndexBooks([]BookRecord{book}); err != nil {
			log.Printf("search: index book %s: %v", book.ID, err)
		}
	}()
}

// IndexChapter indexes a chapter (fire-and-forget). Drafts are indexed too and
// filtered at query time, so publishing needs no extra call.
func (s *Service) IndexChapter(chapter ChapterRecord) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.indexer.IndexChapters([]ChapterRecord{chapter}); err != nil {
			log.Printf("search: index chapter %s: %v", chapter.ID, err)
		}
	}()
}

// DeleteBook removes a book from the index (fire-and-forget).
func (s *Service) DeleteBook(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.indexer.DeleteBook(id); err != nil {
			log.Printf("search: delete book %s: %v", id, err)
		}
	}()
}

// DeleteChapter removes a chapter from the index (fire-and-forget).
func (s *Service) DeleteChapter(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.indexer.DeleteChapter(id); err != nil {
			log.Printf("search: delete chapter %s: %v", id, err)
		}
	}()
}

// ReindexAll reads all records from PG and pushes them to the index synchronously.
func (s *Service) ReindexAll(ctx context.Context) (books int, chapters int, err error) {
	if !s.indexReady() || s.loader == nil {
		return 0, 0, nil
	}
	bookRecords, chapterRecords, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(bookRecords) > 0 {
		if err := s.indexer.IndexBooks(bookRecords); err != nil {
			return 0, 0, err
		}
	}
	if len(chapterRecords) > 0 {
		if err := s.indexer.IndexChapters(chapterRecords); err != nil {
			return len(bookRecords), 0, err
		}
	}
	return len(bookRecords), len(chapterRecords), nil
}

func publishedOnly(results []Result) []Result {
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultChapter && result.Status != "published" {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
