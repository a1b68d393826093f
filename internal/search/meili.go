package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	meili "github.com/meilisearch/meilisearch-go"
)

const (
	booksIndex    = "scrivono_books"
	chaptersIndex = "scrivono_chapters"

	probeInterval = 10 * time.Second
	defaultLimit  = 20
)

var errMeiliDown = errors.New("meilisearch unhealthy")

type searchIndex struct {
	uid        string
	kind       ResultType
	filterable []string
	searchable []string
}

var searchIndexes = []searchIndex{
	{uid: booksIndex, kind: ResultBook, filterable: []string{"authorId"}, searchable: []string{"title", "description"}},
	{uid: chaptersIndex, kind: ResultChapter, filterable: []string{"authorId", "bookId", "status"}, searchable: []string{"title", "description", "text"}},
}

// Meili is the primary Searcher and Indexer. It keeps serving while
// Meilisearch is down by reporting itself unhealthy.
type Meili struct {
	client  meili.ServiceManager
	clock   clock.Clock
	healthy atomic.Bool
	stop    chan struct{}
}

// NewMeili connects to Meilisearch and starts probing it in the background.
func NewMeili(url, apiKey string) *Meili {
	return newMeili(meili.New(url, meili.WithAPIKey(apiKey)), clock.WallClock)
}

func newMeili(client meili.ServiceManager, clk clock.Clock) *Meili {
	m := &Meili{client: client, clock: clk, stop: make(chan struct{})}
	if err := m.probe(); err != nil {
		log.Printf("search: meilisearch unavailable: %v", err)
	}
	go m.monitor()
	return m
}

// probe refreshes the health flag and reapplies index settings on recovery.
func (m *Meili) probe() error {
	_, err := m.client.Health()
	was := m.healthy.Swap(err == nil)
	if err == nil && !was {
		m.applySettings()
	}
	return err
}

func (m *Meili) monitor() {
	for {
		select {
		case <-m.stop:
			return
		case <-m.clock.After(probeInterval):
			was := m.healthy.Load()
			if err := m.probe(); err != nil && was {
				log.Printf("search: meilisearch went away: %v", err)
			} else if err == nil && !was {
				log.Println("search: meilisearch is back")
			}
		}
	}
}

func (m *Meili) applySettings() {
	for _, idx := range searchIndexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			log.Printf("search: create index %s: %v", idx.uid, err)
		}
		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, 0, len(idx.filterable))
		for _, attr := range idx.filterable {
			filterable = append(filterable, attr)
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Printf("search: filterable attributes for %s: %v", idx.uid, err)
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Printf("search: searchable attributes for %s: %v", idx.uid, err)
		}
	}
}

// Close stops the background probe.
func (m *Meili) Close() {
	close(m.stop)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one multi-search across the requested indexes. Chapters are
// restricted to published ones at the index level.
func (m *Meili) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errMeiliDown
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	req := &meili.MultiSearchRequest{}
	for _, idx := range searchIndexes {
		if q.FilterType != "" && q.FilterType != idx.kind {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 int64(limit),
			Offset:                int64(q.Offset),
			AttributesToHighlight: idx.searchable,
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if idx.kind == ResultChapter {
			sr.AttributesToCrop = []string{"text"}
			sr.CropLength = 30
			sr.Filter = `status = "published"`
		}
		req.Queries = append(req.Queries, sr)
	}
	if len(req.Queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearchWithContext(ctx, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var (
		results []Result
		total   int
	)
	for _, part := range resp.Results {
		kind := kindOfIndex(part.IndexUID)
		total += int(part.EstimatedTotalHits)
		for _, hit := range part.Hits {
			results = append(results, hitToResult(hit, kind))
		}
	}
	return results, total, nil
}

func kindOfIndex(uid string) ResultType {
	for _, idx := range searchIndexes {
		if idx.uid == uid {
			return idx.kind
		}
	}
	return ""
}

// hitFields is the subset of an indexed document read back from a hit.
type hitFields struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Text        string `json:"text"`
	AuthorID    string `json:"authorId"`
	BookID      string `json:"bookId"`
	Status      string `json:"status"`
}

type decodedHit struct {
	hitFields
	Formatted hitFields `json:"_formatted"`
}

func decodeHit(hit meili.Hit) decodedHit {
	var out decodedHit
	raw, err := json.Marshal(hit)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

// hitToResult prefers highlighted values and falls back to the raw document.
func hitToResult(hit meili.Hit, kind ResultType) Result {
	h := decodeHit(hit)
	r := Result{
		Type:     kind,
		ID:       h.ID,
		AuthorID: h.AuthorID,
		Title:    firstNonBlank(h.Formatted.Title, h.Title),
	}
	switch kind {
	case ResultBook:
		r.Snippet = firstNonBlank(h.Formatted.Description, h.Description)
	case ResultChapter:
		r.BookID = h.BookID
		r.Status = h.Status
		r.Snippet = firstNonBlank(h.Formatted.Text, h.Formatted.Description, h.Description)
	}
	return r
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (m *Meili) IndexBooks(books []BookRecord) error {
	if len(books) == 0 {
		return nil
	}
	_, err := m.client.Index(booksIndex).AddDocuments(books, nil)
	return err
}

func (m *Meili) IndexChapters(chapters []ChapterRecord) error {
	if len(chapters) == 0 {
		return nil
	}
	_, err := m.client.Index(chaptersIndex).AddDocuments(chapters, nil)
	return err
}

func (m *Meili) DeleteBook(id string) error {
	_, err := m.client.Index(booksIndex).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteChapter(id string) error {
	_, err := m.client.Index(chaptersIndex).DeleteDocument(id, nil)
	return err
}
