package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"scrivono/api/internal/store"
	"scrivono/api/internal/store/storetest"
)

// memoryStore is an in-memory dataStore. Reaction and follow counters live in
// the embedded storetest.Memory so the reconcilers and the reads agree.
type memoryStore struct {
	dataStore // unimplemented methods panic

	mu       sync.Mutex
	mem      *storetest.Memory
	now      time.Time
	users    map[string]store.User
	books    map[string]store.Book
	chapters map[string]store.Chapter
	comments map[string]store.Comment
	tags     map[string]store.Tag
	links    map[string][]string
	saved    map[string]map[string]time.Time
	notes    map[string]store.Note
	pingErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		mem:      storetest.NewMemory(),
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		users:    map[string]store.User{},
		books:    map[string]store.Book{},
		chapters: map[string]store.Chapter{},
		comments: map[string]store.Comment{},
		tags:     map[string]store.Tag{},
		links:    map[string][]string{},
		saved:    map[string]map[string]time.Time{},
		notes:    map[string]store.Note{},
	}
}

func (m *memoryStore) tick() time.Time {
	m.now = m.now.Add(time.Second)
	return m.now
}

func (m *memoryStore) withCounters(u store.User) store.User {
	profile := m.mem.Profile(u.ID)
	u.FollowerCount, u.FollowingCount = profile.FollowerCount, profile.FollowingCount
	return u
}

func (m *memoryStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return store.User{}, store.ErrEmailTaken
		}
		if existing.Username == user.Username {
			return store.User{}, store.ErrUsernameTaken
		}
	}
	user.CreatedAt = m.tick()
	m.users[user.ID] = user
	m.mem.AddUser(user.ID)
	return user, nil
}

func (m *memoryStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return m.withCounters(user), nil
}

func (m *memoryStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return m.withCounters(user), nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memoryStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			return m.withCounters(user), nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memoryStore) ListFollowers(_ context.Context, userID string) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.User{}
	for id, user := range m.users {
		if m.mem.HasEdge(userID, id) {
			out = append(out, m.withCounters(user))
		}
	}
	return out, nil
}

func (m *memoryStore) CreateBook(_ context.Context, book store.Book, first store.Chapter, tags []store.Tag) (store.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book.CreatedAt = m.tick()
	book.UpdatedAt = book.CreatedAt
	m.books[book.ID] = book
	m.mem.AddContent(store.KindBook, book.ID, book.AuthorID)
	first.BookID = &book.ID
	first.CreatedAt, first.UpdatedAt = book.CreatedAt, book.CreatedAt
	m.chapters[first.ID] = first
	m.mem.AddContent(store.KindChapter, first.ID, first.AuthorID)
	m.link(store.KindBook, book.ID, tags)
	return book, nil
}

func (m *memoryStore) GetBook(_ context.Context, id string) (store.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok {
		return store.Book{}, sql.ErrNoRows
	}
	counters := m.mem.Content(store.KindBook, id)
	book.Likes, book.Dislikes = counters.Likes, counters.Dislikes
	return book, nil
}

func (m *memoryStore) ListChaptersByBook(_ context.Context, bookID string) ([]store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Chapter{}
	for _, chapter := range m.chapters {
		if chapter.BookID != nil && *chapter.BookID == bookID {
			out = append(out, chapter)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].ChapterNumber < *out[j].ChapterNumber })
	return out, nil
}

func (m *memoryStore) CreateChapter(_ context.Context, chapter store.Chapter, tags []store.Tag) (store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if chapter.BookID != nil {
		count := 0
		for _, existing := range m.chapters {
			if existing.BookID != nil && *existing.BookID == *chapter.BookID {
				count++
			}
		}
		number := count + 1
		chapter.ChapterNumber = &number
	}
	chapter.CreatedAt = m.tick()
	chapter.UpdatedAt = chapter.CreatedAt
	m.chapters[chapter.ID] = chapter
	m.mem.AddContent(store.KindChapter, chapter.ID, chapter.AuthorID)
	m.link(store.KindChapter, chapter.ID, tags)
	return chapter, nil
}

func (m *memoryStore) GetChapter(_ context.Context, id string) (store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chapter, ok := m.chapters[id]
	if !ok {
		return store.Chapter{}, sql.ErrNoRows
	}
	counters := m.mem.Content(store.KindChapter, id)
	chapter.Likes, chapter.Dislikes = counters.Likes, counters.Dislikes
	return chapter, nil
}

func (m *memoryStore) UpdateChapter(_ context.Context, id, title, description, text string) (store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chapter, ok := m.chapters[id]
	if !ok {
		return store.Chapter{}, sql.ErrNoRows
	}
	chapter.Title, chapter.Description, chapter.Text = title, description, text
	chapter.UpdatedAt = m.tick()
	m.chapters[id] = chapter
	return chapter, nil
}

func (m *memoryStore) SetChapterStatus(_ context.Context, id string, status store.ChapterStatus) (store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chapter, ok := m.chapters[id]
	if !ok {
		return store.Chapter{}, sql.ErrNoRows
	}
	chapter.Status = status
	m.chapters[id] = chapter
	return chapter, nil
}

func (m *memoryStore) DeleteChapter(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chapters[id]; !ok {
		return false, nil
	}
	delete(m.chapters, id)
	return true, nil
}

func (m *memoryStore) HasVoted(_ context.Context, kind store.ContentKind, userID, targetID string) (bool, error) {
	return m.mem.Vote(kind, userID, targetID) != 0, nil
}

func (m *memoryStore) ListComments(_ context.Context, kind store.ContentKind, targetID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Comment{}
	for _, comment := range m.comments {
		target := comment.BookID
		if kind == store.KindChapter {
			target = comment.ChapterID
		}
		if target != nil && *target == targetID {
			out = append(out, comment)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateComment(_ context.Context, comment store.Comment) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment.CreatedAt = m.tick()
	comment.UpdatedAt = comment.CreatedAt
	m.comments[comment.ID] = comment
	return comment, nil
}

func (m *memoryStore) UpsertTags(_ context.Context, tags []store.Tag) ([]store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Tag, 0, len(tags))
	for _, tag := range tags {
		if existing, ok := m.tags[tag.Value]; ok {
			tag = existing
		} else {
			m.tags[tag.Value] = tag
		}
		out = append(out, tag)
	}
	return out, nil
}

func (m *memoryStore) link(kind store.ContentKind, targetID string, tags []store.Tag) {
	key := string(kind) + ":" + targetID
	for _, tag := range tags {
		m.tags[tag.Value] = tag
		m.links[key] = append(m.links[key], tag.Value)
	}
}

func (m *memoryStore) AttachTags(_ context.Context, kind store.ContentKind, targetID string, tags []store.Tag) ([]store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Tag, 0, len(tags))
	for _, tag := range tags {
		if existing, ok := m.tags[tag.Value]; ok {
			tag = existing
		}
		out = append(out, tag)
	}
	m.link(kind, targetID, out)
	return out, nil
}

func (m *memoryStore) ListTags(_ context.Context, kind store.ContentKind, targetID string) ([]store.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Tag{}
	for _, value := range m.links[string(kind)+":"+targetID] {
		out = append(out, m.tags[value])
	}
	return out, nil
}

func (m *memoryStore) SaveReadLater(_ context.Context, userID, chapterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved[userID] == nil {
		m.saved[userID] = map[string]time.Time{}
	}
	if _, ok := m.saved[userID][chapterID]; ok {
		return store.ErrDuplicate
	}
	m.saved[userID][chapterID] = m.tick()
	return nil
}

func (m *memoryStore) RemoveReadLater(_ context.Context, userID, chapterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.saved[userID][chapterID]; !ok {
		return false, nil
	}
	delete(m.saved[userID], chapterID)
	return true, nil
}

func (m *memoryStore) ListTimelineBooks(_ context.Context, followerID string, before time.Time, limit int) ([]store.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Book{}
	for _, book := range m.books {
		if m.mem.HasEdge(book.AuthorID, followerID) && book.CreatedAt.Before(before) {
			out = append(out, book)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) Ping(context.Context) error {
	return m.pingErr
}

func (m *memoryStore) UpdateProfile(_ context.Context, userID, name, bio, avatarSeed string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	user.Name, user.Bio, user.AvatarSeed = name, bio, avatarSeed
	user.UpdatedAt = m.tick()
	m.users[userID] = user
	return m.withCounters(user), nil
}

func (m *memoryStore) CreateNote(_ context.Context, note store.Note) (store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note.CreatedAt = m.tick()
	note.UpdatedAt = note.CreatedAt
	m.notes[note.ID] = note
	return note, nil
}

func (m *memoryStore) GetNote(_ context.Context, id string) (store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[id]
	if !ok {
		return store.Note{}, sql.ErrNoRows
	}
	return note, nil
}

func (m *memoryStore) ListNotes(_ context.Context, authorID, bookID string, chapterID *string) ([]store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Note{}
	for _, note := range m.notes {
		if note.AuthorID != authorID || note.BookID != bookID {
			continue
		}
		if chapterID != nil && (note.ChapterID == nil || *note.ChapterID != *chapterID) {
			continue
		}
		out = append(out, note)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) UpdateNote(_ context.Context, id, title, text string) (store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[id]
	if !ok {
		return store.Note{}, sql.ErrNoRows
	}
	note.Title, note.Text = title, text
	note.UpdatedAt = m.tick()
	m.notes[id] = note
	return note, nil
}

func (m *memoryStore) DeleteNote(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notes, id)
	return nil
}
