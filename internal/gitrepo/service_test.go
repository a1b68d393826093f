package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"scrivono/api/internal/store"
)

func TestChapterRevisionLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title:       "Harbor",
		Description: "Opening",
		Text:        "The boats came in late.",
		Status:      "draft",
	}

	first, changed, err := svc.SaveRevision("chapter_1", initial, "Avery", "Create chapter")
	if err != nil {
		t.Fatalf("SaveRevision() error = %v", err)
	}
	if !changed || first.Hash == "" {
		t.Fatalf("expected a first commit, got %+v changed=%v", first, changed)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "chapter_1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	updated := initial
	updated.Text = "The boats came in early."
	second, changed, err := svc.SaveRevision("chapter_1", updated, "Avery", "Edit text")
	if err != nil {
		t.Fatalf("SaveRevision() error = %v", err)
	}
	if !changed || second.Hash == first.Hash {
		t.Fatalf("expected a new commit, got %+v", second)
	}

	history, err := svc.History("chapter_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("unexpected history: %+v", history)
	}
	if strings.TrimSpace(history[0].Message) != "Edit text" || history[0].Author != "Avery" {
		t.Fatalf("unexpected head entry: %+v", history[0])
	}

	old, info, err := svc.Revision("chapter_1", first.Hash)
	if err != nil {
		t.Fatalf("Revision() error = %v", err)
	}
	if old != initial || info.Hash != first.Hash {
		t.Fatalf("unexpected revision content: %+v %+v", old, info)
	}
}

func TestSaveRevisionSkipsUnchangedContent(t *testing.T) {
	svc := New(t.TempDir())
	content := Content{Title: "Same", Text: "Same", Status: "published"}

	first, _, err := svc.SaveRevision("chapter_2", content, "Avery", "Create")
	if err != nil {
		t.Fatalf("SaveRevision() error = %v", err)
	}
	again, changed, err := svc.SaveRevision("chapter_2", content, "Avery", "No-op")
	if err != nil {
		t.Fatalf("SaveRevision() error = %v", err)
	}
	if changed || again.Hash != first.Hash {
		t.Fatalf("expected head commit to be returned unchanged, got %+v changed=%v", again, changed)
	}

	history, err := svc.History("chapter_2", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one commit, got %d", len(history))
	}
}

func TestHistoryWithoutRepository(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("missing", 5); !errors.Is(err, ErrNoRepository) {
		t.Fatalf("expected ErrNoRepository, got %v", err)
	}
	if _, _, err := svc.Revision("missing", "abc1234"); !errors.Is(err, ErrNoRepository) {
		t.Fatalf("expected ErrNoRepository, got %v", err)
	}
}

func TestRemoveDeletesRepository(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	if _, _, err := svc.SaveRevision("chapter_3", Content{Title: "Gone"}, "Avery", "Create"); err != nil {
		t.Fatalf("SaveRevision() error = %v", err)
	}
	if err := svc.Remove("chapter_3"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "chapter_3")); !os.IsNotExist(err) {
		t.Fatalf("expected repo dir to be removed, stat err = %v", err)
	}
}

func TestConcurrentSaveRevision(t *testing.T) {
	svc := New(t.TempDir())
	if _, _, err := svc.SaveRevision("chapter_4", Content{Title: "Base"}, "Avery", "Create"); err != nil {
		t.Fatalf("SaveRevision() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := Content{Title: "Base", Text: fmt.Sprintf("text-%02d", idx)}
			if _, _, err := svc.SaveRevision("chapter_4", next, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("SaveRevision() concurrent error = %v", err)
	}

	history, err := svc.History("chapter_4", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}
}

func TestDiff(t *testing.T) {
	from := Content{Title: "A", Text: "one", Status: "draft"}
	to := Content{Title: "A", Text: "two", Status: "published"}

	diff := Diff(from, to)
	if len(diff) != 2 {
		t.Fatalf("expected 2 changed fields, got %+v", diff)
	}
	if diff[0] != (FieldChange{Field: "status", Before: "draft", After: "published"}) || diff[1].Field != "text" {
		t.Fatalf("unexpected field order: %+v", diff)
	}
	if HasChanges(from, from) || len(Diff(from, from)) != 0 {
		t.Fatal("identical content must not report changes")
	}
}

func TestFromChapter(t *testing.T) {
	got := FromChapter(store.Chapter{Title: "T", Description: "D", Text: "X", Status: store.StatusPublished})
	want := Content{Title: "T", Description: "D", Text: "X", Status: "published"}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Ada Lovelace": "Ada.Lovelace",
		"x_y-z":        "x.y.z",
		"!!!":          "user",
	}
	for in, want := range cases {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
