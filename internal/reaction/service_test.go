package reaction

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrivono/api/internal/domain"
	"scrivono/api/internal/store"
	"scrivono/api/internal/store/storetest"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveReaction(kind store.ContentKind, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, string(kind)+":"+outcome)
}

func newTestService(t *testing.T) (*Service, *storetest.Memory, *recordingObserver) {
	t.Helper()
	mem := storetest.NewMemory()
	mem.AddContent(store.KindBook, "book-1", "author")
	mem.AddContent(store.KindChapter, "chapter-1", "author")
	observer := &recordingObserver{}
	return NewService(mem, observer), mem, observer
}

func TestApplyConcreteScenario(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	target := Target{Kind: store.KindChapter, ID: "chapter-1"}

	res, err := svc.Apply(ctx, "u1", target, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Content.Likes)
	assert.True(t, res.HasVoted)

	res, err = svc.Apply(ctx, "u1", target, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Content.Likes)
	assert.False(t, res.HasVoted)

	res, err = svc.Apply(ctx, "u1", target, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Content.Dislikes)
	assert.Equal(t, 0, res.Content.Likes)
	assert.True(t, res.HasVoted)
}

func TestApplyRetractionIsIdempotent(t *testing.T) {
	for _, kind := range []store.ContentKind{store.KindBook, store.KindChapter} {
		for _, polarity := range []int{1, -1} {
			t.Run(fmt.Sprintf("%s/%d", kind, polarity), func(t *testing.T) {
				svc, mem, _ := newTestService(t)
				ctx := context.Background()
				target := Target{Kind: kind, ID: string(kind) + "-1"}
				before := mem.Content(kind, target.ID)

				first, err := svc.Apply(ctx, "u", target, polarity)
				require.NoError(t, err)
				second, err := svc.Apply(ctx, "u", target, polarity)
				require.NoError(t, err)

				assert.True(t, first.HasVoted)
				assert.False(t, second.HasVoted)
				after := mem.Content(kind, target.ID)
				assert.Equal(t, before.Likes, after.Likes)
				assert.Equal(t, before.Dislikes, after.Dislikes)
				assert.Equal(t, 0, mem.Vote(kind, "u", target.ID))
			})
		}
	}
}

func TestApplyFlipConservation(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	target := Target{Kind: store.KindBook, ID: "book-1"}

	_, err := svc.Apply(ctx, "u", target, 1)
	require.NoError(t, err)
	res, err := svc.Apply(ctx, "u", target, -1)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Content.Likes)
	assert.Equal(t, 1, res.Content.Dislikes)
	assert.Equal(t, ActionFlip, res.Action)
	assert.Equal(t, -1, mem.Vote(store.KindBook, "u", "book-1"))
}

func TestApplyRandomSequencesKeepCountersConsistent(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	users := []string{"u1", "u2", "u3", "u4", "u5"}
	targets := []Target{{store.KindBook, "book-1"}, {store.KindChapter, "chapter-1"}}

	for i := 0; i < 500; i++ {
		user := users[rng.Intn(len(users))]
		target := targets[rng.Intn(len(targets))]
		value := 1
		if rng.Intn(2) == 0 {
			value = -1
		}
		before := mem.Vote(target.Kind, user, target.ID)

		res, err := svc.Apply(ctx, user, target, value)
		require.NoError(t, err)
		assert.Equal(t, before != value, res.HasVoted, "step %d", i)

		for _, tgt := range targets {
			content := mem.Content(tgt.Kind, tgt.ID)
			require.Equal(t, mem.CountVotes(tgt.Kind, tgt.ID, 1), content.Likes, "likes drift at step %d", i)
			require.Equal(t, mem.CountVotes(tgt.Kind, tgt.ID, -1), content.Dislikes, "dislikes drift at step %d", i)
		}
	}
}

func TestApplyConcurrentActorsDoNotLoseUpdates(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	target := Target{Kind: store.KindChapter, ID: "chapter-1"}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := 1
			if i%2 == 1 {
				value = -1
			}
			_, err := svc.Apply(ctx, fmt.Sprintf("user-%d", i), target, value)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	content := mem.Content(store.KindChapter, "chapter-1")
	assert.Equal(t, 20, content.Likes)
	assert.Equal(t, 20, content.Dislikes)
}

func TestApplyMissingTarget(t *testing.T) {
	svc, _, observer := newTestService(t)

	_, err := svc.Apply(context.Background(), "u", Target{Kind: store.KindBook, ID: "missing"}, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "Book doesn't exist.", domain.Public(err))
	assert.Equal(t, []string{"book:not_found"}, observer.outcomes)
}

func TestApplyRejectsBeforeTouchingStore(t *testing.T) {
	svc, mem, _ := newTestService(t)
	mem.FailOn["LockContent"] = errors.New("store must not be reached")
	target := Target{Kind: store.KindBook, ID: "book-1"}

	_, err := svc.Apply(context.Background(), "", target, 1)
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	_, err = svc.Apply(context.Background(), "u", target, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Apply(context.Background(), "u", Target{Kind: "comment", ID: "x"}, 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestApplyRollsBackOnStorageFailure(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	target := Target{Kind: store.KindBook, ID: "book-1"}
	_, err := svc.Apply(ctx, "u", target, 1)
	require.NoError(t, err)

	cause := errors.New("deadlock detected")
	mem.FailOn["AddContentCounters"] = cause
	_, err = svc.Apply(ctx, "u", target, -1)

	require.ErrorIs(t, err, domain.ErrReconciliation)
	require.ErrorIs(t, err, cause)
	assert.True(t, domain.Retryable(err))
	assert.Equal(t, 1, mem.Vote(store.KindBook, "u", "book-1"))
	assert.Equal(t, 1, mem.Content(store.KindBook, "book-1").Likes)
	assert.Equal(t, 0, mem.Content(store.KindBook, "book-1").Dislikes)
}

func TestApplyCancelledContextLeavesStateIntact(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Apply(ctx, "u", Target{Kind: store.KindBook, ID: "book-1"}, 1)
	require.ErrorIs(t, err, domain.ErrReconciliation)
	assert.Equal(t, 0, mem.Content(store.KindBook, "book-1").Likes)
}
