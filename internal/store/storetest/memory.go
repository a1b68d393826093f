// Package storetest provides an in-memory unit of work for exercising the
// reaction and follow mutations without Postgres.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"scrivono/api/internal/store"
)

type voteKey struct {
	kind     store.ContentKind
	authorID string
	targetID string
}

type edgeKey struct {
	leaderID string
	followID string
}

type state struct {
	content  map[store.ContentKind]map[string]store.Content
	votes    map[voteKey]int
	profiles map[string]store.Profile
	edges    map[edgeKey]bool
}

func (s state) clone() state {
	out := state{
		content:  map[store.ContentKind]map[string]store.Content{},
		votes:    make(map[voteKey]int, len(s.votes)),
		profiles: make(map[string]store.Profile, len(s.profiles)),
		edges:    make(map[edgeKey]bool, len(s.edges)),
	}
	for kind, rows := range s.content {
		copied := make(map[string]store.Content, len(rows))
		for id, row := range rows {
			copied[id] = row
		}
		out.content[kind] = copied
	}
	for k, v := range s.votes {
		out.votes[k] = v
	}
	for k, v := range s.profiles {
		out.profiles[k] = v
	}
	for k, v := range s.edges {
		out.edges[k] = v
	}
	return out
}

// Memory serializes units of work with one mutex and restores a snapshot when
// the callback fails, which mirrors rollback.
type Memory struct {
	mu    sync.Mutex
	state state
	// FailOn makes the named Tx method return the error, e.g. "AddContentCounters".
	FailOn map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		state: state{
			content:  map[store.ContentKind]map[string]store.Content{},
			votes:    map[voteKey]int{},
			profiles: map[string]store.Profile{},
			edges:    map[edgeKey]bool{},
		},
		FailOn: map[string]error{},
	}
}

func (m *Memory) AddContent(kind store.ContentKind, id, authorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.content[kind] == nil {
		m.state.content[kind] = map[string]store.Content{}
	}
	m.state.content[kind][id] = store.Content{Kind: kind, ID: id, AuthorID: authorID}
}

func (m *Memory) AddUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.profiles[id] = store.Profile{ID: id}
}

func (m *Memory) Content(kind store.ContentKind, id string) store.Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.content[kind][id]
}

func (m *Memory) Profile(id string) store.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.profiles[id]
}

// Vote returns the stored vote value, or 0 when there is none.
func (m *Memory) Vote(kind store.ContentKind, authorID, targetID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.votes[voteKey{kind, authorID, targetID}]
}

// CountVotes counts votes on a target with the given value.
func (m *Memory) CountVotes(kind store.ContentKind, targetID string, value int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, v := range m.state.votes {
		if key.kind == kind && key.targetID == targetID && v == value {
			n++
		}
	}
	return n
}

func (m *Memory) HasEdge(leaderID, followID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.edges[edgeKey{leaderID, followID}]
}

// CountEdges returns (edges into userID, edges out of userID).
func (m *Memory) CountEdges(userID string) (followers, following int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.state.edges {
		if key.leaderID == userID {
			followers++
		}
		if key.followID == userID {
			following++
		}
	}
	return followers, following
}

func (m *Memory) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.state.clone()
	if err := fn(&memTx{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.state = snapshot
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type memTx struct {
	m *Memory
}

func (t *memTx) fail(op string) error {
	if err, ok := t.m.FailOn[op]; ok {
		return err
	}
	return nil
}

func (t *memTx) LockContent(ctx context.Context, kind store.ContentKind, id string) (store.Content, error) {
	if err := t.fail("LockContent"); err != nil {
		return store.Content{}, err
	}
	row, ok := t.m.state.content[kind][id]
	if !ok {
		return store.Content{}, sql.ErrNoRows
	}
	return row, nil
}

func (t *memTx) FindVote(ctx context.Context, kind store.ContentKind, authorID, targetID string) (store.Vote, bool, error) {
	if err := t.fail("FindVote"); err != nil {
		return store.Vote{}, false, err
	}
	value, ok := t.m.state.votes[voteKey{kind, authorID, targetID}]
	if !ok {
		return store.Vote{}, false, nil
	}
	return store.Vote{AuthorID: authorID, TargetID: targetID, Value: value}, true, nil
}

func (t *memTx) InsertVote(ctx context.Context, kind store.ContentKind, vote store.Vote) error {
	if err := t.fail("InsertVote"); err != nil {
		return err
	}
	key := voteKey{kind, vote.AuthorID, vote.TargetID}
	if _, exists := t.m.state.votes[key]; exists {
		return fmt.Errorf("insert %s vote: %w", kind, store.ErrDuplicate)
	}
	t.m.state.votes[key] = vote.Value
	return nil
}

func (t *memTx) UpdateVote(ctx context.Context, kind store.ContentKind, vote store.Vote) error {
	if err := t.fail("UpdateVote"); err != nil {
		return err
	}
	key := voteKey{kind, vote.AuthorID, vote.TargetID}
	if _, exists := t.m.state.votes[key]; !exists {
		return fmt.Errorf("update %s vote: expected 1 row, got 0", kind)
	}
	t.m.state.votes[key] = vote.Value
	return nil
}

func (t *memTx) DeleteVote(ctx context.Context, kind store.ContentKind, authorID, targetID string) error {
	if err := t.fail("DeleteVote"); err != nil {
		return err
	}
	key := voteKey{kind, authorID, targetID}
	if _, exists := t.m.state.votes[key]; !exists {
		return fmt.Errorf("delete %s vote: expected 1 row, got 0", kind)
	}
	delete(t.m.state.votes, key)
	return nil
}

func (t *memTx) AddContentCounters(ctx context.Context, kind store.ContentKind, id string, likes, dislikes int) (store.Content, error) {
	if err := t.fail("AddContentCounters"); err != nil {
		return store.Content{}, err
	}
	row, ok := t.m.state.content[kind][id]
	if !ok {
		return store.Content{}, sql.ErrNoRows
	}
	row.Likes += likes
	row.Dislikes += dislikes
	if row.Likes < 0 || row.Dislikes < 0 {
		return store.Content{}, fmt.Errorf("update %s counters: negative counter", kind)
	}
	t.m.state.content[kind][id] = row
	return row, nil
}

func (t *memTx) LockProfile(ctx context.Context, userID string) (store.Profile, error) {
	if err := t.fail("LockProfile"); err != nil {
		return store.Profile{}, err
	}
	profile, ok := t.m.state.profiles[userID]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return profile, nil
}

func (t *memTx) FindFollow(ctx context.Context, leaderID, followID string) (bool, error) {
	if err := t.fail("FindFollow"); err != nil {
		return false, err
	}
	return t.m.state.edges[edgeKey{leaderID, followID}], nil
}

func (t *memTx) InsertFollow(ctx context.Context, leaderID, followID string) error {
	if err := t.fail("InsertFollow"); err != nil {
		return err
	}
	if leaderID == followID {
		return fmt.Errorf("insert follow: self edge")
	}
	key := edgeKey{leaderID, followID}
	if t.m.state.edges[key] {
		return fmt.Errorf("insert follow: %w", store.ErrDuplicate)
	}
	t.m.state.edges[key] = true
	return nil
}

func (t *memTx) DeleteFollow(ctx context.Context, leaderID, followID string) error {
	if err := t.fail("DeleteFollow"); err != nil {
		return err
	}
	key := edgeKey{leaderID, followID}
	if !t.m.state.edges[key] {
		return fmt.Errorf("delete follow: expected 1 row, got 0")
	}
	delete(t.m.state.edges, key)
	return nil
}

func (t *memTx) AddFollowCounters(ctx context.Context, userID string, followers, following int) (store.Profile, error) {
	if err := t.fail("AddFollowCounters"); err != nil {
		return store.Profile{}, err
	}
	profile, ok := t.m.state.profiles[userID]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	profile.FollowerCount += followers
	profile.FollowingCount += following
	if profile.FollowerCount < 0 || profile.FollowingCount < 0 {
		return store.Profile{}, fmt.Errorf("update follow counters: negative counter")
	}
	t.m.state.profiles[userID] = profile
	return profile, nil
}
