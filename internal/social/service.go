// Package social maintains follow edges and the follower/following counters
// denormalized onto users.
package social

import (
	"context"
	"database/sql"
	"errors"

	"scrivono/api/internal/domain"
	"scrivono/api/internal/store"
)

type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(store.Tx) error) error
}

type Observer interface {
	ObserveFollow(action, result string)
}

// Edge is the follow relationship: FollowID follows LeaderID.
type Edge struct {
	LeaderID string
	FollowID string
	Leader   store.Profile
	Follower store.Profile
}

type Service struct {
	uow      UnitOfWork
	observer Observer
}

func NewService(uow UnitOfWork, observer Observer) *Service {
	return &Service{uow: uow, observer: observer}
}

// Follow makes actorID follow leaderID.
func (s *Service) Follow(ctx context.Context, actorID, leaderID string) (Edge, error) {
	edge, err := s.mutate(ctx, followMutation, actorID, leaderID, func(tx store.Tx, exists bool) (int, error) {
		if exists {
			return 0, domain.DuplicateEdge()
		}
		return 1, tx.InsertFollow(ctx, leaderID, actorID)
	})
	s.observe(followMutation.name, err)
	return edge, err
}

// Unfollow removes the edge actorID → leaderID.
func (s *Service) Unfollow(ctx context.Context, actorID, leaderID string) (bool, error) {
	_, err := s.mutate(ctx, unfollowMutation, actorID, leaderID, func(tx store.Tx, exists bool) (int, error) {
		if !exists {
			return 0, domain.NoSuchEdge()
		}
		return -1, tx.DeleteFollow(ctx, leaderID, actorID)
	})
	s.observe(unfollowMutation.name, err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// mutation names a follow-graph change and words its user-facing errors.
type mutation struct {
	name       string
	self       func() error
	noSuchUser string
}

var (
	followMutation = mutation{
		name:       "follow",
		self:       domain.SelfFollow,
		noSuchUser: "User you trying to follow doesn't exist.",
	}
	unfollowMutation = mutation{
		name:       "unfollow",
		self:       domain.SelfUnfollow,
		noSuchUser: "User you trying to unfollow does not exist or has been deleted.",
	}
)

// mutate locks both profiles in id order, reads the edge, lets change write it and
// applies the returned delta to both counters, all in one unit of work.
func (s *Service) mutate(ctx context.Context, m mutation, actorID, leaderID string, change func(tx store.Tx, exists bool) (int, error)) (Edge, error) {
	if actorID == "" {
		return Edge{}, domain.Authentication()
	}
	if leaderID == actorID {
		return Edge{}, m.self()
	}

	var edge Edge
	err := s.uow.WithinTx(ctx, func(tx store.Tx) error {
		if err := lockInOrder(ctx, tx, m, actorID, leaderID); err != nil {
			return err
		}
		exists, err := tx.FindFollow(ctx, leaderID, actorID)
		if err != nil {
			return err
		}
		delta, err := change(tx, exists)
		if err != nil {
			return err
		}
		leader, err := tx.AddFollowCounters(ctx, leaderID, delta, 0)
		if err != nil {
			return err
		}
		follower, err := tx.AddFollowCounters(ctx, actorID, 0, delta)
		if err != nil {
			return err
		}
		edge = Edge{LeaderID: leaderID, FollowID: actorID, Leader: leader, Follower: follower}
		return nil
	})
	if err != nil {
		if domain.IsDomain(err) {
			return Edge{}, err
		}
		return Edge{}, domain.Reconciliation("update follow", err)
	}
	return edge, nil
}

func lockInOrder(ctx context.Context, tx store.Tx, m mutation, actorID, leaderID string) error {
	ids := []string{actorID, leaderID}
	if leaderID < actorID {
		ids[0], ids[1] = leaderID, actorID
	}
	for _, id := range ids {
		if _, err := tx.LockProfile(ctx, id); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if id == actorID {
				return domain.Authentication()
			}
			return domain.NotFound(m.noSuchUser)
		}
	}
	return nil
}

func (s *Service) observe(action string, err error) {
	if s.observer == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(domain.KindOf(err))
	}
	s.observer.ObserveFollow(action, result)
}
