package reaction

import (
	"context"
	"database/sql"
	"errors"

	"scrivono/api/internal/domain"
	"scrivono/api/internal/store"
)

// UnitOfWork runs fn atomically: every write fn makes commits, or none does.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(store.Tx) error) error
}

// Observer is notified after each attempt. Outcome is the action name or the error kind.
type Observer interface {
	ObserveReaction(kind store.ContentKind, outcome string)
}

type Target struct {
	Kind store.ContentKind
	ID   string
}

type Result struct {
	Content  store.Content
	HasVoted bool
	Action   Action
}

type Service struct {
	uow      UnitOfWork
	observer Observer
}

func NewService(uow UnitOfWork, observer Observer) *Service {
	return &Service{uow: uow, observer: observer}
}

// Apply reconciles actorID's vote on target with value inside one unit of work and
// returns the target's committed counters.
func (s *Service) Apply(ctx context.Context, actorID string, target Target, value int) (Result, error) {
	result, err := s.apply(ctx, actorID, target, value)
	if s.observer != nil {
		outcome := result.Action.String()
		if err != nil {
			outcome = string(domain.KindOf(err))
		}
		s.observer.ObserveReaction(target.Kind, outcome)
	}
	return result, err
}

func (s *Service) apply(ctx context.Context, actorID string, target Target, value int) (Result, error) {
	if actorID == "" {
		return Result{}, domain.Authentication()
	}
	if !target.Kind.Valid() {
		return Result{}, domain.Validation("Unknown content type.")
	}
	if !ValidValue(value) {
		return Result{}, domain.Validation("Reaction value must be 1 or -1.")
	}

	var result Result
	err := s.uow.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockContent(ctx, target.Kind, target.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NotFound(notFoundMessage(target.Kind))
			}
			return err
		}

		existing, found, err := tx.FindVote(ctx, target.Kind, actorID, target.ID)
		if err != nil {
			return err
		}
		current := 0
		if found {
			current = existing.Value
		}

		transition := Reconcile(current, value)
		vote := store.Vote{AuthorID: actorID, TargetID: target.ID, Value: transition.Next}
		switch transition.Action {
		case ActionCreate:
			err = tx.InsertVote(ctx, target.Kind, vote)
		case ActionDelete:
			err = tx.DeleteVote(ctx, target.Kind, actorID, target.ID)
		case ActionFlip:
			err = tx.UpdateVote(ctx, target.Kind, vote)
		}
		if err != nil {
			return err
		}

		content, err := tx.AddContentCounters(ctx, target.Kind, target.ID, transition.LikesDelta, transition.DislikesDelta)
		if err != nil {
			return err
		}
		result = Result{Content: content, HasVoted: transition.HasVoted, Action: transition.Action}
		return nil
	})
	if err != nil {
		if domain.IsDomain(err) {
			return Result{}, err
		}
		return Result{}, domain.Reconciliation("react to "+string(target.Kind), err)
	}
	return result, nil
}

func notFoundMessage(kind store.ContentKind) string {
	if kind == store.KindBook {
		return "Book doesn't exist."
	}
	return "Chapter doesn't exist."
}
