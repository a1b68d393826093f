package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"scrivono/api/internal/authpw"
	"scrivono/api/internal/domain"
	"scrivono/api/internal/guard"
	"scrivono/api/internal/social"
	"scrivono/api/internal/store"
	"scrivono/api/internal/util"
)

type ProfileInput struct {
	Name       string
	Bio        string
	AvatarSeed string
}

// SignUp creates the account and, when mail is configured, sends a welcome email
// in the background.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return store.User{}, err
	}
	if s.mail != nil && s.mail.IsConfigured() {
		go func(u store.User) {
			if err := s.mail.SendWelcomeEmail(u.Email, u.Name, u.Username, s.cfg.CORSOrigin); err != nil {
				log.Printf("email: welcome to %s: %v", u.ID, err)
			}
		}(user)
	}
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	return s.accounts.SignIn(ctx, email, password)
}

func (s *Service) CurrentUser(ctx context.Context) (store.User, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, domain.Authentication()
	}
	return user, err
}

func (s *Service) AllUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, username string) (store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, domain.NotFound("User doesn't exist or has been deleted.")
	}
	return user, err
}

func (s *Service) UserByID(ctx context.Context, userID string) (store.User, error) {
	if !util.IsID(userID) {
		return store.User{}, domain.NotFound("User doesn't exist or has been deleted.")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, domain.NotFound("User doesn't exist or has been deleted.")
	}
	return user, err
}

func (s *Service) UpdateProfile(ctx context.Context, input ProfileInput) (store.User, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return store.User{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.User{}, domain.Validation("Name can't be empty.")
	}
	if len(input.Bio) > 500 {
		return store.User{}, domain.Validation("Bio must be at most 500 characters.")
	}
	user, err := s.store.UpdateProfile(ctx, actorID, name, strings.TrimSpace(input.Bio), strings.TrimSpace(input.AvatarSeed))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, domain.Authentication()
	}
	return user, err
}

func (s *Service) Followers(ctx context.Context, userID string) ([]store.User, error) {
	return s.store.ListFollowers(ctx, userID)
}

func (s *Service) Following(ctx context.Context, userID string) ([]store.User, error) {
	return s.store.ListFollowing(ctx, userID)
}

// FollowUser makes the actor follow leaderID, retrying reconciliation failures.
func (s *Service) FollowUser(ctx context.Context, leaderID string) (social.Edge, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return social.Edge{}, err
	}
	if leaderID != actorID && !util.IsID(leaderID) {
		return social.Edge{}, domain.NotFound("User you trying to follow doesn't exist.")
	}
	var edge social.Edge
	err = s.withRetry(ctx, "follow", func() error {
		var err error
		edge, err = s.social.Follow(ctx, actorID, leaderID)
		return err
	})
	return edge, err
}

func (s *Service) UnfollowUser(ctx context.Context, leaderID string) (bool, error) {
	actorID, err := guard.Actor(ctx)
	if err != nil {
		return false, err
	}
	if leaderID != actorID && !util.IsID(leaderID) {
		return false, domain.NotFound("User you trying to unfollow does not exist or has been deleted.")
	}
	var ok bool
	err = s.withRetry(ctx, "unfollow", func() error {
		var err error
		ok, err = s.social.Unfollow(ctx, actorID, leaderID)
		return err
	})
	return ok, err
}
