// Package app holds the glue the CLI needs to act against a workspace:
// config resolution and local actor lookup.
package app

import (
	"context"
	"errors"
	"fmt"

	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/repo"
	"taskdesk/internal/token"
)

// ResolveConfig loads the workspace config, seeding defaults when no file
// exists.
func ResolveConfig(workspace string) (*config.Config, error) {
	return config.Load(workspace)
}

// ResolveActor looks up the acting user for a local CLI command. Local
// commands talk straight to the database, so the actor is named by email
// rather than by a bearer token; the permission checks downstream are the
// same either way.
func ResolveActor(ctx context.Context, r repo.Repo, email string) (token.Principal, domain.User, error) {
	if email == "" {
		return token.Principal{}, domain.User{}, fmt.Errorf("actor not specified; use --as <email>")
	}
	u, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return token.Principal{}, domain.User{}, fmt.Errorf("no user with email %s", email)
		}
		return token.Principal{}, domain.User{}, err
	}
	return token.Principal{ID: u.ID, Role: u.Role}, u, nil
}
