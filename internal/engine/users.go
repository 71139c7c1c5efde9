package engine

import (
	"context"
	"strings"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

func (e *Engine) cacheUser(u *models.User) {
	e.usersMu.Lock()
	defer e.usersMu.Unlock()
	e.users[u.ID] = u
	e.emails[strings.ToLower(u.Email)] = u.ID
}

// CreateUser registers a user. Emails are unique, case-insensitively.
func (e *Engine) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" || user.Email == "" {
		return models.Validationf("user id and email are required")
	}
	if user.Timezone != "" {
		if _, err := time.LoadLocation(user.Timezone); err != nil {
			return models.Validationf("unknown timezone %q", user.Timezone)
		}
	}

	unlock := e.locks.Lock("email:" + strings.ToLower(user.Email))
	defer unlock()

	if existing, _ := e.GetUserByEmail(ctx, user.Email); existing != nil {
		return models.Validationf("email %s already registered", user.Email)
	}
	if err := e.retry(ctx, func() error { return e.store.CreateUser(ctx, user) }); err != nil {
		return err
	}
	e.cacheUser(user)
	e.logger.Info("User created", "user_id", user.ID)
	return nil
}

// GetUserByEmail returns nil, nil when no user has that email.
func (e *Engine) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	e.usersMu.RLock()
	defer e.usersMu.RUnlock()
	id, ok := e.emails[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	u := *e.users[id]
	return &u, nil
}

// GetUserByID returns nil, nil when the user does not exist.
func (e *Engine) GetUserByID(_ context.Context, id string) (*models.User, error) {
	e.usersMu.RLock()
	defer e.usersMu.RUnlock()
	u, ok := e.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// requireUsers fails with ErrNotFound for the first unknown ID.
func (e *Engine) requireUsers(ids ...string) error {
	e.usersMu.RLock()
	defer e.usersMu.RUnlock()
	for _, id := range ids {
		if _, ok := e.users[id]; !ok {
			return models.NotFoundf("user", id)
		}
	}
	return nil
}

// displayName falls back to the ID for unknown users.
func (e *Engine) displayName(id string) string {
	e.usersMu.RLock()
	defer e.usersMu.RUnlock()
	if u, ok := e.users[id]; ok && u.Name != "" {
		return u.Name
	}
	return id
}

func (e *Engine) location(userID string) *time.Location {
	e.usersMu.RLock()
	tz := ""
	if u, ok := e.users[userID]; ok {
		tz = u.Timezone
	}
	e.usersMu.RUnlock()

	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return e.cfg.DefaultTimezone
}
