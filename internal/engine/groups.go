package engine

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// groupRegistry tracks groups and their membership history. It answers the
// ledger's membership checks.
type groupRegistry struct {
	mu          sync.RWMutex
	groups      map[string]*models.Group
	memberships map[string][]models.Membership
}

func newGroupRegistry() *groupRegistry {
	return &groupRegistry{
		groups:      make(map[string]*models.Group),
		memberships: make(map[string][]models.Membership),
	}
}

func (r *groupRegistry) load(groups []*models.Group, memberships []models.Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range groups {
		r.groups[g.ID] = g
	}
	for _, m := range memberships {
		r.putLocked(m)
	}
}

// putLocked inserts m or replaces the interval with the same start.
func (r *groupRegistry) putLocked(m models.Membership) {
	list := r.memberships[m.GroupID]
	for i, existing := range list {
		if existing.UserID == m.UserID && existing.JoinedAt.Equal(m.JoinedAt) {
			list[i] = m
			return
		}
	}
	r.memberships[m.GroupID] = append(list, m)
}

// WasMember reports whether userID belonged to groupID at time at.
func (r *groupRegistry) WasMember(groupID, userID string, at time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.groups[groupID]; !ok {
		return false, models.NotFoundf("group", groupID)
	}
	for _, m := range r.memberships[groupID] {
		if m.UserID == userID && m.Covers(at) {
			return true, nil
		}
	}
	return false, nil
}

func (r *groupRegistry) get(groupID string) (*models.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok {
		return nil, false
	}
	cp := *g
	cp.Members = slices.Clone(g.Members)
	return &cp, true
}

func (r *groupRegistry) active(groupID, userID string) (models.Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.memberships[groupID] {
		if m.UserID == userID && m.Active() {
			return m, true
		}
	}
	return models.Membership{}, false
}

// apply installs g and the membership changes after they were committed.
func (r *groupRegistry) apply(g *models.Group, changes ...models.Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.ID] = g
	for _, m := range changes {
		r.putLocked(m)
	}
}

// CreateGroup creates a group with actor and members as its initial members.
func (e *Engine) CreateGroup(ctx context.Context, actor, name, description string, members []string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.Validationf("group name is required")
	}
	members = slices.Compact(slices.Sorted(slices.Values(append([]string{actor}, members...))))
	if err := e.requireUsers(members...); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	g := &models.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Members:     members,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	unlock := e.locks.Lock(append(userKeys(members...), groupKey(g.ID))...)
	defer unlock()

	memberships := make([]models.Membership, len(members))
	for i, u := range members {
		memberships[i] = models.Membership{GroupID: g.ID, UserID: u, JoinedAt: now}
	}
	activities := e.feed.Prepare(models.Activity{
		Description:   e.describeGroup(actor, g, models.GroupCreated, ""),
		InvolvedUsers: members,
		GroupID:       g.ID,
		Detail:        models.GroupActivity{Action: models.GroupCreated},
	})
	if err := e.commit(ctx, storage.Batch{Group: g, Memberships: memberships, Activities: activities}); err != nil {
		return nil, err
	}

	e.groups.apply(g, memberships...)
	if err := e.feed.Append(activities...); err != nil {
		return nil, e.consistency(ctx, "append group activities", err)
	}
	e.logger.Info("Group created", "group_id", g.ID, "members", len(members))

	cp := *g
	cp.Members = slices.Clone(g.Members)
	return &cp, nil
}

// GetGroup returns a group with its current members.
func (e *Engine) GetGroup(_ context.Context, groupID string) (*models.Group, error) {
	g, ok := e.groups.get(groupID)
	if !ok {
		return nil, models.NotFoundf("group", groupID)
	}
	return g, nil
}

// AddMember opens a membership for userID. The actor must be a current member.
func (e *Engine) AddMember(ctx context.Context, actor, groupID, userID string) (*models.Group, error) {
	return e.changeMembership(ctx, actor, groupID, userID, models.GroupMemberAdded)
}

// RemoveMember closes userID's membership. Expenses dated while they were a
// member stay valid. Members may remove themselves.
func (e *Engine) RemoveMember(ctx context.Context, actor, groupID, userID string) (*models.Group, error) {
	return e.changeMembership(ctx, actor, groupID, userID, models.GroupMemberRemoved)
}

func (e *Engine) changeMembership(ctx context.Context, actor, groupID, userID string, action models.GroupAction) (*models.Group, error) {
	if err := e.requireUsers(actor, userID); err != nil {
		return nil, err
	}

	unlockGroup := e.locks.Lock(groupKey(groupID))
	defer unlockGroup()

	g, ok := e.groups.get(groupID)
	if !ok {
		return nil, models.NotFoundf("group", groupID)
	}
	if !g.HasMember(actor) {
		return nil, models.Validationf("user %s is not a member of group %s", actor, groupID)
	}

	// Group keys sort before user keys, so taking them second keeps the
	// global lock order.
	unlockUsers := e.locks.Lock(userKeys(append(slices.Clone(g.Members), userID)...)...)
	defer unlockUsers()

	now := e.now().UTC()
	involved := slices.Clone(g.Members)
	var change models.Membership
	switch action {
	case models.GroupMemberAdded:
		if g.HasMember(userID) {
			return nil, models.Validationf("user %s is already a member of group %s", userID, groupID)
		}
		change = models.Membership{GroupID: groupID, UserID: userID, JoinedAt: now}
		g.Members = append(g.Members, userID)
		involved = append(involved, userID)
	case models.GroupMemberRemoved:
		m, ok := e.groups.active(groupID, userID)
		if !ok {
			return nil, models.Validationf("user %s is not a member of group %s", userID, groupID)
		}
		m.LeftAt = now
		change = m
		g.Members = slices.DeleteFunc(g.Members, func(id string) bool { return id == userID })
	}
	g.UpdatedAt = now

	activities := e.feed.Prepare(models.Activity{
		Description:   e.describeGroup(actor, g, action, userID),
		InvolvedUsers: involved,
		GroupID:       groupID,
		Detail:        models.GroupActivity{Action: action, Subject: userID},
	})
	batch := storage.Batch{Group: g, Memberships: []models.Membership{change}, Activities: activities}
	if err := e.commit(ctx, batch); err != nil {
		return nil, err
	}

	e.groups.apply(g, change)
	if err := e.feed.Append(activities...); err != nil {
		return nil, e.consistency(ctx, "append group activities", err)
	}
	e.logger.Info("Group membership changed", "group_id", groupID, "user_id", userID, "action", action)

	cp := *g
	cp.Members = slices.Clone(g.Members)
	return &cp, nil
}
