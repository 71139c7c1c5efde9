package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

func upsertGroup(ctx context.Context, tx *sql.Tx, g *models.Group) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO groups (id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     name = excluded.name,
		     description = excluded.description,
		     updated_at = excluded.updated_at`,
		g.ID, g.Name, g.Description, g.CreatedAt.UnixNano(), g.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return classify(fmt.Errorf("failed to save group: %w", err))
	}
	return nil
}

func upsertMembership(ctx context.Context, tx *sql.Tx, m models.Membership) error {
	var leftAt any
	if !m.LeftAt.IsZero() {
		leftAt = m.LeftAt.UnixNano()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, joined_at, left_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(group_id, user_id, joined_at) DO UPDATE SET left_at = excluded.left_at`,
		m.GroupID, m.UserID, m.JoinedAt.UnixNano(), leftAt,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to save membership: %w", err))
	}
	return nil
}

// Groups returns every group with its current members.
func (s *SQLiteStore) Groups(ctx context.Context) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM groups ORDER BY created_at, id",
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list groups: %w", err))
	}
	defer rows.Close()

	var (
		groups []*models.Group
		byID   = make(map[string]*models.Group)
	)
	for rows.Next() {
		var (
			g                models.Group
			created, updated int64
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.CreatedAt = time.Unix(0, created).UTC()
		g.UpdatedAt = time.Unix(0, updated).UTC()
		groups = append(groups, &g)
		byID[g.ID] = &g
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate groups: %w", err))
	}

	memberships, err := s.Memberships(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		if g, ok := byID[m.GroupID]; ok && m.Active() && !g.HasMember(m.UserID) {
			g.Members = append(g.Members, m.UserID)
		}
	}
	return groups, nil
}

// Memberships returns the full membership history ordered by join time.
func (s *SQLiteStore) Memberships(ctx context.Context) ([]models.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT group_id, user_id, joined_at, left_at FROM group_members ORDER BY joined_at, user_id",
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list memberships: %w", err))
	}
	defer rows.Close()

	var memberships []models.Membership
	for rows.Next() {
		var (
			m      models.Membership
			joined int64
			left   sql.NullInt64
		)
		if err := rows.Scan(&m.GroupID, &m.UserID, &joined, &left); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.JoinedAt = time.Unix(0, joined).UTC()
		if left.Valid {
			m.LeftAt = time.Unix(0, left.Int64).UTC()
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate memberships: %w", err))
	}
	return memberships, nil
}
