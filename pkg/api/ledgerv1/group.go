package ledgerv1

import "time"

type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateGroupRequest struct {
	ActorID     string   `json:"actor_id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members,omitempty"`
}

type GetGroupRequest struct {
	GroupID string `json:"group_id"`
}

type GroupResponse struct {
	Group Group `json:"group"`
}

type MembershipRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}
