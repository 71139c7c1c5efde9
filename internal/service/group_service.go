package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/engine"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/pkg/api/ledgerv1"
	"github.com/mmynk/splitledger/pkg/api/ledgerv1/ledgerv1connect"
)

// Groups is the part of the engine the GroupService calls.
type Groups interface {
	CreateGroup(ctx context.Context, actor, name, description string, members []string) (*models.Group, error)
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	AddMember(ctx context.Context, actor, groupID, userID string) (*models.Group, error)
	RemoveMember(ctx context.Context, actor, groupID, userID string) (*models.Group, error)
}

var _ Groups = (*engine.Engine)(nil)

var _ ledgerv1connect.GroupServiceHandler = (*GroupService)(nil)

// GroupService implements the Connect GroupService.
type GroupService struct {
	groups Groups
	logger *slog.Logger
}

// NewGroupService creates a GroupService backed by groups.
func NewGroupService(groups Groups, logger *slog.Logger) *GroupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupService{groups: groups, logger: logger}
}

// CreateGroup creates a new group. The actor is always a member.
func (s *GroupService) CreateGroup(ctx context.Context, req *connect.Request[ledgerv1.CreateGroupRequest]) (*connect.Response[ledgerv1.GroupResponse], error) {
	s.logger.InfoContext(ctx, "CreateGroup request received",
		"name", req.Msg.Name,
		"members_count", len(req.Msg.Members),
	)

	actor, err := middleware.Actor(ctx, req.Msg.ActorID)
	if err != nil {
		return nil, err
	}
	g, err := s.groups.CreateGroup(ctx, actor, req.Msg.Name, req.Msg.Description, req.Msg.Members)
	if err != nil {
		s.logger.WarnContext(ctx, "CreateGroup failed", "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.GroupResponse{Group: groupToWire(g)}), nil
}

// GetGroup retrieves a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, req *connect.Request[ledgerv1.GetGroupRequest]) (*connect.Response[ledgerv1.GroupResponse], error) {
	g, err := s.groups.GetGroup(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.GroupResponse{Group: groupToWire(g)}), nil
}

// AddMember adds a user to a group.
func (s *GroupService) AddMember(ctx context.Context, req *connect.Request[ledgerv1.MembershipRequest]) (*connect.Response[ledgerv1.GroupResponse], error) {
	return s.changeMembership(ctx, req.Msg, s.groups.AddMember)
}

// RemoveMember removes a user from a group. Their past expenses stay valid.
func (s *GroupService) RemoveMember(ctx context.Context, req *connect.Request[ledgerv1.MembershipRequest]) (*connect.Response[ledgerv1.GroupResponse], error) {
	return s.changeMembership(ctx, req.Msg, s.groups.RemoveMember)
}

type membershipFunc func(ctx context.Context, actor, groupID, userID string) (*models.Group, error)

func (s *GroupService) changeMembership(ctx context.Context, msg *ledgerv1.MembershipRequest, change membershipFunc) (*connect.Response[ledgerv1.GroupResponse], error) {
	actor, err := middleware.Actor(ctx, msg.ActorID)
	if err != nil {
		return nil, err
	}
	g, err := change(ctx, actor, msg.GroupID, msg.UserID)
	if err != nil {
		s.logger.WarnContext(ctx, "Membership change failed",
			"group_id", msg.GroupID,
			"user_id", msg.UserID,
			"error", err,
		)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.GroupResponse{Group: groupToWire(g)}), nil
}
