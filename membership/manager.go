// Package membership maintains a viewer's group roster state: the list
// of groups they belong to and the member/admin roster of each. Every
// roster change is mirrored against the backend before it lands locally.
package membership

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardgate/access"
	"boardgate/client"
	"boardgate/domain"
)

// ErrGroupNotFound reports a group id the backend does not know.
var ErrGroupNotFound = errors.New("group not found")

const (
	// RoleAdmin and RoleMember are the wire values for role updates.
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// GroupClient is the slice of the remote client the manager drives.
type GroupClient interface {
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
	ListGroupsForUser(ctx context.Context, email string) ([]domain.Group, error)
	CreateGroup(ctx context.Context, g domain.Group) (*domain.Group, error)
	DeleteGroup(ctx context.Context, groupID, userEmail string) error
	CheckMember(ctx context.Context, groupID, email string) (*client.MembershipCheck, error)
	JoinGroup(ctx context.Context, groupID, userEmail string) (bool, error)
	KickMember(ctx context.Context, groupID, memberEmail, userEmail string) error
	UpdateRole(ctx context.Context, groupID, memberEmail, newRole, userEmail string) error
	LeaveGroup(ctx context.Context, groupID, userEmail string) error
}

// Manager owns the viewer's group list for one mounted view. Like the
// board reconciler it is bound to that view's context; completions after
// cancellation are discarded.
type Manager struct {
	ctx    context.Context
	client GroupClient
	viewer domain.User
	origin string
	logger *log.Logger

	mu     sync.Mutex
	groups []domain.Group
}

// New creates a Manager. origin is the public base URL used to mint
// invite links.
func New(ctx context.Context, c GroupClient, viewer domain.User, origin string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{ctx: ctx, client: c, viewer: viewer, origin: origin, logger: logger}
}

// Load refreshes the viewer's group list from the backend.
func (m *Manager) Load() error {
	groups, err := m.client.ListGroupsForUser(m.ctx, m.viewer.Email)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return m.ctx.Err()
	}
	m.groups = groups
	return nil
}

// Groups returns a copy of the viewer's group list.
func (m *Manager) Groups() []domain.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Group, len(m.groups))
	copy(out, m.groups)
	return out
}

// Group returns the locally held record for id, or nil.
func (m *Manager) Group(id string) *domain.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.find(id); g != nil {
		copied := *g
		copied.Members = append([]string{}, g.Members...)
		return &copied
	}
	return nil
}

// CreateGroup creates a group with the viewer as admin and adds it to
// the local list on success.
func (m *Manager) CreateGroup(name string) (*domain.Group, error) {
	draft := domain.Group{
		Name:       name,
		AdminEmail: m.viewer.Email,
		Members:    []string{},
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	created, err := m.client.CreateGroup(m.ctx, draft)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return nil, m.ctx.Err()
	}
	m.groups = append(m.groups, *created)
	return created, nil
}

// InviteURL mints the shareable join link for a group. Pure string
// construction; copying it anywhere is the caller's side effect.
func (m *Manager) InviteURL(groupID string) string {
	return m.origin + "/groups/" + groupID + "/join"
}

// Kick removes memberEmail from the group after remote success. The
// admin is never kickable; non-admin viewers are rejected locally with
// no network call.
func (m *Manager) Kick(groupID, memberEmail string) error {
	m.mu.Lock()
	g := m.find(groupID)
	if g == nil {
		m.mu.Unlock()
		return ErrGroupNotFound
	}
	allowed := access.CanKick(m.viewer.Email, memberEmail, g)
	m.mu.Unlock()
	if !allowed {
		return access.ErrUnauthorized
	}

	if err := m.client.KickMember(m.ctx, groupID, memberEmail, m.viewer.Email); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return m.ctx.Err()
	}
	if g := m.find(groupID); g != nil {
		g.RemoveMember(memberEmail)
	}
	return nil
}

// Promote hands the admin role to memberEmail. The previous admin
// becomes a plain member in the same swap, so exactly one admin holds at
// every observable point.
func (m *Manager) Promote(groupID, memberEmail string) error {
	m.mu.Lock()
	g := m.find(groupID)
	if g == nil {
		m.mu.Unlock()
		return ErrGroupNotFound
	}
	allowed := access.CanPromote(m.viewer.Email, memberEmail, g)
	m.mu.Unlock()
	if !allowed {
		return access.ErrUnauthorized
	}

	if err := m.client.UpdateRole(m.ctx, groupID, memberEmail, RoleAdmin, m.viewer.Email); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return m.ctx.Err()
	}
	if g := m.find(groupID); g != nil {
		g.PromoteAdmin(memberEmail)
	}
	return nil
}

// Demote sets memberEmail back to a plain member. Demoting the current
// admin is always rejected locally: it would strand the group with no
// admin, and the only supported demotion of an admin is the implicit
// half of Promote.
func (m *Manager) Demote(groupID, memberEmail string) error {
	m.mu.Lock()
	g := m.find(groupID)
	if g == nil {
		m.mu.Unlock()
		return ErrGroupNotFound
	}
	err := access.CheckDemote(m.viewer.Email, memberEmail, g)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.client.UpdateRole(m.ctx, groupID, memberEmail, RoleMember, m.viewer.Email)
}

// Leave removes the viewer from the group and drops it from the local
// list. Structurally any member may leave, the admin included; callers
// decide whether to offer it.
func (m *Manager) Leave(groupID string) error {
	if err := m.client.LeaveGroup(m.ctx, groupID, m.viewer.Email); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return m.ctx.Err()
	}
	m.remove(groupID)
	return nil
}

// DeleteGroup destroys the group. The backend cascade-deletes the
// group's tasks; locally the group and its board are evicted as one
// unit.
func (m *Manager) DeleteGroup(groupID string) error {
	m.mu.Lock()
	g := m.find(groupID)
	allowed := g == nil || access.IsAdmin(m.viewer.Email, g)
	m.mu.Unlock()
	if !allowed {
		return access.ErrUnauthorized
	}

	if err := m.client.DeleteGroup(m.ctx, groupID, m.viewer.Email); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return m.ctx.Err()
	}
	m.remove(groupID)
	return nil
}

// find and remove must be called with the mutex held.
func (m *Manager) find(groupID string) *domain.Group {
	for i := range m.groups {
		if m.groups[i].ID == groupID {
			return &m.groups[i]
		}
	}
	return nil
}

func (m *Manager) remove(groupID string) {
	for i := range m.groups {
		if m.groups[i].ID == groupID {
			m.groups = append(m.groups[:i], m.groups[i+1:]...)
			return
		}
	}
}
