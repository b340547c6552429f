package membership

import (
	"errors"

	"boardgate/client"
	"boardgate/domain"
)

// InviteStage is the state of one invite-acceptance flow.
type InviteStage int

const (
	// InviteAlreadyMember: the viewer already belongs; redirect straight
	// to the group with no confirmation prompt.
	InviteAlreadyMember InviteStage = iota
	// InviteNotFound: the group was deleted or the link is bogus.
	InviteNotFound
	// InviteAwaitingConfirmation: eligible to join once the human agrees.
	InviteAwaitingConfirmation
	// InviteJoined: the join call succeeded.
	InviteJoined
	// InviteDeclined: the human said no; nothing was sent.
	InviteDeclined
)

var errInviteNotPending = errors.New("invite is not awaiting confirmation")

// Invite is one in-flight invite acceptance. Obtain it from
// Manager.AcceptInvite, inspect Stage, then Confirm or Decline.
type Invite struct {
	manager *Manager
	groupID string
	stage   InviteStage
	group   *domain.Group
}

// AcceptInvite probes the viewer's standing against the invited group
// and returns the flow handle. Membership is checked remotely; a missing
// group yields InviteNotFound rather than an error, since a dead invite
// link is an expected outcome.
func (m *Manager) AcceptInvite(groupID string) (*Invite, error) {
	inv := &Invite{manager: m, groupID: groupID}

	check, err := m.client.CheckMember(m.ctx, groupID, m.viewer.Email)
	if err != nil {
		if client.IsNotFound(err) {
			inv.stage = InviteNotFound
			return inv, nil
		}
		return nil, err
	}
	if check.Group == nil {
		inv.stage = InviteNotFound
		return inv, nil
	}
	inv.group = check.Group
	if check.IsMember || check.IsAdmin {
		inv.stage = InviteAlreadyMember
		return inv, nil
	}
	inv.stage = InviteAwaitingConfirmation
	return inv, nil
}

// Stage returns the flow's current state.
func (i *Invite) Stage() InviteStage { return i.stage }

// GroupName is the invited group's name, or "" when the group is gone.
func (i *Invite) GroupName() string {
	if i.group == nil {
		return ""
	}
	return i.group.Name
}

// Confirm performs the join. Only legal while awaiting confirmation.
// On success the group is appended to the viewer's local list.
func (i *Invite) Confirm() error {
	if i.stage != InviteAwaitingConfirmation {
		return errInviteNotPending
	}
	m := i.manager
	joined, err := m.client.JoinGroup(m.ctx, i.groupID, m.viewer.Email)
	if err != nil {
		return err
	}
	if !joined {
		return errors.New("join was not accepted by the backend")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return m.ctx.Err()
	}
	i.stage = InviteJoined
	if m.find(i.groupID) == nil && i.group != nil {
		g := *i.group
		g.Members = append(append([]string{}, g.Members...), m.viewer.Email)
		m.groups = append(m.groups, g)
	}
	return nil
}

// Decline abandons the flow without any network call.
func (i *Invite) Decline() {
	if i.stage == InviteAwaitingConfirmation {
		i.stage = InviteDeclined
	}
}
