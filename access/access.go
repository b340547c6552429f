// Package access is the single authority on group privileges. Every rule
// is a pure function over (viewer email, group record); nothing here
// touches the network, so a denial costs no round trip.
package access

import (
	"errors"

	"boardgate/domain"
)

// ErrUnauthorized is returned by callers when an evaluator denies an
// action before any remote call is made.
var ErrUnauthorized = errors.New("not authorized")

// ErrLastAdmin rejects role changes that would leave a group with no
// admin at all.
var ErrLastAdmin = errors.New("group must keep exactly one admin")

// IsAdmin reports whether the viewer holds the group's single admin role.
func IsAdmin(viewer string, g *domain.Group) bool {
	return viewer != "" && viewer == g.AdminEmail
}

// IsMember reports whether the viewer may see the group. The admin is
// always a member regardless of the roster contents.
func IsMember(viewer string, g *domain.Group) bool {
	return IsAdmin(viewer, g) || g.HasMember(viewer)
}

// CanMutateGroupTasks gates edit/delete/move/create on group boards.
// Reference behavior: admin only. Members collaborate by viewing; see
// CanViewGroupTasks for the read-side rule. Kept as its own named rule so
// the policy can be widened without touching mechanism.
func CanMutateGroupTasks(viewer string, g *domain.Group) bool {
	return IsAdmin(viewer, g)
}

// CanViewGroupTasks gates the read side of a group board.
func CanViewGroupTasks(viewer string, g *domain.Group) bool {
	return IsMember(viewer, g)
}

// CanManageMembers gates kick, promote and demote.
func CanManageMembers(viewer string, g *domain.Group) bool {
	return IsAdmin(viewer, g)
}

// CanKick reports whether the viewer may remove target from the group.
// The admin is never kickable through this path.
func CanKick(viewer, target string, g *domain.Group) bool {
	if !CanManageMembers(viewer, g) {
		return false
	}
	return target != g.AdminEmail && g.HasMember(target)
}

// CanPromote reports whether the viewer may hand the admin role to
// target. The target must already be on the roster; promotion implicitly
// demotes the current admin, so the one-admin invariant holds across the
// swap.
func CanPromote(viewer, target string, g *domain.Group) bool {
	if !CanManageMembers(viewer, g) {
		return false
	}
	return target != g.AdminEmail && g.HasMember(target)
}

// CheckDemote validates a standalone demotion of target to plain member.
// Demoting the current admin without a simultaneous promotion would
// strand the group with zero admins, so it is always rejected here no
// matter how many members remain.
func CheckDemote(viewer, target string, g *domain.Group) error {
	if !CanManageMembers(viewer, g) {
		return ErrUnauthorized
	}
	if target == g.AdminEmail {
		return ErrLastAdmin
	}
	return nil
}
