package domain

import (
	"errors"
	"strings"
)

// Group is a shared task board with exactly one admin. The admin is
// privileged by email match, not by membership: AdminEmail may or may not
// appear inside Members, and Normalize strips it so the roster never
// duplicates it.
type Group struct {
	ID         string   `json:"_id"`
	Name       string   `json:"name"`
	AdminEmail string   `json:"adminEmail"`
	Members    []string `json:"members"`
	CreatedAt  string   `json:"createdAt,omitempty"`
}

var (
	ErrGroupNameRequired = errors.New("group name is required")
	ErrNoAdmin           = errors.New("group has no admin")
)

// Normalize enforces the roster invariant after construction or decode:
// the admin email never appears inside Members, and a nil roster becomes
// an empty one so callers can range without checks.
func (g *Group) Normalize() {
	members := g.Members[:0]
	for _, m := range g.Members {
		if m != g.AdminEmail && m != "" {
			members = append(members, m)
		}
	}
	if members == nil {
		members = []string{}
	}
	g.Members = members
}

// Validate reports whether the record is usable at all.
func (g *Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrGroupNameRequired
	}
	if g.AdminEmail == "" {
		return ErrNoAdmin
	}
	return nil
}

// HasMember reports whether email is on the roster or is the admin.
func (g *Group) HasMember(email string) bool {
	if email == "" {
		return false
	}
	if email == g.AdminEmail {
		return true
	}
	for _, m := range g.Members {
		if m == email {
			return true
		}
	}
	return false
}

// RemoveMember drops email from the roster. Removing the admin is not a
// roster operation and is ignored here.
func (g *Group) RemoveMember(email string) {
	if email == g.AdminEmail {
		return
	}
	members := g.Members[:0]
	for _, m := range g.Members {
		if m != email {
			members = append(members, m)
		}
	}
	g.Members = members
}

// PromoteAdmin makes email the group admin and demotes the previous admin
// to a plain member, preserving the exactly-one-admin invariant.
func (g *Group) PromoteAdmin(email string) {
	if email == "" || email == g.AdminEmail {
		return
	}
	// Drop the target from the roster while they are still a plain
	// member; RemoveMember ignores the current admin.
	g.RemoveMember(email)
	prev := g.AdminEmail
	g.AdminEmail = email
	if prev != "" {
		g.Members = append(g.Members, prev)
	}
}
