package domain

import "time"

// User is the read-only profile supplied by the identity provider.
type User struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// Session pairs an authenticated identity with the backend bearer token
// and its expiry. A zero Session means "not signed in".
type Session struct {
	User   User      `json:"user"`
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

// Valid reports whether the session carries a usable token at the given
// instant. Expiry is checked lazily by callers; nothing times sessions
// out proactively.
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && now.Before(s.Expiry)
}
