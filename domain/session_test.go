package domain

import (
	"testing"
	"time"
)

func TestSessionValid(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tests := map[string]struct {
		sess Session
		want bool
	}{
		"live":      {sess: Session{Token: "t", Expiry: now.Add(time.Hour)}, want: true},
		"expired":   {sess: Session{Token: "t", Expiry: now.Add(-time.Minute)}, want: false},
		"noToken":   {sess: Session{Expiry: now.Add(time.Hour)}, want: false},
		"exactlyAt": {sess: Session{Token: "t", Expiry: now}, want: false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := tt.sess.Valid(now); got != tt.want {
				t.Fatalf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
