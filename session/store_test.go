package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"boardgate/domain"
)

type fakeIdentity struct {
	user       domain.User
	signInErr  error
	signOutErr error
	signOuts   int
}

func (f *fakeIdentity) SignUp(ctx context.Context, email, password string) (domain.User, error) {
	if f.signInErr != nil {
		return domain.User{}, f.signInErr
	}
	return domain.User{Email: email}, nil
}

func (f *fakeIdentity) SignIn(ctx context.Context, email, password string) (domain.User, error) {
	if f.signInErr != nil {
		return domain.User{}, f.signInErr
	}
	return f.user, nil
}

func (f *fakeIdentity) SignInFederated(ctx context.Context) (domain.User, error) {
	if f.signInErr != nil {
		return domain.User{}, f.signInErr
	}
	return f.user, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.signOuts++
	return f.signOutErr
}

type fakeIssuer struct {
	token       string
	issueErr    error
	issued      int
	registered  int
	registerErr error
}

func (f *fakeIssuer) IssueToken(ctx context.Context, email string) (string, error) {
	f.issued++
	if f.issueErr != nil {
		return "", f.issueErr
	}
	return f.token, nil
}

func (f *fakeIssuer) RegisterUser(ctx context.Context, user domain.User) error {
	f.registered++
	return f.registerErr
}

var testUser = domain.User{Email: "alice@x.io", DisplayName: "Alice"}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestSignInEstablishesSession(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	issuer := &fakeIssuer{token: "backend-token"}
	tokens := NewMemoryTokenStore()
	s := New(&fakeIdentity{user: testUser}, issuer, tokens, nil)
	s.now = fixedClock(now)

	sess, err := s.SignIn(context.Background(), testUser.Email, "pw")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if sess.Token != "backend-token" {
		t.Fatalf("unexpected token: %q", sess.Token)
	}
	if !sess.Expiry.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected one hour lifetime, got %v", sess.Expiry)
	}
	if stored, ok, _ := tokens.Load(context.Background()); !ok || stored.Token != "backend-token" {
		t.Fatalf("session not persisted: %#v", stored)
	}
}

func TestSignInProviderFailure(t *testing.T) {
	boom := errors.New("wrong password")
	s := New(&fakeIdentity{signInErr: boom}, &fakeIssuer{}, NewMemoryTokenStore(), nil)

	_, err := s.SignIn(context.Background(), "alice@x.io", "pw")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("AuthError must wrap the provider error")
	}
	if s.Current(context.Background()) != nil {
		t.Fatalf("failed sign-in must not leave a session")
	}
}

func TestSignUpIssuesNoToken(t *testing.T) {
	issuer := &fakeIssuer{token: "backend-token"}
	s := New(&fakeIdentity{user: testUser}, issuer, NewMemoryTokenStore(), nil)

	sess, err := s.SignUp(context.Background(), "new@x.io", "pw")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if sess.Token != "" {
		t.Fatalf("sign-up must not carry a token, got %q", sess.Token)
	}
	if issuer.issued != 0 {
		t.Fatalf("sign-up must not exchange a token")
	}
}

func TestSignInFederatedRegistersFirst(t *testing.T) {
	issuer := &fakeIssuer{token: "backend-token"}
	s := New(&fakeIdentity{user: testUser}, issuer, NewMemoryTokenStore(), nil)

	if _, err := s.SignInFederated(context.Background()); err != nil {
		t.Fatalf("federated sign-in: %v", err)
	}
	if issuer.registered != 1 || issuer.issued != 1 {
		t.Fatalf("expected register then issue, got registered=%d issued=%d", issuer.registered, issuer.issued)
	}
}

func TestExpiryShortenedByTokenClaim(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	claimExpiry := now.Add(10 * time.Minute)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": testUser.Email,
		"exp":   claimExpiry.Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	s := New(&fakeIdentity{user: testUser}, &fakeIssuer{token: signed}, NewMemoryTokenStore(), nil)
	s.now = fixedClock(now)

	sess, err := s.SignIn(context.Background(), testUser.Email, "pw")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !sess.Expiry.Equal(time.Unix(claimExpiry.Unix(), 0)) {
		t.Fatalf("expected expiry from exp claim, got %v", sess.Expiry)
	}
}

func TestCurrentInvalidatesExpiredSession(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewMemoryTokenStore()
	s := New(&fakeIdentity{user: testUser}, &fakeIssuer{token: "backend-token"}, tokens, nil)
	s.now = fixedClock(now)

	if _, err := s.SignIn(context.Background(), testUser.Email, "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s.Current(context.Background()) == nil {
		t.Fatalf("expected a live session")
	}

	s.now = fixedClock(now.Add(2 * time.Hour))
	if sess := s.Current(context.Background()); sess != nil {
		t.Fatalf("expired session still returned: %#v", sess)
	}
	if s.Token(context.Background()) != "" {
		t.Fatalf("expired session still yields a token")
	}
	if _, ok, _ := tokens.Load(context.Background()); ok {
		t.Fatalf("expired session not cleared from the store")
	}
}

func TestCurrentRecoversFromStore(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewMemoryTokenStore()
	_ = tokens.Save(context.Background(), domain.Session{
		User:   testUser,
		Token:  "persisted",
		Expiry: now.Add(time.Hour),
	})

	s := New(&fakeIdentity{user: testUser}, &fakeIssuer{}, tokens, nil)
	s.now = fixedClock(now)

	sess := s.Current(context.Background())
	if sess == nil || sess.Token != "persisted" {
		t.Fatalf("session not recovered from the store: %#v", sess)
	}
}

func TestSignOutSwallowsFailures(t *testing.T) {
	idp := &fakeIdentity{user: testUser, signOutErr: errors.New("provider down")}
	s := New(idp, &fakeIssuer{token: "backend-token"}, NewMemoryTokenStore(), nil)

	if _, err := s.SignIn(context.Background(), testUser.Email, "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	s.SignOut(context.Background())

	if idp.signOuts != 1 {
		t.Fatalf("provider sign-out not attempted")
	}
	if s.Current(context.Background()) != nil {
		t.Fatalf("session survived sign-out")
	}
}
