// Package session owns the authenticated identity and the backend bearer
// token derived from it. The remote store of record for everything else
// is the backend; the only durable state on this side is the token, kept
// in a TokenStore and invalidated lazily on read.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"boardgate/domain"
)

// Token lifetime when the backend token carries no usable exp claim.
const defaultTokenTTL = time.Hour

// AuthError is any identity-provider failure: bad credentials, a
// cancelled federated sign-in, provider outage.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// IdentityProvider abstracts the external identity service. It
// authenticates people; it never talks to the task backend.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (domain.User, error)
	SignIn(ctx context.Context, email, password string) (domain.User, error)
	SignInFederated(ctx context.Context) (domain.User, error)
	SignOut(ctx context.Context) error
}

// TokenIssuer is the slice of the backend client the store needs:
// exchanging an identity for a bearer token, and registering federated
// users. *client.Remote implements it.
type TokenIssuer interface {
	IssueToken(ctx context.Context, email string) (string, error)
	RegisterUser(ctx context.Context, user domain.User) error
}

// TokenStore durably persists the current session across restarts, the
// way the original kept its token in browser storage.
type TokenStore interface {
	Save(ctx context.Context, s domain.Session) error
	Load(ctx context.Context) (domain.Session, bool, error)
	Clear(ctx context.Context) error
}

// Store is the session store. It is safe for concurrent use.
type Store struct {
	idp     IdentityProvider
	backend TokenIssuer
	tokens  TokenStore
	logger  *log.Logger
	now     func() time.Time

	mu      sync.Mutex
	current *domain.Session
}

// New creates a Store. All three collaborators are required.
func New(idp IdentityProvider, backend TokenIssuer, tokens TokenStore, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{
		idp:     idp,
		backend: backend,
		tokens:  tokens,
		logger:  logger,
		now:     time.Now,
	}
}

// SignUp registers a new identity. It deliberately does not establish a
// backend token; the caller signs in afterwards.
func (s *Store) SignUp(ctx context.Context, email, password string) (domain.Session, error) {
	user, err := s.idp.SignUp(ctx, email, password)
	if err != nil {
		return domain.Session{}, &AuthError{Reason: "sign-up failed", Err: err}
	}
	return domain.Session{User: user}, nil
}

// SignIn authenticates against the identity provider, then exchanges the
// identity for a backend bearer token and persists it.
func (s *Store) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	user, err := s.idp.SignIn(ctx, email, password)
	if err != nil {
		return domain.Session{}, &AuthError{Reason: "sign-in failed", Err: err}
	}
	return s.establish(ctx, user)
}

// SignInFederated runs the federated flow: authenticate, make sure the
// user exists server-side (already-exists is fine), then exchange for a
// token.
func (s *Store) SignInFederated(ctx context.Context) (domain.Session, error) {
	user, err := s.idp.SignInFederated(ctx)
	if err != nil {
		return domain.Session{}, &AuthError{Reason: "federated sign-in failed", Err: err}
	}
	if err := s.backend.RegisterUser(ctx, user); err != nil {
		return domain.Session{}, err
	}
	return s.establish(ctx, user)
}

func (s *Store) establish(ctx context.Context, user domain.User) (domain.Session, error) {
	token, err := s.backend.IssueToken(ctx, user.Email)
	if err != nil {
		return domain.Session{}, err
	}
	sess := domain.Session{
		User:   user,
		Token:  token,
		Expiry: s.expiryFor(token),
	}
	if err := s.tokens.Save(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("persist session: %w", err)
	}
	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	return sess, nil
}

// expiryFor picks the fixed TTL, shortened to the token's own exp claim
// when that comes sooner. The claim is read unverified; verifying
// signatures is the backend's job.
func (s *Store) expiryFor(token string) time.Time {
	expiry := s.now().Add(defaultTokenTTL)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return expiry
	}
	if exp, ok := claims["exp"].(float64); ok {
		claimExpiry := time.Unix(int64(exp), 0)
		if claimExpiry.Before(expiry) && claimExpiry.After(s.now()) {
			return claimExpiry
		}
	}
	return expiry
}

// SignOut clears identity and token. It never fails visibly; provider or
// store errors are logged and swallowed.
func (s *Store) SignOut(ctx context.Context) {
	if err := s.idp.SignOut(ctx); err != nil {
		s.logger.WithError(err).Warn("identity provider sign-out failed")
	}
	if err := s.tokens.Clear(ctx); err != nil {
		s.logger.WithError(err).Warn("token store clear failed")
	}
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Current returns the live session, or nil when there is none. A stored
// token past its expiry is discarded here, on read, even if the identity
// provider still considers the user signed in.
func (s *Store) Current(ctx context.Context) *domain.Session {
	now := s.now()

	s.mu.Lock()
	if s.current != nil {
		if s.current.Valid(now) {
			sess := *s.current
			s.mu.Unlock()
			return &sess
		}
		s.current = nil
	}
	s.mu.Unlock()

	sess, ok, err := s.tokens.Load(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("token store load failed")
		return nil
	}
	if !ok {
		return nil
	}
	if !sess.Valid(now) {
		if err := s.tokens.Clear(ctx); err != nil {
			s.logger.WithError(err).Warn("expired token clear failed")
		}
		return nil
	}
	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	return &sess
}

// Token implements client.TokenSource: the current valid bearer token,
// or "" so the call goes out unauthenticated and the backend rejects it.
func (s *Store) Token(ctx context.Context) string {
	if sess := s.Current(ctx); sess != nil {
		return sess.Token
	}
	return ""
}
