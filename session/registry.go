package session

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardgate/domain"
)

// staticIdentity is the identity provider for callers who arrive already
// authenticated: the gateway has verified their token, so the provider's
// only job is to echo the fixed user back.
type staticIdentity struct {
	user domain.User
}

func (s staticIdentity) SignUp(ctx context.Context, email, password string) (domain.User, error) {
	return s.user, nil
}

func (s staticIdentity) SignIn(ctx context.Context, email, password string) (domain.User, error) {
	return s.user, nil
}

func (s staticIdentity) SignInFederated(ctx context.Context) (domain.User, error) {
	return s.user, nil
}

func (s staticIdentity) SignOut(ctx context.Context) error { return nil }

// Registry hands out one Store per user email, sharing the backend
// client and Redis connection. Stores are cached so repeated requests by
// the same user reuse the in-memory session.
type Registry struct {
	backend TokenIssuer
	redis   *redis.Client
	logger  *log.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates a Registry. redis may be nil, in which case each
// store falls back to in-memory persistence.
func NewRegistry(backend TokenIssuer, rc *redis.Client, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		backend: backend,
		redis:   rc,
		logger:  logger,
		stores:  make(map[string]*Store),
	}
}

// For returns the session store for the given verified user.
func (r *Registry) For(user domain.User) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[user.Email]; ok {
		return s
	}
	var tokens TokenStore
	if r.redis != nil {
		tokens = NewRedisTokenStore(r.redis, user.Email)
	} else {
		tokens = NewMemoryTokenStore()
	}
	s := New(staticIdentity{user: user}, r.backend, tokens, r.logger)
	r.stores[user.Email] = s
	return s
}

// Establish returns a session for the user, exchanging a fresh backend
// token when no valid one is stored. Federated establishment registers
// the user server-side first, tolerating already-exists.
func (r *Registry) Establish(ctx context.Context, user domain.User) (*domain.Session, error) {
	store := r.For(user)
	if sess := store.Current(ctx); sess != nil {
		return sess, nil
	}
	sess, err := store.SignInFederated(ctx)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
