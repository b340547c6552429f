package session

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"boardgate/domain"
)

// RedisTokenStore persists one session record in Redis under a
// caller-chosen namespace, with a TTL matching the token expiry so Redis
// itself garbage-collects abandoned sessions.
type RedisTokenStore struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewRedisTokenStore creates a store scoped to the given namespace,
// typically the viewer's email.
func NewRedisTokenStore(client *redis.Client, namespace string) *RedisTokenStore {
	return &RedisTokenStore{
		client: client,
		key:    "session:" + namespace,
		now:    time.Now,
	}
}

func (r *RedisTokenStore) Save(ctx context.Context, s domain.Session) error {
	data, err := sonic.ConfigStd.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := s.Expiry.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("refusing to persist expired session")
	}
	return r.client.Set(ctx, r.key, data, ttl).Err()
}

func (r *RedisTokenStore) Load(ctx context.Context) (domain.Session, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	var s domain.Session
	if err := sonic.ConfigStd.Unmarshal(data, &s); err != nil {
		// A corrupt record is unrecoverable; drop it.
		_ = r.client.Del(ctx, r.key).Err()
		return domain.Session{}, false, nil
	}
	return s, true, nil
}

func (r *RedisTokenStore) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

// MemoryTokenStore keeps the session in process memory. Used in tests
// and for running without Redis.
type MemoryTokenStore struct {
	sess *domain.Session
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (m *MemoryTokenStore) Save(ctx context.Context, s domain.Session) error {
	m.sess = &s
	return nil
}

func (m *MemoryTokenStore) Load(ctx context.Context) (domain.Session, bool, error) {
	if m.sess == nil {
		return domain.Session{}, false, nil
	}
	return *m.sess, true, nil
}

func (m *MemoryTokenStore) Clear(ctx context.Context) error {
	m.sess = nil
	return nil
}
