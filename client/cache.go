package client

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"boardgate/domain"
)

// Cache wraps a Remote with Redis-backed caching for the read endpoints.
// Mutations pass through and evict the scopes they touch, so a cached
// view is never older than the last local write. Redis failures degrade
// to the remote call without failing the operation.
type Cache struct {
	*Remote
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper around base using the provided Redis
// client and TTL.
func NewCache(base *Remote, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("client.NewCache: base remote is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Remote: base, redis: client, ttl: ttl}
}

func (c *Cache) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	var g domain.Group
	if c.load(ctx, groupKey(groupID), &g) {
		return &g, nil
	}
	got, err := c.Remote.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, groupKey(groupID), got)
	return got, nil
}

func (c *Cache) GetGroupTasks(ctx context.Context, groupID string) ([]domain.Task, error) {
	var tasks []domain.Task
	if c.load(ctx, groupTasksKey(groupID), &tasks) {
		return tasks, nil
	}
	tasks, err := c.Remote.GetGroupTasks(ctx, groupID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, groupTasksKey(groupID), tasks)
	return tasks, nil
}

func (c *Cache) ListGroupsForUser(ctx context.Context, email string) ([]domain.Group, error) {
	var groups []domain.Group
	if c.load(ctx, userGroupsKey(email), &groups) {
		return groups, nil
	}
	groups, err := c.Remote.ListGroupsForUser(ctx, email)
	if err != nil {
		return nil, err
	}
	c.store(ctx, userGroupsKey(email), groups)
	return groups, nil
}

func (c *Cache) CreateGroup(ctx context.Context, g domain.Group) (*domain.Group, error) {
	created, err := c.Remote.CreateGroup(ctx, g)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, userGroupsKey(g.AdminEmail))
	return created, nil
}

// DeleteGroup evicts the group and its tasks as one unit: the backend
// cascade-deletes the tasks, so neither may outlive the group locally.
func (c *Cache) DeleteGroup(ctx context.Context, groupID, userEmail string) error {
	if err := c.Remote.DeleteGroup(ctx, groupID, userEmail); err != nil {
		return err
	}
	c.evict(ctx, groupKey(groupID), groupTasksKey(groupID), userGroupsKey(userEmail))
	return nil
}

func (c *Cache) JoinGroup(ctx context.Context, groupID, userEmail string) (bool, error) {
	joined, err := c.Remote.JoinGroup(ctx, groupID, userEmail)
	if err != nil {
		return false, err
	}
	c.evict(ctx, groupKey(groupID), userGroupsKey(userEmail))
	return joined, nil
}

func (c *Cache) KickMember(ctx context.Context, groupID, memberEmail, userEmail string) error {
	if err := c.Remote.KickMember(ctx, groupID, memberEmail, userEmail); err != nil {
		return err
	}
	c.evict(ctx, groupKey(groupID), userGroupsKey(memberEmail), userGroupsKey(userEmail))
	return nil
}

func (c *Cache) UpdateRole(ctx context.Context, groupID, memberEmail, newRole, userEmail string) error {
	if err := c.Remote.UpdateRole(ctx, groupID, memberEmail, newRole, userEmail); err != nil {
		return err
	}
	c.evict(ctx, groupKey(groupID), userGroupsKey(memberEmail), userGroupsKey(userEmail))
	return nil
}

func (c *Cache) LeaveGroup(ctx context.Context, groupID, userEmail string) error {
	if err := c.Remote.LeaveGroup(ctx, groupID, userEmail); err != nil {
		return err
	}
	c.evict(ctx, groupKey(groupID), userGroupsKey(userEmail))
	return nil
}

func (c *Cache) CreateGroupTask(ctx context.Context, groupID string, draft domain.TaskDraft, createdBy, userEmail string) (*domain.Task, error) {
	created, err := c.Remote.CreateGroupTask(ctx, groupID, draft, createdBy, userEmail)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, groupTasksKey(groupID))
	return created, nil
}

func (c *Cache) UpdateGroupTask(ctx context.Context, groupID, taskID string, patch domain.TaskPatch, userEmail string) error {
	if err := c.Remote.UpdateGroupTask(ctx, groupID, taskID, patch, userEmail); err != nil {
		return err
	}
	c.evict(ctx, groupTasksKey(groupID))
	return nil
}

func (c *Cache) DeleteGroupTask(ctx context.Context, groupID, taskID, userEmail string) error {
	if err := c.Remote.DeleteGroupTask(ctx, groupID, taskID, userEmail); err != nil {
		return err
	}
	c.evict(ctx, groupTasksKey(groupID))
	return nil
}

func (c *Cache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backend without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.ConfigStd.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, val any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.ConfigStd.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func groupKey(groupID string) string {
	return "group:" + groupID
}

func groupTasksKey(groupID string) string {
	return "grouptasks:" + groupID
}

func userGroupsKey(email string) string {
	return "usergroups:" + email
}
