// Package client wraps the task/group backend's HTTP surface. One method
// per endpoint, no retries: a failed call surfaces to its caller
// immediately as a RemoteError.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardgate/domain"
)

const defaultTimeout = 10 * time.Second

// TokenSource supplies the current backend bearer token, or "" when the
// caller is not signed in. Calls without a token go out unauthenticated
// and the backend rejects them with 401.
type TokenSource interface {
	Token(ctx context.Context) string
}

// RemoteError is any non-2xx backend response. Message carries the
// server-provided message when the body had one.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("backend: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	re, ok := err.(*RemoteError)
	return ok && re.Status == http.StatusNotFound
}

// IsUnauthorized reports whether err is a backend 401, which callers
// treat as "not logged in" rather than a generic failure.
func IsUnauthorized(err error) bool {
	re, ok := err.(*RemoteError)
	return ok && re.Status == http.StatusUnauthorized
}

// Remote issues the backend's CRUD operations for tasks and groups.
type Remote struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *log.Logger
}

// New creates a Remote against baseURL. tokens may be nil for a client
// that only calls public endpoints.
func New(baseURL string, tokens TokenSource, logger *log.Logger) *Remote {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Remote{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// WithTokenSource returns a copy of the client bound to a different
// token source. The transport is shared; the copy is cheap enough to
// build per request.
func (c *Remote) WithTokenSource(tokens TokenSource) *Remote {
	copied := *c
	copied.tokens = tokens
	return &copied
}

func (c *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := sonic.ConfigStd.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(log.Fields{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"elapsed_ms": float64(time.Since(start)) / float64(time.Millisecond),
		"request_id": requestID,
	}).Debug("backend.call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(resp)
	}

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response %s %s: %w", method, path, err)
		}
		if err := sonic.ConfigStd.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response %s %s: %w", method, path, err)
		}
	}
	return nil
}

func remoteError(resp *http.Response) error {
	re := &RemoteError{Status: resp.StatusCode, Message: "request failed"}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return re
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := sonic.ConfigStd.Unmarshal(data, &body); err == nil && body.Message != "" {
		re.Message = body.Message
	}
	return re
}

// IssueToken exchanges an authenticated email for a backend bearer token.
func (c *Remote) IssueToken(ctx context.Context, email string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	req := map[string]string{"email": email}
	if err := c.do(ctx, http.MethodPost, "/jwt", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// RegisterUser creates the user record server-side. A 409 means the user
// already exists and is treated as success.
func (c *Remote) RegisterUser(ctx context.Context, user domain.User) error {
	err := c.do(ctx, http.MethodPost, "/users", user, nil)
	if re, ok := err.(*RemoteError); ok && re.Status == http.StatusConflict {
		c.logger.WithField("email", user.Email).Debug("user already registered")
		return nil
	}
	return err
}

// MembershipCheck is the backend's answer to a check-member probe. Group
// is nil when the group does not exist.
type MembershipCheck struct {
	IsMember bool          `json:"isMember"`
	IsAdmin  bool          `json:"isAdmin"`
	Group    *domain.Group `json:"group"`
}

func (c *Remote) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	var g domain.Group
	if err := c.do(ctx, http.MethodGet, "/groups/"+groupID, nil, &g); err != nil {
		return nil, err
	}
	g.Normalize()
	return &g, nil
}

func (c *Remote) GetGroupTasks(ctx context.Context, groupID string) ([]domain.Task, error) {
	tasks := []domain.Task{}
	if err := c.do(ctx, http.MethodGet, "/groups/"+groupID+"/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Remote) ListGroupsForUser(ctx context.Context, email string) ([]domain.Group, error) {
	groups := []domain.Group{}
	if err := c.do(ctx, http.MethodGet, "/groups/user/"+url.PathEscape(email), nil, &groups); err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i].Normalize()
	}
	return groups, nil
}

func (c *Remote) CreateGroup(ctx context.Context, g domain.Group) (*domain.Group, error) {
	var created domain.Group
	if err := c.do(ctx, http.MethodPost, "/groups", g, &created); err != nil {
		return nil, err
	}
	created.Normalize()
	return &created, nil
}

func (c *Remote) DeleteGroup(ctx context.Context, groupID, userEmail string) error {
	body := map[string]string{"userEmail": userEmail}
	return c.do(ctx, http.MethodDelete, "/groups/"+groupID, body, nil)
}

func (c *Remote) CheckMember(ctx context.Context, groupID, email string) (*MembershipCheck, error) {
	var check MembershipCheck
	if err := c.do(ctx, http.MethodGet, "/groups/"+groupID+"/check-member/"+url.PathEscape(email), nil, &check); err != nil {
		return nil, err
	}
	if check.Group != nil {
		check.Group.Normalize()
	}
	return &check, nil
}

// JoinGroup adds userEmail to the group roster and reports the resulting
// membership state.
func (c *Remote) JoinGroup(ctx context.Context, groupID, userEmail string) (bool, error) {
	var resp struct {
		IsMember bool `json:"isMember"`
	}
	body := map[string]string{"userEmail": userEmail}
	if err := c.do(ctx, http.MethodPost, "/groups/"+groupID+"/join", body, &resp); err != nil {
		return false, err
	}
	return resp.IsMember, nil
}

func (c *Remote) KickMember(ctx context.Context, groupID, memberEmail, userEmail string) error {
	body := map[string]string{"memberEmail": memberEmail, "userEmail": userEmail}
	return c.do(ctx, http.MethodPatch, "/groups/"+groupID+"/kick", body, nil)
}

func (c *Remote) UpdateRole(ctx context.Context, groupID, memberEmail, newRole, userEmail string) error {
	body := map[string]string{"memberEmail": memberEmail, "newRole": newRole, "userEmail": userEmail}
	return c.do(ctx, http.MethodPatch, "/groups/"+groupID+"/role", body, nil)
}

func (c *Remote) LeaveGroup(ctx context.Context, groupID, userEmail string) error {
	body := map[string]string{"userEmail": userEmail}
	return c.do(ctx, http.MethodPatch, "/groups/"+groupID+"/leave", body, nil)
}

type createTaskRequest struct {
	domain.TaskDraft
	CreatedBy string `json:"createdBy"`
	UserEmail string `json:"userEmail"`
}

type updateTaskRequest struct {
	domain.TaskPatch
	UserEmail string `json:"userEmail"`
}

func (c *Remote) CreateGroupTask(ctx context.Context, groupID string, draft domain.TaskDraft, createdBy, userEmail string) (*domain.Task, error) {
	req := createTaskRequest{TaskDraft: draft, CreatedBy: createdBy, UserEmail: userEmail}
	var created domain.Task
	if err := c.do(ctx, http.MethodPost, "/groups/"+groupID+"/tasks", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Remote) UpdateGroupTask(ctx context.Context, groupID, taskID string, patch domain.TaskPatch, userEmail string) error {
	req := updateTaskRequest{TaskPatch: patch, UserEmail: userEmail}
	return c.do(ctx, http.MethodPatch, "/groups/"+groupID+"/tasks/"+taskID, req, nil)
}

func (c *Remote) DeleteGroupTask(ctx context.Context, groupID, taskID, userEmail string) error {
	body := map[string]string{"userEmail": userEmail}
	return c.do(ctx, http.MethodDelete, "/groups/"+groupID+"/tasks/"+taskID, body, nil)
}

// Personal-task variants: same shapes without a group scope.

func (c *Remote) GetTasks(ctx context.Context, userEmail string) ([]domain.Task, error) {
	tasks := []domain.Task{}
	if err := c.do(ctx, http.MethodGet, "/tasks?userEmail="+url.QueryEscape(userEmail), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Remote) CreateTask(ctx context.Context, draft domain.TaskDraft, createdBy, userEmail string) (*domain.Task, error) {
	req := createTaskRequest{TaskDraft: draft, CreatedBy: createdBy, UserEmail: userEmail}
	var created domain.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Remote) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch, userEmail string) error {
	req := updateTaskRequest{TaskPatch: patch, UserEmail: userEmail}
	return c.do(ctx, http.MethodPatch, "/tasks/"+taskID, req, nil)
}

func (c *Remote) DeleteTask(ctx context.Context, taskID, userEmail string) error {
	body := map[string]string{"userEmail": userEmail}
	return c.do(ctx, http.MethodDelete, "/tasks/"+taskID, body, nil)
}
