package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardgate/access"
	"boardgate/board"
	"boardgate/client"
	"boardgate/domain"
	"boardgate/membership"
	"boardgate/session"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// backendClient is everything the per-request board and membership
// components need from the backend. *client.Remote and *client.Cache
// both satisfy it.
type backendClient interface {
	board.TaskClient
	membership.GroupClient
}

// Dependencies carries the shared collaborators handlers close over.
type Dependencies struct {
	Backend  *client.Remote
	Sessions *session.Registry
	Auth     *Verifier
	Redis    *redis.Client
	CacheTTL time.Duration
	Origin   string
	Logger   *log.Logger
}

// Register wires up all gateway routes on the provided Echo instance.
func Register(e *echo.Echo, deps *Dependencies) {
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}

	e.GET("/healthz", healthz())

	e.POST("/api/session", openSession(deps))
	e.DELETE("/api/session", closeSession(deps))

	e.GET("/api/tasks", getBoard(deps, ""))
	e.POST("/api/tasks", createTask(deps, false))
	e.PATCH("/api/tasks/:taskID/category", moveTask(deps, false))
	e.PATCH("/api/tasks/:taskID", editTask(deps, false))
	e.DELETE("/api/tasks/:taskID", deleteTask(deps, false))

	e.GET("/api/groups/:groupID/tasks", getBoard(deps, ":groupID"))
	e.POST("/api/groups/:groupID/tasks", createTask(deps, true))
	e.PATCH("/api/groups/:groupID/tasks/:taskID/category", moveTask(deps, true))
	e.PATCH("/api/groups/:groupID/tasks/:taskID", editTask(deps, true))
	e.DELETE("/api/groups/:groupID/tasks/:taskID", deleteTask(deps, true))

	e.GET("/api/groups", listGroups(deps))
	e.POST("/api/groups", createGroup(deps))
	e.DELETE("/api/groups/:groupID", deleteGroup(deps))
	e.GET("/api/groups/:groupID/invite", inviteLink(deps))
	e.POST("/api/groups/:groupID/join", joinGroup(deps))
	e.PATCH("/api/groups/:groupID/kick", kickMember(deps))
	e.PATCH("/api/groups/:groupID/role", updateRole(deps))
	e.PATCH("/api/groups/:groupID/leave", leaveGroup(deps))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// openSession establishes (or reuses) the caller's backend session and
// reports who they are and how long the token lives.
func openSession(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		sess, err := deps.Sessions.Establish(c.Request().Context(), user)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"email":     sess.User.Email,
			"expiresAt": sess.Expiry.UTC().Format(time.RFC3339),
		})
	}
}

func closeSession(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		email, err := deps.Auth.EmailFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		deps.Sessions.For(domain.User{Email: email}).SignOut(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}
}

// viewer authenticates the request and makes sure a backend session
// exists for the caller.
func (d *Dependencies) viewer(c echo.Context) (domain.User, error) {
	email, err := d.Auth.EmailFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return domain.User{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	user := domain.User{Email: email}
	if _, err := d.Sessions.Establish(c.Request().Context(), user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// backendFor builds the per-request backend client: the shared remote
// bound to the caller's token source, wrapped in the read cache when
// Redis is configured.
func (d *Dependencies) backendFor(user domain.User) backendClient {
	remote := d.Backend.WithTokenSource(d.Sessions.For(user))
	if d.Redis != nil && d.CacheTTL > 0 {
		return client.NewCache(remote, d.Redis, d.CacheTTL)
	}
	return remote
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	if err := dec.Decode(out); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return nil
}

// reconcilerFor builds the board reconciler for the requested scope,
// fetching the group record first when the route is group-scoped.
func reconcilerFor(c echo.Context, deps *Dependencies, user domain.User, grouped bool) (*board.Reconciler, *domain.Group, error) {
	ctx := c.Request().Context()
	backend := deps.backendFor(user)
	if !grouped {
		return board.NewPersonal(ctx, backend, user, deps.Logger), nil, nil
	}
	group, err := backend.GetGroup(ctx, c.Param("groupID"))
	if err != nil {
		return nil, nil, err
	}
	return board.NewGroup(ctx, backend, user, group, deps.Logger), group, nil
}

type boardResponse struct {
	Group      *domain.Group            `json:"group,omitempty"`
	IsAdmin    bool                     `json:"isAdmin"`
	Tasks      []domain.Task            `json:"tasks"`
	Categories map[string][]domain.Task `json:"categories"`
}

func getBoard(deps *Dependencies, groupParam string) echo.HandlerFunc {
	grouped := groupParam != ""
	route := "/api/tasks"
	if grouped {
		route = "/api/groups/:groupID/tasks"
	}
	return func(c echo.Context) error {
		metrics, spanCtx := newBoardRequestMetrics(c.Request().Context(), deps.Logger, route)
		c.SetRequest(c.Request().WithContext(spanCtx))
		if grouped {
			metrics.SetScope("group")
		} else {
			metrics.SetScope("personal")
		}

		authStart := time.Now()
		user, err := deps.viewer(c)
		metrics.ObserveAuth(time.Since(authStart))
		if err != nil {
			metrics.SetErrorStage("auth")
			httpErr := respondError(c, err)
			metrics.Log(statusOf(httpErr), err)
			return httpErr
		}

		fetchStart := time.Now()
		r, group, err := reconcilerFor(c, deps, user, grouped)
		if err == nil {
			err = r.Load()
		}
		metrics.ObserveFetch(time.Since(fetchStart))
		if err != nil {
			metrics.SetErrorStage("load")
			httpErr := respondError(c, err)
			metrics.Log(statusOf(httpErr), err)
			return httpErr
		}

		tasks := r.Tasks()
		metrics.SetTasksReturned(len(tasks))
		resp := boardResponse{
			Group:      group,
			Tasks:      tasks,
			Categories: r.ByCategory(),
		}
		if group != nil {
			resp.IsAdmin = access.IsAdmin(user.Email, group)
		}
		metrics.Log(http.StatusOK, nil)
		return c.JSON(http.StatusOK, resp)
	}
}

func createTask(deps *Dependencies, grouped bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		var draft domain.TaskDraft
		if err := decodeBody(c, &draft); err != nil {
			return err
		}
		r, _, err := reconcilerFor(c, deps, user, grouped)
		if err != nil {
			return respondError(c, err)
		}
		res, err := r.Create(draft)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, res.Task)
	}
}

func moveTask(deps *Dependencies, grouped bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		var body struct {
			Category string `json:"category"`
		}
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		r, _, err := reconcilerFor(c, deps, user, grouped)
		if err != nil {
			return respondError(c, err)
		}
		if err := r.Load(); err != nil {
			return respondError(c, err)
		}
		res, err := r.MoveCategory(c.Param("taskID"), body.Category)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, res.Task)
	}
}

func editTask(deps *Dependencies, grouped bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return err
		}
		r, _, err := reconcilerFor(c, deps, user, grouped)
		if err != nil {
			return respondError(c, err)
		}
		if err := r.Load(); err != nil {
			return respondError(c, err)
		}
		res, err := r.Edit(c.Param("taskID"), patch)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, res.Task)
	}
}

func deleteTask(deps *Dependencies, grouped bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		// Deletion is confirmed by the human before it reaches the
		// gateway; the query flag asserts that happened.
		if c.QueryParam("confirmed") != "true" {
			return echo.NewHTTPError(http.StatusBadRequest, "delete requires confirmation")
		}
		r, _, err := reconcilerFor(c, deps, user, grouped)
		if err != nil {
			return respondError(c, err)
		}
		if err := r.Load(); err != nil {
			return respondError(c, err)
		}
		if _, err := r.Delete(c.Param("taskID")); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func managerFor(c echo.Context, deps *Dependencies, user domain.User) *membership.Manager {
	return membership.New(c.Request().Context(), deps.backendFor(user), user, deps.Origin, deps.Logger)
}

func listGroups(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		m := managerFor(c, deps, user)
		if err := m.Load(); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, m.Groups())
	}
}

func createGroup(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		m := managerFor(c, deps, user)
		created, err := m.CreateGroup(body.Name)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, created)
	}
}

func deleteGroup(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		if c.QueryParam("confirmed") != "true" {
			return echo.NewHTTPError(http.StatusBadRequest, "delete requires confirmation")
		}
		m := managerFor(c, deps, user)
		if err := m.Load(); err != nil {
			return respondError(c, err)
		}
		if err := m.DeleteGroup(c.Param("groupID")); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func inviteLink(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		m := managerFor(c, deps, user)
		return c.JSON(http.StatusOK, map[string]string{
			"inviteUrl": m.InviteURL(c.Param("groupID")),
		})
	}
}

type joinResponse struct {
	Status    string `json:"status"`
	GroupName string `json:"groupName,omitempty"`
}

func joinGroup(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		var body struct {
			Confirmed bool `json:"confirmed"`
		}
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		m := managerFor(c, deps, user)
		inv, err := m.AcceptInvite(c.Param("groupID"))
		if err != nil {
			return respondError(c, err)
		}
		switch inv.Stage() {
		case membership.InviteNotFound:
			return echo.NewHTTPError(http.StatusNotFound, "group not found")
		case membership.InviteAlreadyMember:
			return c.JSON(http.StatusOK, joinResponse{Status: "already-member", GroupName: inv.GroupName()})
		}
		if !body.Confirmed {
			return c.JSON(http.StatusOK, joinResponse{Status: "awaiting-confirmation", GroupName: inv.GroupName()})
		}
		if err := inv.Confirm(); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, joinResponse{Status: "joined", GroupName: inv.GroupName()})
	}
}

func kickMember(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		var body struct {
			MemberEmail string `json:"memberEmail"`
		}
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		m := managerFor(c, deps, user)
		if err := m.Load(); err != nil {
			return respondError(c, err)
		}
		if err := m.Kick(c.Param("groupID"), body.MemberEmail); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func updateRole(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		var body struct {
			MemberEmail string `json:"memberEmail"`
			NewRole     string `json:"newRole"`
		}
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		m := managerFor(c, deps, user)
		if err := m.Load(); err != nil {
			return respondError(c, err)
		}
		groupID := c.Param("groupID")
		switch body.NewRole {
		case membership.RoleAdmin:
			err = m.Promote(groupID, body.MemberEmail)
		case membership.RoleMember:
			err = m.Demote(groupID, body.MemberEmail)
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "unknown role")
		}
		if err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func leaveGroup(deps *Dependencies) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := deps.viewer(c)
		if err != nil {
			return respondError(c, err)
		}
		m := managerFor(c, deps, user)
		if err := m.Leave(c.Param("groupID")); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func statusOf(err error) int {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

// respondError maps domain failures onto HTTP statuses. Backend failures
// keep their server-provided message; nothing here is retried.
func respondError(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	switch {
	case errors.Is(err, access.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, "not authorized")
	case errors.Is(err, access.ErrLastAdmin):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, board.ErrNotFound), errors.Is(err, membership.ErrGroupNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTitleRequired),
		errors.Is(err, domain.ErrDescriptionRequired),
		errors.Is(err, domain.ErrUnknownCategory),
		errors.Is(err, domain.ErrGroupNameRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case client.IsUnauthorized(err):
		return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	case client.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	var remote *client.RemoteError
	if errors.As(err, &remote) {
		return echo.NewHTTPError(http.StatusBadGateway, remote.Message)
	}
	c.Logger().Error(err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
