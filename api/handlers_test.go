package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardgate/client"
	"boardgate/session"
)

// fakeBackend is a minimal stand-in for the task/group service, serving
// just the endpoints the flows under test exercise.
func fakeBackend(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jwt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"backend-token"}`))
	})
	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer backend-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"missing token"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"_id":"t1","title":"a","description":"d","category":"To-Do"},{"_id":"t2","title":"b","description":"d","category":"Done"}]`))
	})
	mux.HandleFunc("GET /groups/g1/check-member/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"isMember":false,"isAdmin":false,"group":{"_id":"g1","name":"team","adminEmail":"admin@x.io","members":[]}}`))
	})
	mux.HandleFunc("GET /groups/gone/check-member/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"group not found"}`))
	})
	mux.HandleFunc("POST /groups/g1/join", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"isMember":true}`))
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func gatewayFixture(t *testing.T) (*echo.Echo, *int64) {
	t.Helper()
	backendSrv, hits := fakeBackend(t)

	logger := log.New()
	backend := client.New(backendSrv.URL, nil, logger)
	e := echo.New()
	Register(e, &Dependencies{
		Backend:  backend,
		Sessions: session.NewRegistry(backend, nil, logger),
		Auth:     NewLocalVerifier(testSecret),
		Origin:   "https://app.example",
		Logger:   logger,
	})
	return e, hits
}

func bearerFor(t *testing.T, email string) string {
	t.Helper()
	return "Bearer " + signedToken(t, jwt.MapClaims{
		"email": email,
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	})
}

func TestRequestWithoutTokenRejectedBeforeBackend(t *testing.T) {
	e, hits := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := atomic.LoadInt64(hits); got != 0 {
		t.Fatalf("unauthenticated request reached the backend %d times", got)
	}
}

func TestGetPersonalBoard(t *testing.T) {
	e, _ := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set(echo.HeaderAuthorization, bearerFor(t, "alice@x.io"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp boardResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Tasks) != 2 {
		t.Fatalf("unexpected tasks: %#v", resp.Tasks)
	}
	if len(resp.Categories) != 3 {
		t.Fatalf("expected all three columns, got %d", len(resp.Categories))
	}
	if len(resp.Categories["To-Do"]) != 1 || len(resp.Categories["Done"]) != 1 {
		t.Fatalf("unexpected partition: %#v", resp.Categories)
	}
}

func TestInviteLink(t *testing.T) {
	e, _ := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/groups/g1/invite", nil)
	req.Header.Set(echo.HeaderAuthorization, bearerFor(t, "alice@x.io"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["inviteUrl"] != "https://app.example/groups/g1/join" {
		t.Fatalf("unexpected invite url: %q", resp["inviteUrl"])
	}
}

func TestJoinGroupNeedsConfirmation(t *testing.T) {
	e, _ := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/join", strings.NewReader(`{"confirmed":false}`))
	req.Header.Set(echo.HeaderAuthorization, bearerFor(t, "alice@x.io"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp joinResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "awaiting-confirmation" || resp.GroupName != "team" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestJoinGroupConfirmed(t *testing.T) {
	e, _ := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/join", strings.NewReader(`{"confirmed":true}`))
	req.Header.Set(echo.HeaderAuthorization, bearerFor(t, "alice@x.io"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp joinResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "joined" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestJoinGroupGone(t *testing.T) {
	e, _ := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/groups/gone/join", strings.NewReader(`{"confirmed":true}`))
	req.Header.Set(echo.HeaderAuthorization, bearerFor(t, "alice@x.io"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteTaskRequiresConfirmation(t *testing.T) {
	e, hits := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/t1", nil)
	req.Header.Set(echo.HeaderAuthorization, bearerFor(t, "alice@x.io"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	// Session establishment may hit the backend; the delete itself must not.
	before := atomic.LoadInt64(hits)
	if before > 2 {
		t.Fatalf("unexpected backend traffic: %d calls", before)
	}
}

func TestOpenSession(t *testing.T) {
	e, _ := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	req.Header.Set(echo.HeaderAuthorization, bearerFor(t, "alice@x.io"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["email"] != "alice@x.io" {
		t.Fatalf("unexpected email: %q", resp["email"])
	}
	if resp["expiresAt"] == "" {
		t.Fatalf("expected an expiry timestamp")
	}
}

func TestCloseSession(t *testing.T) {
	e, _ := gatewayFixture(t)

	open := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	open.Header.Set(echo.HeaderAuthorization, bearerFor(t, "alice@x.io"))
	e.ServeHTTP(httptest.NewRecorder(), open)

	req := httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.Header.Set(echo.HeaderAuthorization, bearerFor(t, "alice@x.io"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	e, _ := gatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
