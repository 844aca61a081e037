package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-engine/internal/api/handler"
	"github.com/d60-Lab/timeline-engine/internal/api/middleware"
	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/service"
	"github.com/d60-Lab/timeline-engine/pkg/database"
	"github.com/d60-Lab/timeline-engine/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tickClock 每次调用前进一毫秒，保证时间线顺序确定
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, opts Options, users ...string) *gin.Engine {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	for _, id := range users {
		require.NoError(t, db.Create(&model.User{ID: id, Username: id}).Error)
	}
	e := service.NewEngine(db, service.EngineOptions{
		Clock: &tickClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	h := handler.NewHandler(e.Relations, e.Publisher, e.Query, 20)
	return NewRouter(h, opts)
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}, token string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func listOf(t *testing.T, env envelope) []string {
	t.Helper()
	var data struct {
		List []string `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.List
}

func follow(t *testing.T, r http.Handler, follower, followed string) {
	t.Helper()
	status, env := do(t, r, http.MethodPost, "/api/v1/relations/follow",
		gin.H{"followed_id": followed, "follower_id": follower}, "")
	require.Equal(t, http.StatusOK, status, env.Message)
}

func TestRouter_FollowErrors(t *testing.T) {
	r := setupRouter(t, Options{}, "a", "b")
	follow(t, r, "a", "b")

	cases := []struct {
		name   string
		path   string
		body   gin.H
		status int
		code   int
	}{
		{"duplicate", "/api/v1/relations/follow", gin.H{"followed_id": "b", "follower_id": "a"}, http.StatusConflict, response.CodeConflict},
		{"unknown user", "/api/v1/relations/follow", gin.H{"followed_id": "x", "follower_id": "a"}, http.StatusNotFound, response.CodeNotFound},
		{"self follow", "/api/v1/relations/follow", gin.H{"followed_id": "a", "follower_id": "a"}, http.StatusUnprocessableEntity, response.CodeUnprocessable},
		{"missing field", "/api/v1/relations/follow", gin.H{"followed_id": "a"}, http.StatusBadRequest, response.CodeBadRequest},
		{"unfollow absent", "/api/v1/relations/unfollow", gin.H{"followed_id": "a", "follower_id": "b"}, http.StatusNotFound, response.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := do(t, r, http.MethodPost, tc.path, tc.body, "")
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestRouter_Walkthrough(t *testing.T) {
	r := setupRouter(t, Options{}, "A", "B", "C")
	follow(t, r, "A", "B")
	follow(t, r, "A", "C")
	follow(t, r, "C", "B")

	for _, author := range []string{"B", "C", "A"} {
		status, env := do(t, r, http.MethodPost, "/api/v1/posts",
			gin.H{"author_id": author, "content": "hello from " + author}, "")
		require.Equal(t, http.StatusOK, status, env.Message)
	}

	status, env := do(t, r, http.MethodGet, "/api/v1/feeds/A", nil, "")
	require.Equal(t, http.StatusOK, status)
	var feed struct {
		List []service.FeedItem `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &feed))
	authors := make([]string, len(feed.List))
	for i, it := range feed.List {
		authors[i] = it.AuthorID
	}
	assert.Equal(t, []string{"A", "C", "B"}, authors)

	_, env = do(t, r, http.MethodGet, "/api/v1/timelines/B", nil, "")
	require.NoError(t, json.Unmarshal(env.Data, &feed))
	assert.Len(t, feed.List, 1)

	_, env = do(t, r, http.MethodGet, "/api/v1/relations/common-following?a=A&b=C", nil, "")
	assert.Equal(t, []string{"B"}, listOf(t, env))

	_, env = do(t, r, http.MethodGet, "/api/v1/relations/mutual-followers?a=B&b=C", nil, "")
	assert.Equal(t, []string{"A"}, listOf(t, env))

	_, env = do(t, r, http.MethodGet, "/api/v1/relations/A/not-followed-back", nil, "")
	assert.Equal(t, []string{"B", "C"}, listOf(t, env))

	_, env = do(t, r, http.MethodGet, "/api/v1/relations/B/followers?page=1&page_size=1", nil, "")
	assert.Len(t, listOf(t, env), 1)
	var counted struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &counted))
	assert.EqualValues(t, 2, counted.Total)

	status, _ = do(t, r, http.MethodGet, "/api/v1/relations/mutual-followers?a=B", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRouter_PublishRequestToken(t *testing.T) {
	r := setupRouter(t, Options{}, "a", "b")
	follow(t, r, "b", "a")

	body := gin.H{"author_id": "a", "content": "once", "request_token": "tok-1"}
	var ids []string
	for i := 0; i < 2; i++ {
		status, env := do(t, r, http.MethodPost, "/api/v1/posts", body, "")
		require.Equal(t, http.StatusOK, status)
		var data struct {
			PostID string `json:"post_id"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		ids = append(ids, data.PostID)
	}
	assert.Equal(t, ids[0], ids[1])

	_, env := do(t, r, http.MethodGet, "/api/v1/timelines/b", nil, "")
	var feed struct {
		List []service.FeedItem `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &feed))
	assert.Len(t, feed.List, 1)

	status, env := do(t, r, http.MethodPost, "/api/v1/posts", gin.H{"author_id": "ghost", "content": "x"}, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.CodeNotFound, env.Code)
}

func TestRouter_AuthRequiresMatchingSubject(t *testing.T) {
	const secret = "test-secret"
	r := setupRouter(t, Options{JWTSecret: secret}, "a", "b")
	body := gin.H{"followed_id": "b", "follower_id": "a"}

	status, _ := do(t, r, http.MethodPost, "/api/v1/relations/follow", body, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	other, err := middleware.IssueToken(secret, "b")
	require.NoError(t, err)
	status, _ = do(t, r, http.MethodPost, "/api/v1/relations/follow", body, other)
	assert.Equal(t, http.StatusUnauthorized, status)

	forged, err := middleware.IssueToken("wrong-secret", "a")
	require.NoError(t, err)
	status, _ = do(t, r, http.MethodPost, "/api/v1/relations/follow", body, forged)
	assert.Equal(t, http.StatusUnauthorized, status)

	token, err := middleware.IssueToken(secret, "a")
	require.NoError(t, err)
	status, env := do(t, r, http.MethodPost, "/api/v1/relations/follow", body, token)
	assert.Equal(t, http.StatusOK, status, env.Message)

	// 读接口不需要 token
	status, _ = do(t, r, http.MethodGet, "/api/v1/relations/a/following", nil, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_PublishRateLimited(t *testing.T) {
	r := setupRouter(t, Options{PublishRPS: 0.001, PublishBurst: 1}, "a")
	body := gin.H{"author_id": "a", "content": "x"}

	status, _ := do(t, r, http.MethodPost, "/api/v1/posts", body, "")
	assert.Equal(t, http.StatusOK, status)
	status, env := do(t, r, http.MethodPost, "/api/v1/posts", body, "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, response.CodeTooManyReqs, env.Code)
}

func TestRouter_Healthz(t *testing.T) {
	r := setupRouter(t, Options{Health: func(context.Context) error { return errors.New("db down") }})
	status, env := do(t, r, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "db down", env.Message)

	r = setupRouter(t, Options{})
	status, _ = do(t, r, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, status)
}
