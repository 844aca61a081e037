package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/pkg/database"
)

// stepClock 每次调用前进一秒，保证 created_at 严格递增
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "timeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func setupEngine(t *testing.T, opts EngineOptions) (*gorm.DB, *Engine) {
	t.Helper()
	db := setupDB(t)
	if opts.Clock == nil {
		opts.Clock = newStepClock()
	}
	return db, NewEngine(db, opts)
}

func seedUsers(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, db.Create(&model.User{ID: id, Username: id, DisplayName: "user " + id}).Error)
	}
}

// follows 以 "follower->followed" 形式批量关注
func follows(t *testing.T, e *Engine, pairs ...[2]string) {
	t.Helper()
	for _, p := range pairs {
		require.NoError(t, e.Relations.Follow(context.Background(), p[1], p[0]), "%s follows %s", p[0], p[1])
	}
}

func countRows(t *testing.T, db *gorm.DB, m interface{}, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(m)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
