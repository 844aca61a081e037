package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-engine/config"
	"github.com/d60-Lab/timeline-engine/internal/model"
)

func testConfig(dsn string) *config.Config {
	return &config.Config{
		Log: config.LogConfig{Level: "error", Format: "json"},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			DSN:         dsn,
			LogLevel:    "silent",
			AutoMigrate: true,
		},
		Timeline: config.TimelineConfig{Strategy: "write", FeedSource: "edges", BatchSize: 100, PageSize: 20},
	}
}

func TestNew_DatabaseOpenFailureReturnsError(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing", "dir", "timeline.db"))

	var (
		a   *App
		err error
	)
	require.NotPanics(t, func() {
		a, err = New(context.Background(), cfg)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init database")
	assert.Nil(t, a)
}

func TestNew_WiresEngineAndIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "timeline.db"))
	cfg.Redis = config.RedisConfig{Enabled: true, Addr: mr.Addr(), IndexTTL: time.Minute}

	ctx := context.Background()
	a, err := New(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, a.DB.Create(&model.User{ID: "a", Username: "a"}).Error)
	require.NoError(t, a.DB.Create(&model.User{ID: "b", Username: "b"}).Error)
	require.NoError(t, a.Engine.Relations.Follow(ctx, "b", "a"))

	page, err := a.Engine.Query.FollowersPage(ctx, "b", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, page)
	assert.True(t, mr.Exists("relidx:b:followers"))

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, a.Close(closeCtx))
	// 重复关闭是空操作
	require.NoError(t, a.Close(closeCtx))
}

func TestClose_NilApp(t *testing.T) {
	var a *App
	assert.NoError(t, a.Close(context.Background()))
}
