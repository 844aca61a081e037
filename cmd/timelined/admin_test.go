package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/pkg/database"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

func writeConfig(t *testing.T) (path, dsn string) {
	t.Helper()
	dir := t.TempDir()
	dsn = filepath.Join(dir, "timeline.db")
	path = filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("database:\n  driver: sqlite\n  dsn: %s\n  log_level: silent\nlog:\n  level: info\n  format: json\n", dsn)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dsn
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// captureStderr 把 zap 的 stderr 输出重定向到临时文件
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "stderr")
	require.NoError(t, err)
	orig := os.Stderr
	os.Stderr = f
	defer func() {
		os.Stderr = orig
		logger.Set(zap.NewNop())
		_ = f.Close()
	}()
	fn()
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return string(data)
}

func TestAuditRepair_LogsRebuildOnce(t *testing.T) {
	cfgPath, dsn := writeConfig(t)
	for _, args := range [][]string{{"user", "add", "a", "alice"}, {"user", "add", "b", "bob"}} {
		_, err := run(t, append([]string{"-c", cfgPath}, args...)...)
		require.NoError(t, err)
	}

	// 缓存里有一条边表没有的粉丝记录
	db, err := database.OpenSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Create(&model.Fan{UserID: "b", FanID: "a", CreatedAt: time.Now()}).Error)
	require.NoError(t, database.Close(db))

	_, err = run(t, "-c", cfgPath, "audit")
	require.Error(t, err)

	var out string
	logs := captureStderr(t, func() {
		out, err = run(t, "-c", cfgPath, "audit", "--repair")
	})
	require.NoError(t, err)
	var report struct {
		Drifts []json.RawMessage `json:"drifts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Drifts, 1)
	assert.Equal(t, 1, strings.Count(logs, "adjacency cache rebuilt"), logs)

	_, err = run(t, "-c", cfgPath, "audit")
	assert.NoError(t, err)
}
