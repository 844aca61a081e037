// Package benchkit 基准程序共用的参数读取、延迟统计与造数
package benchkit

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/service"
)

func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// EnvInt 读取正整数环境变量，缺省或非法时返回 def
func EnvInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func EnvString(name, def string) string {
	if s := os.Getenv(name); s != "" {
		return s
	}
	return def
}

// Pct 返回 p 分位（最近秩）
func Pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func Avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

// Summary 形如 "avg=.. p50=.. p95=.. p99=.."
func Summary(vs []time.Duration) string {
	return fmt.Sprintf("n=%d avg=%v p50=%v p95=%v p99=%v", len(vs), Avg(vs), Pct(vs, 0.50), Pct(vs, 0.95), Pct(vs, 0.99))
}

// Reset 清空引擎使用的全部表
func Reset(db *gorm.DB) error {
	for _, m := range []interface{}{&model.TimelineEntry{}, &model.Post{}, &model.Fan{}, &model.Following{}, &model.Edge{}, &model.User{}} {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
			return err
		}
	}
	return nil
}

// SeedUsers 以 prefix 创建 n 个用户并返回 id
func SeedUsers(db *gorm.DB, prefix string, n int) ([]string, error) {
	ids := make([]string, n)
	users := make([]model.User, n)
	for i := range users {
		ids[i] = fmt.Sprintf("%s%d", prefix, i)
		users[i] = model.User{ID: ids[i], Username: ids[i]}
	}
	if n == 0 {
		return ids, nil
	}
	return ids, db.CreateInBatches(&users, 1000).Error
}

// SeedFollowers 批量写入 followers -> followed 的边，然后用重建把缓存补齐。
// 绕过逐条 Follow 以便快速构造大 fan-out。
func SeedFollowers(ctx context.Context, db *gorm.DB, auditor *service.Auditor, followed string, followers []string) error {
	base := time.Now().UTC().Add(-time.Duration(len(followers)) * time.Millisecond)
	edges := make([]model.Edge, len(followers))
	for i, f := range followers {
		edges[i] = model.Edge{
			ID:         uuid.NewString(),
			FollowedID: followed,
			FollowerID: f,
			CreatedAt:  base.Add(time.Duration(i) * time.Millisecond),
		}
	}
	if len(edges) > 0 {
		if err := db.WithContext(ctx).CreateInBatches(&edges, 1000).Error; err != nil {
			return err
		}
	}
	_, err := auditor.Rebuild(ctx)
	return err
}
