// Package cache serves paged follower/following lists from Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-engine/internal/adjacency"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

// Direction 选择列表方向
type Direction string

const (
	Followers Direction = "followers"
	Following Direction = "following"
)

var indexRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "timeline_follower_index_requests_total",
	Help: "Follower index page reads by result",
}, []string{"direction", "result"})

var (
	errStaleLoad        = errors.New("index version moved during load")
	errIndexUnavailable = errors.New("follower index unavailable")
)

// FollowerIndex 把 AdjacencyCache 的有序 id 列表放进 Redis List，用 LRANGE 分页。
// 每个用户一个版本号：边变更提交后 Invalidate 递增版本并删除列表；
// 回源加载在 WATCH 版本号的事务里写入，版本在加载期间变化则放弃写入。
type FollowerIndex struct {
	client redis.UniversalClient
	source *adjacency.Cache
	ttl    time.Duration
}

func NewFollowerIndex(client redis.UniversalClient, source *adjacency.Cache, ttl time.Duration) *FollowerIndex {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &FollowerIndex{client: client, source: source, ttl: ttl}
}

func listKey(dir Direction, userID string) string {
	return fmt.Sprintf("relidx:%s:%s", userID, dir)
}

func versionKey(userID string) string {
	return fmt.Sprintf("relidx:%s:ver", userID)
}

// Page 返回第 page 页（从 1 开始）的 id；Redis 不可用时直接回源
func (x *FollowerIndex) Page(ctx context.Context, dir Direction, userID string, page, size int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	end := start + size - 1
	key := listKey(dir, userID)

	exists, err := x.client.Exists(ctx, key).Result()
	if err == nil && exists > 0 {
		var ids []string
		ids, err = x.client.LRange(ctx, key, int64(start), int64(end)).Result()
		if err == nil {
			indexRequests.WithLabelValues(string(dir), "hit").Inc()
			return ids, nil
		}
	}
	if err != nil {
		indexRequests.WithLabelValues(string(dir), "error").Inc()
		logger.Warn("follower index unavailable, reading cache table",
			zap.String("user", userID), zap.String("direction", string(dir)), zap.Error(err))
		return x.loadPage(ctx, dir, userID, start, size)
	}

	indexRequests.WithLabelValues(string(dir), "miss").Inc()
	all, err := x.loadAndStore(ctx, dir, userID)
	if errors.Is(err, errIndexUnavailable) {
		indexRequests.WithLabelValues(string(dir), "error").Inc()
		logger.Warn("follower index unavailable, reading cache table",
			zap.String("user", userID), zap.String("direction", string(dir)), zap.Error(err))
		return x.loadPage(ctx, dir, userID, start, size)
	}
	if err != nil {
		return nil, err
	}
	if start >= len(all) {
		return []string{}, nil
	}
	stop := start + size
	if stop > len(all) {
		stop = len(all)
	}
	return all[start:stop], nil
}

// Invalidate 在边变更提交之后调用：递增版本并删除相关用户的两个列表
func (x *FollowerIndex) Invalidate(ctx context.Context, userIDs ...string) error {
	_, err := x.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Incr(ctx, versionKey(id))
			pipe.Expire(ctx, versionKey(id), 2*x.ttl)
			pipe.Del(ctx, listKey(Followers, id), listKey(Following, id))
		}
		return nil
	})
	return err
}

func (x *FollowerIndex) loadPage(ctx context.Context, dir Direction, userID string, offset, limit int) ([]string, error) {
	if dir == Following {
		return x.source.FollowingIDs(ctx, userID, offset, limit)
	}
	return x.source.FollowerIDs(ctx, userID, offset, limit)
}

func (x *FollowerIndex) loadAndStore(ctx context.Context, dir Direction, userID string) ([]string, error) {
	verKey := versionKey(userID)
	before, err := readVersion(ctx, x.client, verKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errIndexUnavailable, err)
	}

	ids, err := x.loadPage(ctx, dir, userID, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	key := listKey(dir, userID)
	err = x.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readVersion(ctx, tx, verKey)
		if err != nil {
			return err
		}
		if cur != before {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.RPush(ctx, key, interfaceSlice(ids)...)
			pipe.Expire(ctx, key, x.ttl)
			return nil
		})
		return err
	}, verKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleLoad), errors.Is(err, redis.TxFailedErr):
		indexRequests.WithLabelValues(string(dir), "stale").Inc()
	default:
		logger.Warn("store follower index", zap.String("user", userID), zap.Error(err))
	}
	return ids, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readVersion(ctx context.Context, c getter, key string) (int64, error) {
	v, err := c.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func interfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}
