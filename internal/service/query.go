package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/adjacency"
	"github.com/d60-Lab/timeline-engine/internal/cache"
	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/pkg/database"
)

var queryTracer = otel.Tracer("timeline/query")

// FeedItem 两种策略共用的读出形态
type FeedItem struct {
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type QueryOptions struct {
	Strategy   Strategy
	FeedSource repository.FeedSource
}

// QueryService 只读路径：时间线、读时合并的 feed、集合运算
type QueryService struct {
	db       *gorm.DB
	users    repository.UserRepository
	posts    repository.PostRepository
	timeline repository.TimelineRepository
	cache    *adjacency.Cache
	index    *cache.FollowerIndex
	opts     QueryOptions
}

// NewQueryService index 可以为 nil，此时分页列表直接读缓存表
func NewQueryService(db *gorm.DB, users repository.UserRepository, posts repository.PostRepository, timeline repository.TimelineRepository, adj *adjacency.Cache, index *cache.FollowerIndex, opts QueryOptions) *QueryService {
	if opts.Strategy == "" {
		opts.Strategy = FanoutOnWrite
	}
	if opts.FeedSource == "" {
		opts.FeedSource = repository.FeedFromEdges
	}
	return &QueryService{db: db, users: users, posts: posts, timeline: timeline, cache: adj, index: index, opts: opts}
}

// OwnTimeline 写时扩散的收件箱，created_at 倒序；limit <= 0 表示全部
func (q *QueryService) OwnTimeline(ctx context.Context, userID string, limit int) ([]*model.TimelineEntry, error) {
	ctx, span := queryTracer.Start(ctx, "QueryService.OwnTimeline")
	defer span.End()
	if err := resolveUsers(ctx, q.users, userID); err != nil {
		return nil, err
	}
	rows, err := q.timeline.ListByRecipient(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("read timeline of %s: %w", userID, err)
	}
	return rows, nil
}

// ReadTimeFeed 读时扩散：自己的 post ∪ following(user) 的 post，按 created_at 倒序，去重
func (q *QueryService) ReadTimeFeed(ctx context.Context, userID string, limit int) ([]*model.Post, error) {
	ctx, span := queryTracer.Start(ctx, "QueryService.ReadTimeFeed")
	span.SetAttributes(attribute.String("source", string(q.opts.FeedSource)))
	defer span.End()
	if err := resolveUsers(ctx, q.users, userID); err != nil {
		return nil, err
	}
	posts, err := q.posts.Feed(ctx, userID, q.opts.FeedSource, limit)
	if err != nil {
		return nil, fmt.Errorf("read feed of %s: %w", userID, err)
	}
	seen := make(map[string]struct{}, len(posts))
	out := posts[:0]
	for _, p := range posts {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// Feed 按部署选定的策略读取
func (q *QueryService) Feed(ctx context.Context, userID string, limit int) ([]FeedItem, error) {
	if q.opts.Strategy == FanoutOnRead {
		posts, err := q.ReadTimeFeed(ctx, userID, limit)
		if err != nil {
			return nil, err
		}
		items := make([]FeedItem, len(posts))
		for i, p := range posts {
			items[i] = FeedItem{PostID: p.ID, AuthorID: p.AuthorID, Content: p.Content, CreatedAt: p.CreatedAt}
		}
		return items, nil
	}
	rows, err := q.OwnTimeline(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]FeedItem, len(rows))
	for i, r := range rows {
		items[i] = FeedItem{PostID: r.PostID, AuthorID: r.AuthorID, Content: r.Content, CreatedAt: r.CreatedAt}
	}
	return items, nil
}

// MutualFollowers followers(a) ∩ followers(b)
func (q *QueryService) MutualFollowers(ctx context.Context, a, b string) (adjacency.Set, error) {
	var out adjacency.Set
	err := q.snapshot(ctx, []string{a, b}, func(c *adjacency.Cache) error {
		fa, err := c.Followers(ctx, a)
		if err != nil {
			return err
		}
		fb, err := c.Followers(ctx, b)
		if err != nil {
			return err
		}
		out = fa.Intersect(fb)
		return nil
	})
	return out, err
}

// CommonFollowing following(a) ∩ following(b)：a 和 b 都关注的人
func (q *QueryService) CommonFollowing(ctx context.Context, a, b string) (adjacency.Set, error) {
	var out adjacency.Set
	err := q.snapshot(ctx, []string{a, b}, func(c *adjacency.Cache) error {
		fa, err := c.Following(ctx, a)
		if err != nil {
			return err
		}
		fb, err := c.Following(ctx, b)
		if err != nil {
			return err
		}
		out = fa.Intersect(fb)
		return nil
	})
	return out, err
}

// NotFollowedBack following(u) − followers(u)
func (q *QueryService) NotFollowedBack(ctx context.Context, userID string) (adjacency.Set, error) {
	var out adjacency.Set
	err := q.snapshot(ctx, []string{userID}, func(c *adjacency.Cache) error {
		following, err := c.Following(ctx, userID)
		if err != nil {
			return err
		}
		followers, err := c.Followers(ctx, userID)
		if err != nil {
			return err
		}
		out = following.Difference(followers)
		return nil
	})
	return out, err
}

// FollowersPage 分页粉丝列表；配置了 Redis 索引时走索引
func (q *QueryService) FollowersPage(ctx context.Context, userID string, page, size int) ([]string, error) {
	return q.page(ctx, cache.Followers, userID, page, size)
}

// FollowerCount 粉丝总数，直接数缓存表
func (q *QueryService) FollowerCount(ctx context.Context, userID string) (int64, error) {
	if err := resolveUsers(ctx, q.users, userID); err != nil {
		return 0, err
	}
	return q.cache.CountFollowers(ctx, userID)
}

// FollowingPage 分页关注列表
func (q *QueryService) FollowingPage(ctx context.Context, userID string, page, size int) ([]string, error) {
	return q.page(ctx, cache.Following, userID, page, size)
}

func (q *QueryService) page(ctx context.Context, dir cache.Direction, userID string, page, size int) ([]string, error) {
	if err := resolveUsers(ctx, q.users, userID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if q.index != nil {
		return q.index.Page(ctx, dir, userID, page, size)
	}
	offset := (page - 1) * size
	if dir == cache.Following {
		return q.cache.FollowingIDs(ctx, userID, offset, size)
	}
	return q.cache.FollowerIDs(ctx, userID, offset, size)
}

// snapshot 在只读事务内执行多次集合读取，保证它们来自同一个图状态
func (q *QueryService) snapshot(ctx context.Context, users []string, fn func(*adjacency.Cache) error) error {
	if err := resolveUsers(ctx, q.users, users...); err != nil {
		return err
	}
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(q.cache.WithTx(tx))
	}, database.SnapshotTxOptions(q.db))
}
