package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/adjacency"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/pkg/database"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

// Drift 某个用户缓存集合与规范边表的差异
type Drift struct {
	UserID           string   `json:"user_id"`
	MissingFollowers []string `json:"missing_followers,omitempty"`
	ExtraFollowers   []string `json:"extra_followers,omitempty"`
	MissingFollowing []string `json:"missing_following,omitempty"`
	ExtraFollowing   []string `json:"extra_following,omitempty"`
}

type AuditReport struct {
	UsersChecked int     `json:"users_checked"`
	Edges        int64   `json:"edges"`
	Drifts       []Drift `json:"drifts"`
}

func (r *AuditReport) Consistent() bool { return len(r.Drifts) == 0 }

// Auditor 对账：逐用户比较 fans/followings 与 edges；Rebuild 从 edges 整体重建缓存
type Auditor struct {
	db       *gorm.DB
	users    repository.UserRepository
	edges    repository.EdgeRepository
	cache    *adjacency.Cache
	hook     *adjacency.Hook
	workers  int
	pageSize int

	// index/repairer 可选：重建提交后清空外层索引
	index    IndexInvalidator
	repairer *IndexRepairer
}

func NewAuditor(db *gorm.DB, users repository.UserRepository, edges repository.EdgeRepository, cache *adjacency.Cache, hook *adjacency.Hook, workers int) *Auditor {
	if workers <= 0 {
		workers = 4
	}
	return &Auditor{db: db, users: users, edges: edges, cache: cache, hook: hook, workers: workers, pageSize: 500}
}

// Audit 并发检查所有用户
func (a *Auditor) Audit(ctx context.Context) (*AuditReport, error) {
	edgeCount, err := a.edges.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count edges: %w", err)
	}
	report := &AuditReport{Edges: edgeCount}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	after := ""
	for {
		ids, err := a.users.ListIDs(ctx, after, a.pageSize)
		if err != nil {
			_ = g.Wait()
			return nil, fmt.Errorf("list users: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			id := id
			g.Go(func() error {
				d, err := a.CheckUser(gctx, id)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				report.UsersChecked++
				if d != nil {
					report.Drifts = append(report.Drifts, *d)
				}
				return nil
			})
		}
		after = ids[len(ids)-1]
		if len(ids) < a.pageSize {
			break
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Drifts, func(i, j int) bool { return report.Drifts[i].UserID < report.Drifts[j].UserID })
	if !report.Consistent() {
		logger.Warn("adjacency cache drift detected", zap.Int("users", len(report.Drifts)))
	}
	return report, nil
}

// CheckUser 在同一快照内读取规范与缓存集合；一致时返回 nil
func (a *Auditor) CheckUser(ctx context.Context, userID string) (*Drift, error) {
	var d Drift
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		edges := a.edges.WithTx(tx)
		cache := a.cache.WithTx(tx)

		canonFollowers, err := edges.FollowerIDs(ctx, userID)
		if err != nil {
			return err
		}
		canonFollowing, err := edges.FollowingIDs(ctx, userID)
		if err != nil {
			return err
		}
		cachedFollowers, err := cache.Followers(ctx, userID)
		if err != nil {
			return err
		}
		cachedFollowing, err := cache.Following(ctx, userID)
		if err != nil {
			return err
		}

		wantFollowers := adjacency.NewSet(canonFollowers...)
		wantFollowing := adjacency.NewSet(canonFollowing...)
		d = Drift{
			UserID:           userID,
			MissingFollowers: wantFollowers.Difference(cachedFollowers).Sorted(),
			ExtraFollowers:   cachedFollowers.Difference(wantFollowers).Sorted(),
			MissingFollowing: wantFollowing.Difference(cachedFollowing).Sorted(),
			ExtraFollowing:   cachedFollowing.Difference(wantFollowing).Sorted(),
		}
		return nil
	}, database.SnapshotTxOptions(a.db))
	if err != nil {
		return nil, fmt.Errorf("audit user %s: %w", userID, err)
	}
	if len(d.MissingFollowers)+len(d.ExtraFollowers)+len(d.MissingFollowing)+len(d.ExtraFollowing) == 0 {
		return nil, nil
	}
	return &d, nil
}

// Rebuild 在一个事务内丢弃并重建两张缓存表，提交后失效所有用户的外层索引
func (a *Auditor) Rebuild(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = a.hook.Rebuild(ctx, tx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("rebuild adjacency cache: %w", err)
	}
	invalidated, err := a.invalidateAll(ctx)
	if err != nil {
		return n, fmt.Errorf("adjacency cache rebuilt, index invalidation failed: %w", err)
	}
	logger.Info("adjacency cache rebuilt", zap.Int64("edges", n), zap.Int("index_users", invalidated))
	return n, nil
}

// invalidateAll 按页失效全部用户；失败的页交给重试队列，没有队列时返回错误
func (a *Auditor) invalidateAll(ctx context.Context) (int, error) {
	if a.index == nil {
		return 0, nil
	}
	total := 0
	after := ""
	for {
		ids, err := a.users.ListIDs(ctx, after, a.pageSize)
		if err != nil {
			return total, fmt.Errorf("list users: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}
		if err := a.index.Invalidate(ctx, ids...); err != nil {
			if a.repairer == nil {
				return total, err
			}
			logger.Warn("invalidate follower index after rebuild, queued for retry",
				zap.Int("users", len(ids)), zap.Error(err))
			a.repairer.Enqueue(ids...)
		}
		total += len(ids)
		after = ids[len(ids)-1]
		if len(ids) < a.pageSize {
			return total, nil
		}
	}
}
