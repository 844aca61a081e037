package service

import (
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/adjacency"
	"github.com/d60-Lab/timeline-engine/internal/cache"
	"github.com/d60-Lab/timeline-engine/internal/repository"
)

type EngineOptions struct {
	AllowSelfFollow bool
	Strategy        Strategy
	FeedSource      repository.FeedSource
	BatchSize       int
	AuditWorkers    int
	Clock           Clock
	// Index/Repairer 可选，Redis 未启用时为 nil
	Index    *cache.FollowerIndex
	Repairer *IndexRepairer
}

// Engine 组装关系链、发布、查询与对账，共享同一个 AdjacencyCache 与一致性钩子
type Engine struct {
	Users     repository.UserRepository
	Relations RelationshipService
	Publisher *Publisher
	Query     *QueryService
	Auditor   *Auditor
}

func NewEngine(db *gorm.DB, opts EngineOptions) *Engine {
	users := repository.NewUserRepository(db)
	edges := repository.NewEdgeRepository(db)
	posts := repository.NewPostRepository(db)
	timeline := repository.NewTimelineRepository(db)
	adj := adjacency.NewCache(db)
	hook := adjacency.NewHook()
	return NewEngineWith(db, users, edges, posts, timeline, adj, hook, opts)
}

// NewEngineWith 允许替换单个仓储（例如在测试中注入会失败的时间线写入）
func NewEngineWith(db *gorm.DB, users repository.UserRepository, edges repository.EdgeRepository, posts repository.PostRepository, timeline repository.TimelineRepository, adj *adjacency.Cache, hook *adjacency.Hook, opts EngineOptions) *Engine {
	relOpts := RelationshipOptions{AllowSelfFollow: opts.AllowSelfFollow, Repairer: opts.Repairer}
	if opts.Index != nil {
		relOpts.Index = opts.Index
	}
	auditor := NewAuditor(db, users, edges, adj, hook, opts.AuditWorkers)
	auditor.index = relOpts.Index
	auditor.repairer = opts.Repairer
	return &Engine{
		Users:     users,
		Relations: NewRelationshipService(db, users, edges, hook, opts.Clock, relOpts),
		Publisher: NewPublisher(db, users, posts, timeline, adj, opts.Clock, PublisherOptions{
			Strategy:  opts.Strategy,
			BatchSize: opts.BatchSize,
		}),
		Query: NewQueryService(db, users, posts, timeline, adj, opts.Index, QueryOptions{
			Strategy:   opts.Strategy,
			FeedSource: opts.FeedSource,
		}),
		Auditor: auditor,
	}
}
