package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/adjacency"
	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

var relTracer = otel.Tracer("timeline/relationship")

// RelationshipService 关系链服务（EdgeStore）。每次关注/取关与一致性钩子在同一事务内执行
type RelationshipService interface {
	Follow(ctx context.Context, followedID, followerID string) error
	Unfollow(ctx context.Context, followedID, followerID string) error
	// ListFollowers / ListFollowing 读规范边表（不走缓存），用于对账与重建
	ListFollowers(ctx context.Context, userID string) (adjacency.Set, error)
	ListFollowing(ctx context.Context, userID string) (adjacency.Set, error)
}

// RelationshipOptions 关系链策略
type RelationshipOptions struct {
	AllowSelfFollow bool
	// Index 可选：提交后需要失效的外层索引
	Index IndexInvalidator
	// Repairer 可选：失效失败时的重试队列
	Repairer *IndexRepairer
}

type relationshipService struct {
	db    *gorm.DB
	users repository.UserRepository
	edges repository.EdgeRepository
	hook  *adjacency.Hook
	clock Clock
	opts  RelationshipOptions
}

func NewRelationshipService(db *gorm.DB, users repository.UserRepository, edges repository.EdgeRepository, hook *adjacency.Hook, clock Clock, opts RelationshipOptions) RelationshipService {
	if clock == nil {
		clock = SystemClock()
	}
	return &relationshipService{db: db, users: users, edges: edges, hook: hook, clock: clock, opts: opts}
}

func (s *relationshipService) Follow(ctx context.Context, followedID, followerID string) (err error) {
	ctx, span := relTracer.Start(ctx, "RelationshipService.Follow")
	span.SetAttributes(attribute.String("followed", followedID), attribute.String("follower", followerID))
	defer func() {
		finishSpan(span, err)
		edgeMutationsTotal.WithLabelValues("follow", resultLabel(err)).Inc()
	}()

	if followedID == followerID && !s.opts.AllowSelfFollow {
		return ErrSelfFollowRejected
	}
	if err := s.resolveUsers(ctx, followedID, followerID); err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		edges := s.edges.WithTx(tx)
		exists, err := edges.Exists(ctx, followedID, followerID)
		if err != nil {
			return fmt.Errorf("check edge: %w", err)
		}
		if exists {
			return ErrDuplicateEdge
		}
		edge := &model.Edge{ID: uuid.New().String(), FollowedID: followedID, FollowerID: followerID, CreatedAt: now}
		if err := edges.Insert(ctx, edge); err != nil {
			// 并发的同一条边：唯一键兜底
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateEdge
			}
			return fmt.Errorf("insert edge: %w", err)
		}
		return s.hook.EdgeInserted(ctx, tx, followedID, followerID, now)
	})
	if err != nil {
		if !errors.Is(err, ErrDuplicateEdge) {
			logger.Warn("follow failed", zap.String("followed", followedID), zap.String("follower", followerID), zap.Error(err))
		}
		return err
	}

	logger.Debug("follow", zap.String("followed", followedID), zap.String("follower", followerID))
	s.afterCommit(ctx, followedID, followerID)
	return nil
}

func (s *relationshipService) Unfollow(ctx context.Context, followedID, followerID string) (err error) {
	ctx, span := relTracer.Start(ctx, "RelationshipService.Unfollow")
	span.SetAttributes(attribute.String("followed", followedID), attribute.String("follower", followerID))
	defer func() {
		finishSpan(span, err)
		edgeMutationsTotal.WithLabelValues("unfollow", resultLabel(err)).Inc()
	}()

	if err := s.resolveUsers(ctx, followedID, followerID); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.edges.WithTx(tx).Delete(ctx, followedID, followerID)
		if err != nil {
			return fmt.Errorf("delete edge: %w", err)
		}
		if n == 0 {
			return ErrEdgeNotFound
		}
		return s.hook.EdgeDeleted(ctx, tx, followedID, followerID)
	})
	if err != nil {
		if !errors.Is(err, ErrEdgeNotFound) {
			logger.Warn("unfollow failed", zap.String("followed", followedID), zap.String("follower", followerID), zap.Error(err))
		}
		return err
	}

	logger.Debug("unfollow", zap.String("followed", followedID), zap.String("follower", followerID))
	s.afterCommit(ctx, followedID, followerID)
	return nil
}

func (s *relationshipService) ListFollowers(ctx context.Context, userID string) (adjacency.Set, error) {
	if err := s.resolveUsers(ctx, userID); err != nil {
		return nil, err
	}
	ids, err := s.edges.FollowerIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	return adjacency.NewSet(ids...), nil
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string) (adjacency.Set, error) {
	if err := s.resolveUsers(ctx, userID); err != nil {
		return nil, err
	}
	ids, err := s.edges.FollowingIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list following: %w", err)
	}
	return adjacency.NewSet(ids...), nil
}

func (s *relationshipService) resolveUsers(ctx context.Context, ids ...string) error {
	return resolveUsers(ctx, s.users, ids...)
}

// afterCommit 失效外层索引；失败不影响已提交的变更，交给重试队列
func (s *relationshipService) afterCommit(ctx context.Context, followedID, followerID string) {
	if s.opts.Index == nil {
		return
	}
	if err := s.opts.Index.Invalidate(ctx, followedID, followerID); err != nil {
		logger.Warn("invalidate follower index", zap.String("followed", followedID), zap.String("follower", followerID), zap.Error(err))
		if s.opts.Repairer != nil {
			s.opts.Repairer.Enqueue(followedID, followerID)
		}
	}
}

func resolveUsers(ctx context.Context, users repository.UserRepository, ids ...string) error {
	for _, id := range ids {
		if _, err := users.Resolve(ctx, id); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return fmt.Errorf("%w: %q", ErrUnknownUser, id)
			}
			return fmt.Errorf("resolve user %q: %w", id, err)
		}
	}
	return nil
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
