package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/adjacency"
	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

var publishTracer = otel.Tracer("timeline/publish")

// Strategy 投递策略
type Strategy string

const (
	// FanoutOnWrite 发布时写入作者及每个粉丝的时间线
	FanoutOnWrite Strategy = "write"
	// FanoutOnRead 发布只落 post，读取时按关注关系合并
	FanoutOnRead Strategy = "read"
)

type PublisherOptions struct {
	Strategy  Strategy
	BatchSize int
}

// Publisher 在一个事务内落地 Post 并扇出到粉丝快照
type Publisher struct {
	db       *gorm.DB
	users    repository.UserRepository
	posts    repository.PostRepository
	timeline repository.TimelineRepository
	cache    *adjacency.Cache
	clock    Clock
	opts     PublisherOptions
}

func NewPublisher(db *gorm.DB, users repository.UserRepository, posts repository.PostRepository, timeline repository.TimelineRepository, cache *adjacency.Cache, clock Clock, opts PublisherOptions) *Publisher {
	if clock == nil {
		clock = SystemClock()
	}
	if opts.Strategy == "" {
		opts.Strategy = FanoutOnWrite
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return &Publisher{db: db, users: users, posts: posts, timeline: timeline, cache: cache, clock: clock, opts: opts}
}

func (p *Publisher) Strategy() Strategy { return p.opts.Strategy }

type publishRequest struct {
	token string
}

type PublishOption func(*publishRequest)

// WithRequestToken 客户端幂等令牌：同一作者同一令牌的重试返回第一次的 post id，不再投递
func WithRequestToken(token string) PublishOption {
	return func(r *publishRequest) { r.token = token }
}

// Publish 写入作者自己的时间线项，并按发布瞬间的粉丝快照扇出。
// 要么所有接收者都收到，要么全部回滚；快照之后才关注的人收不到这篇 post。
func (p *Publisher) Publish(ctx context.Context, authorID, content string, opts ...PublishOption) (postID string, err error) {
	var req publishRequest
	for _, o := range opts {
		o(&req)
	}

	ctx, span := publishTracer.Start(ctx, "Publisher.Publish")
	span.SetAttributes(attribute.String("author", authorID), attribute.String("strategy", string(p.opts.Strategy)))
	start := time.Now()
	defer func() {
		finishSpan(span, err)
		publishTotal.WithLabelValues(resultLabel(err)).Inc()
		publishDuration.WithLabelValues(string(p.opts.Strategy)).Observe(time.Since(start).Seconds())
	}()

	if err := resolveUsers(ctx, p.users, authorID); err != nil {
		return "", err
	}
	if req.token != "" {
		existing, err := p.posts.FindByToken(ctx, authorID, req.token)
		if err != nil {
			return "", fmt.Errorf("lookup request token: %w", err)
		}
		if existing != nil {
			logger.Debug("publish replayed", zap.String("author", authorID), zap.String("post", existing.ID))
			return existing.ID, nil
		}
	}

	now := p.clock.Now()
	post := &model.Post{ID: uuid.New().String(), AuthorID: authorID, Content: content, CreatedAt: now}
	if req.token != "" {
		post.RequestToken = &req.token
	}

	var (
		postWritten bool
		recipients  int
		written     int
	)
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.posts.WithTx(tx).Create(ctx, post); err != nil {
			return fmt.Errorf("create post: %w", err)
		}
		postWritten = true
		if p.opts.Strategy == FanoutOnRead {
			return nil
		}

		// 快照：同一事务内读取粉丝集合
		followers, err := p.cache.WithTx(tx).Followers(ctx, authorID)
		if err != nil {
			return err
		}
		ids := recipientsOf(authorID, followers)
		recipients = len(ids)
		span.SetAttributes(attribute.Int("recipients", recipients))

		timeline := p.timeline.WithTx(tx)
		for lo := 0; lo < len(ids); lo += p.opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			hi := min(lo+p.opts.BatchSize, len(ids))
			entries := make([]model.TimelineEntry, 0, hi-lo)
			for _, rid := range ids[lo:hi] {
				entries = append(entries, model.TimelineEntry{
					ID:          uuid.New().String(),
					RecipientID: rid,
					PostID:      post.ID,
					AuthorID:    authorID,
					Content:     content,
					CreatedAt:   now,
				})
			}
			if err := timeline.Append(ctx, entries); err != nil {
				return fmt.Errorf("append timeline batch %d-%d: %w", lo, hi, err)
			}
			written += len(entries)
		}
		return nil
	})
	if err != nil {
		// 同令牌的并发重试输掉了唯一键竞争：返回赢家
		if req.token != "" && !postWritten && errors.Is(err, gorm.ErrDuplicatedKey) {
			if existing, lerr := p.posts.FindByToken(context.WithoutCancel(ctx), authorID, req.token); lerr == nil && existing != nil {
				return existing.ID, nil
			}
		}
		logger.Warn("publish rolled back",
			zap.String("author", authorID), zap.Int("recipients", recipients), zap.Int("written", written), zap.Error(err))
		return "", &PublishError{AuthorID: authorID, Recipients: recipients, Delivered: written, Err: err}
	}

	if p.opts.Strategy == FanoutOnWrite {
		publishRecipients.Observe(float64(recipients))
	}
	logger.Debug("published", zap.String("author", authorID), zap.String("post", post.ID), zap.Int("recipients", recipients))
	return post.ID, nil
}

// recipientsOf 作者排第一，粉丝按 id 排序；允许自关注时作者也只收一份
func recipientsOf(authorID string, followers adjacency.Set) []string {
	ids := make([]string, 0, followers.Len()+1)
	ids = append(ids, authorID)
	for _, id := range followers.Sorted() {
		if id != authorID {
			ids = append(ids, id)
		}
	}
	return ids
}
