package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

// FeedSource 读时扩散从哪张关系表取 following(user)
type FeedSource string

const (
	FeedFromEdges FeedSource = "edges"
	FeedFromCache FeedSource = "cache"
)

// PostRepository 内容表读写
type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	// FindByToken 未找到返回 (nil, nil)
	FindByToken(ctx context.Context, authorID, token string) (*model.Post, error)
	// Feed 读时扩散：user 自己及其关注者的 posts，按 created_at 倒序；limit <= 0 表示全部
	Feed(ctx context.Context, userID string, source FeedSource, limit int) ([]*model.Post, error)
	WithTx(tx *gorm.DB) PostRepository
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func (r *postRepository) WithTx(tx *gorm.DB) PostRepository { return &postRepository{db: tx} }

func (r *postRepository) Create(ctx context.Context, post *model.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *postRepository) FindByToken(ctx context.Context, authorID, token string) (*model.Post, error) {
	var p model.Post
	err := r.db.WithContext(ctx).
		Where("author_id = ? AND request_token = ?", authorID, token).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) Feed(ctx context.Context, userID string, source FeedSource, limit int) ([]*model.Post, error) {
	db := r.db.WithContext(ctx)

	// 子查询只生成 SQL，不单独执行，因此在事务内使用同一连接是安全的
	var followees *gorm.DB
	if source == FeedFromCache {
		followees = db.Session(&gorm.Session{NewDB: true}).
			Model(&model.Following{}).Select("followee_id").Where("user_id = ?", userID)
	} else {
		followees = db.Session(&gorm.Session{NewDB: true}).
			Model(&model.Edge{}).Select("followed_id").Where("follower_id = ?", userID)
	}

	// 单表 OR 条件，每篇 post 至多出现一次
	q := db.Model(&model.Post{}).
		Where("author_id = ?", userID).
		Or("author_id IN (?)", followees).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var posts []*model.Post
	if err := q.Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}
