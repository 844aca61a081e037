package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

// EdgeRepository 关注边（规范表）读写
type EdgeRepository interface {
	Insert(ctx context.Context, edge *model.Edge) error
	// Delete 返回实际删除的行数
	Delete(ctx context.Context, followedID, followerID string) (int64, error)
	Exists(ctx context.Context, followedID, followerID string) (bool, error)
	FollowerIDs(ctx context.Context, followedID string) ([]string, error)
	FollowingIDs(ctx context.Context, followerID string) ([]string, error)
	Count(ctx context.Context) (int64, error)
	WithTx(tx *gorm.DB) EdgeRepository
}

type edgeRepository struct {
	db *gorm.DB
}

func NewEdgeRepository(db *gorm.DB) EdgeRepository { return &edgeRepository{db: db} }

func (r *edgeRepository) WithTx(tx *gorm.DB) EdgeRepository { return &edgeRepository{db: tx} }

// Insert 不做冲突吞没：重复关注由唯一键报 gorm.ErrDuplicatedKey
func (r *edgeRepository) Insert(ctx context.Context, edge *model.Edge) error {
	return r.db.WithContext(ctx).Create(edge).Error
}

func (r *edgeRepository) Delete(ctx context.Context, followedID, followerID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("followed_id = ? AND follower_id = ?", followedID, followerID).
		Delete(&model.Edge{})
	return res.RowsAffected, res.Error
}

func (r *edgeRepository) Exists(ctx context.Context, followedID, followerID string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Edge{}).
		Where("followed_id = ? AND follower_id = ?", followedID, followerID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *edgeRepository) FollowerIDs(ctx context.Context, followedID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Edge{}).
		Where("followed_id = ?", followedID).
		Pluck("follower_id", &ids).Error
	return ids, err
}

func (r *edgeRepository) FollowingIDs(ctx context.Context, followerID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Edge{}).
		Where("follower_id = ?", followerID).
		Pluck("followed_id", &ids).Error
	return ids, err
}

func (r *edgeRepository) Count(ctx context.Context) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Edge{}).Count(&cnt).Error
	return cnt, err
}
