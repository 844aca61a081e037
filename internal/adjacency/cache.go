package adjacency

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

// Cache is the read side of the follower/following sets. It never writes;
// see Hook for the write side.
type Cache struct {
	db *gorm.DB
}

func NewCache(db *gorm.DB) *Cache { return &Cache{db: db} }

// WithTx binds reads to tx so they observe the transaction's own writes and snapshot.
func (c *Cache) WithTx(tx *gorm.DB) *Cache { return &Cache{db: tx} }

// Followers returns followers(user): everyone who follows user.
func (c *Cache) Followers(ctx context.Context, userID string) (Set, error) {
	var ids []string
	if err := c.db.WithContext(ctx).
		Model(&model.Fan{}).
		Where("user_id = ?", userID).
		Pluck("fan_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load followers of %s: %w", userID, err)
	}
	return NewSet(ids...), nil
}

// Following returns following(user): everyone user follows.
func (c *Cache) Following(ctx context.Context, userID string) (Set, error) {
	var ids []string
	if err := c.db.WithContext(ctx).
		Model(&model.Following{}).
		Where("user_id = ?", userID).
		Pluck("followee_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load following of %s: %w", userID, err)
	}
	return NewSet(ids...), nil
}

// FollowerIDs lists followers newest first, paged by offset/limit; limit <= 0 means all.
func (c *Cache) FollowerIDs(ctx context.Context, userID string, offset, limit int) ([]string, error) {
	var ids []string
	q := c.db.WithContext(ctx).
		Model(&model.Fan{}).
		Where("user_id = ?", userID).
		Order("created_at DESC, fan_id ASC")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	if err := q.Pluck("fan_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list followers of %s: %w", userID, err)
	}
	return ids, nil
}

// FollowingIDs lists followees newest first, paged by offset/limit; limit <= 0 means all.
func (c *Cache) FollowingIDs(ctx context.Context, userID string, offset, limit int) ([]string, error) {
	var ids []string
	q := c.db.WithContext(ctx).
		Model(&model.Following{}).
		Where("user_id = ?", userID).
		Order("created_at DESC, followee_id ASC")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	if err := q.Pluck("followee_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list following of %s: %w", userID, err)
	}
	return ids, nil
}

// CountFollowers returns |followers(user)| without loading the set.
func (c *Cache) CountFollowers(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&model.Fan{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}
