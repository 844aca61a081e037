package adjacency

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

// Hook keeps fans/followings in step with the edge table. It must be called
// with the same tx that inserted or deleted the edge, so the cache change
// commits or rolls back together with it. Every write is a single-row set
// operation and re-applying one is a no-op.
type Hook struct{}

func NewHook() *Hook { return &Hook{} }

// EdgeInserted applies Edge(followed, follower): follower joins followers(followed),
// followed joins following(follower).
func (h *Hook) EdgeInserted(ctx context.Context, tx *gorm.DB, followedID, followerID string, at time.Time) error {
	tx = tx.WithContext(ctx)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Fan{UserID: followedID, FanID: followerID, CreatedAt: at}).Error; err != nil {
		return fmt.Errorf("add %s to followers(%s): %w", followerID, followedID, err)
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Following{UserID: followerID, FolloweeID: followedID, CreatedAt: at}).Error; err != nil {
		return fmt.Errorf("add %s to following(%s): %w", followedID, followerID, err)
	}
	return nil
}

// EdgeDeleted reverses EdgeInserted.
func (h *Hook) EdgeDeleted(ctx context.Context, tx *gorm.DB, followedID, followerID string) error {
	tx = tx.WithContext(ctx)
	if err := tx.Where("user_id = ? AND fan_id = ?", followedID, followerID).
		Delete(&model.Fan{}).Error; err != nil {
		return fmt.Errorf("remove %s from followers(%s): %w", followerID, followedID, err)
	}
	if err := tx.Where("user_id = ? AND followee_id = ?", followerID, followedID).
		Delete(&model.Following{}).Error; err != nil {
		return fmt.Errorf("remove %s from following(%s): %w", followedID, followerID, err)
	}
	return nil
}

// Rebuild drops both sets for every user and regenerates them from the edge
// table inside tx. It returns the number of edges copied.
func (h *Hook) Rebuild(ctx context.Context, tx *gorm.DB) (int64, error) {
	tx = tx.WithContext(ctx)
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Fan{}).Error; err != nil {
		return 0, fmt.Errorf("truncate fans: %w", err)
	}
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Following{}).Error; err != nil {
		return 0, fmt.Errorf("truncate followings: %w", err)
	}
	res := tx.Exec(`INSERT INTO fans (user_id, fan_id, created_at)
		SELECT followed_id, follower_id, created_at FROM edges`)
	if res.Error != nil {
		return 0, fmt.Errorf("rebuild fans: %w", res.Error)
	}
	if err := tx.Exec(`INSERT INTO followings (user_id, followee_id, created_at)
		SELECT follower_id, followed_id, created_at FROM edges`).Error; err != nil {
		return 0, fmt.Errorf("rebuild followings: %w", err)
	}
	return res.RowsAffected, nil
}
