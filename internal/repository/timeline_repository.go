package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

// TimelineRepository 写时扩散的收件箱（只追加）
type TimelineRepository interface {
	// Append 批量追加；同一 (recipient, post) 重复写入会因唯一键失败
	Append(ctx context.Context, entries []model.TimelineEntry) error
	// ListByRecipient 按 created_at 倒序；limit <= 0 表示全部
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*model.TimelineEntry, error)
	CountByPost(ctx context.Context, postID string) (int64, error)
	WithTx(tx *gorm.DB) TimelineRepository
}

type timelineRepository struct {
	db *gorm.DB
}

func NewTimelineRepository(db *gorm.DB) TimelineRepository { return &timelineRepository{db: db} }

func (r *timelineRepository) WithTx(tx *gorm.DB) TimelineRepository {
	return &timelineRepository{db: tx}
}

func (r *timelineRepository) Append(ctx context.Context, entries []model.TimelineEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *timelineRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*model.TimelineEntry, error) {
	var rows []*model.TimelineEntry
	q := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (r *timelineRepository) CountByPost(ctx context.Context, postID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.TimelineEntry{}).Where("post_id = ?", postID).Count(&cnt).Error
	return cnt, err
}
