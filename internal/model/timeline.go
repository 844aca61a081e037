package model

import "time"

// TimelineEntry 时间线项：一篇 Post 投递给一个接收者的副本（按 recipient_id 切分）
type TimelineEntry struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	RecipientID string `gorm:"type:varchar(36);not null;uniqueIndex:ux_timeline_recipient_post,priority:1;index:idx_timeline_recipient_created,priority:1"`
	PostID      string `gorm:"type:varchar(36);not null;uniqueIndex:ux_timeline_recipient_post,priority:2"`
	// 复合唯一键，避免同一 post 对同一接收者投递两次
	AuthorID  string    `gorm:"type:varchar(36);not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_timeline_recipient_created,priority:2"`
}

func (TimelineEntry) TableName() string { return "timeline_entries" }
