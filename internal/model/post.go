package model

import "time"

// Post 内容主体，创建后不可变
type Post struct {
	ID       string `gorm:"primaryKey;type:varchar(36)"`
	AuthorID string `gorm:"type:varchar(36);not null;index:idx_post_author_created,priority:1;uniqueIndex:ux_post_author_token,priority:1"`
	Content  string `gorm:"type:text;not null"`
	// RequestToken 客户端提供的幂等令牌，可为空
	RequestToken *string   `gorm:"type:varchar(64);uniqueIndex:ux_post_author_token,priority:2"`
	CreatedAt    time.Time `gorm:"not null;index:idx_post_author_created,priority:2"`
}

func (Post) TableName() string { return "posts" }
