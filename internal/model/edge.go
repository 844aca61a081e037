package model

import "time"

// Edge 关注边（FollowerID 关注 FollowedID），关系链的唯一真相来源
type Edge struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	FollowedID string `gorm:"type:varchar(36);not null;index:idx_edge_pair,unique,priority:1"`
	FollowerID string `gorm:"type:varchar(36);not null;index:idx_edge_pair,unique,priority:2;index:idx_edge_follower"`
	// 复合唯一键，避免重复关注
	// idx_edge_pair = (followed_id, follower_id)
	CreatedAt time.Time
}

func (Edge) TableName() string { return "edges" }
