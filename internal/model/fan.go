package model

import "time"

// Fan 粉丝集合成员（FanID 关注了 UserID），冗余自 Edge，只由一致性钩子写入
type Fan struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)"`
	FanID     string    `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `gorm:"index"`
}

func (Fan) TableName() string { return "fans" }

// Following 关注集合成员（UserID 关注了 FolloweeID），冗余自 Edge
type Following struct {
	UserID     string    `gorm:"primaryKey;type:varchar(36)"`
	FolloweeID string    `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt  time.Time `gorm:"index"`
}

func (Following) TableName() string { return "followings" }
