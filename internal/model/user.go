package model

import "time"

// User 用户身份（由外部账号系统维护，此处只读）
type User struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	Username    string `gorm:"type:varchar(64);uniqueIndex;not null"`
	DisplayName string `gorm:"type:varchar(128)"`
	CreatedAt   time.Time
}

func (User) TableName() string { return "users" }
