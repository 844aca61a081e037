package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository 身份服务适配：账号由外部系统维护，这里只解析与枚举
type UserRepository interface {
	Resolve(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	// ListIDs 按 id 升序分页，afterID 为空表示从头开始
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) Resolve(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}
	var u model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	var ids []string
	q := r.db.WithContext(ctx).Model(&model.User{}).Order("id ASC").Limit(limit)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}
