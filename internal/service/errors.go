package service

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownUser        = errors.New("unknown user")
	ErrDuplicateEdge      = errors.New("edge already exists")
	ErrEdgeNotFound       = errors.New("edge not found")
	ErrSelfFollowRejected = errors.New("cannot follow self")

	ErrPublishFailed        = errors.New("publish failed")
	ErrPartialFanoutAborted = errors.New("fan-out aborted, publish rolled back")
)

// PublishError 发布失败：事务已整体回滚，没有任何接收者能看到这篇 post，可安全重试
type PublishError struct {
	AuthorID   string
	Recipients int
	// Delivered 回滚前已写入（随后被撤销）的条目数
	Delivered int
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed for author %s (%d/%d written before rollback): %v",
		e.AuthorID, e.Delivered, e.Recipients, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool {
	if target == ErrPublishFailed {
		return true
	}
	// 扇出已经开始才算 partial
	return target == ErrPartialFanoutAborted && e.Recipients > 0
}
