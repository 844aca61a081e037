package service

import "time"

// Clock 时间来源，Post 与 TimelineEntry 的 created_at 由它决定
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// SystemClock 返回 UTC 墙钟
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC() }
