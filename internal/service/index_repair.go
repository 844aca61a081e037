package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

// IndexInvalidator 边变更提交后失效外层读索引（Redis 分页列表）
type IndexInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...string) error
}

type repairJob struct {
	userIDs  []string
	attempts int
	enqAt    time.Time
}

// IndexRepairer 失效失败时的本地异步重试器。数据库已提交，这里只负责让 Redis 列表最终被删掉；
// 队列满时丢弃，依赖列表 TTL 兜底。
type IndexRepairer struct {
	index       IndexInvalidator
	ch          chan repairJob
	maxAttempts int
	backoff     time.Duration
}

func NewIndexRepairer(index IndexInvalidator, queueSize int) *IndexRepairer {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &IndexRepairer{index: index, ch: make(chan repairJob, queueSize), maxAttempts: 5, backoff: 200 * time.Millisecond}
}

// Start 启动 workers 个协程消费队列，返回停止函数
func (r *IndexRepairer) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-r.ch:
					indexRepairQueue.Set(float64(len(r.ch)))
					r.process(job, stopCh)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		defer close(stopCh)
		// 先让 worker 把队列排空，超时后放弃剩余任务
		for len(r.ch) > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
		return nil
	}
}

func (r *IndexRepairer) process(job repairJob, stopCh <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := r.index.Invalidate(ctx, job.userIDs...)
	cancel()
	if err == nil {
		return
	}
	job.attempts++
	if job.attempts >= r.maxAttempts {
		logger.Error("give up invalidating follower index",
			zap.Strings("users", job.userIDs), zap.Int("attempts", job.attempts),
			zap.Duration("age", time.Since(job.enqAt)), zap.Error(err))
		return
	}
	select {
	case <-time.After(r.backoff * time.Duration(job.attempts)):
	case <-stopCh:
		return
	}
	r.enqueue(job)
}

// Enqueue 排队一次失效重试
func (r *IndexRepairer) Enqueue(userIDs ...string) {
	r.enqueue(repairJob{userIDs: userIDs, enqAt: time.Now()})
}

func (r *IndexRepairer) enqueue(job repairJob) {
	select {
	case r.ch <- job:
		indexRepairQueue.Set(float64(len(r.ch)))
	default:
		logger.Warn("index repair queue full, drop", zap.Strings("users", job.userIDs))
	}
}

// QueueLen 返回当前队列长度（采样值）
func (r *IndexRepairer) QueueLen() int { return len(r.ch) }
