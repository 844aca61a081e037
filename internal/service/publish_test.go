package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/adjacency"
	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
)

// faultyTimeline 第 failOn 次 Append 时调用 onCall；onCall 返回的错误作为写入结果
type faultyTimeline struct {
	repository.TimelineRepository
	mu     *sync.Mutex
	calls  *int
	failOn int
	onCall func() error
}

func newFaultyTimeline(db *gorm.DB, failOn int, onCall func() error) *faultyTimeline {
	return &faultyTimeline{
		TimelineRepository: repository.NewTimelineRepository(db),
		mu:                 &sync.Mutex{},
		calls:              new(int),
		failOn:             failOn,
		onCall:             onCall,
	}
}

func (f *faultyTimeline) WithTx(tx *gorm.DB) repository.TimelineRepository {
	cp := *f
	cp.TimelineRepository = f.TimelineRepository.WithTx(tx)
	return &cp
}

func (f *faultyTimeline) Append(ctx context.Context, entries []model.TimelineEntry) error {
	f.mu.Lock()
	*f.calls++
	n := *f.calls
	f.mu.Unlock()
	if n == f.failOn {
		if err := f.onCall(); err != nil {
			return err
		}
	}
	return f.TimelineRepository.Append(ctx, entries)
}

func engineWithTimeline(db *gorm.DB, tl repository.TimelineRepository, opts EngineOptions) *Engine {
	if opts.Clock == nil {
		opts.Clock = newStepClock()
	}
	return NewEngineWith(db, repository.NewUserRepository(db), repository.NewEdgeRepository(db),
		repository.NewPostRepository(db), tl, adjacency.NewCache(db), adjacency.NewHook(), opts)
}

func seedFanGraph(t *testing.T, db *gorm.DB, e *Engine, author string, fans int) []string {
	t.Helper()
	seedUsers(t, db, author)
	ids := make([]string, fans)
	for i := range ids {
		ids[i] = fmt.Sprintf("fan%02d", i)
		seedUsers(t, db, ids[i])
		require.NoError(t, e.Relations.Follow(context.Background(), author, ids[i]))
	}
	return ids
}

func TestPublish_DeliversToAuthorAndFollowers(t *testing.T) {
	db, e := setupEngine(t, EngineOptions{BatchSize: 2})
	assert.Equal(t, FanoutOnWrite, e.Publisher.Strategy())
	fans := seedFanGraph(t, db, e, "star", 5)
	ctx := context.Background()

	postID, err := e.Publisher.Publish(ctx, "star", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, postID)

	assert.EqualValues(t, 6, countRows(t, db, &model.TimelineEntry{}, "post_id = ?", postID))
	for _, r := range append([]string{"star"}, fans...) {
		rows, err := e.Query.OwnTimeline(ctx, r, 0)
		require.NoError(t, err)
		require.Len(t, rows, 1, "recipient %s", r)
		assert.Equal(t, "hello", rows[0].Content)
		assert.Equal(t, "star", rows[0].AuthorID)
	}
}

func TestPublish_FanoutFailureRollsBackEverything(t *testing.T) {
	db := setupDB(t)
	storageDown := errors.New("storage unavailable")
	tl := newFaultyTimeline(db, 2, func() error { return storageDown })
	e := engineWithTimeline(db, tl, EngineOptions{BatchSize: 2})
	seedFanGraph(t, db, e, "star", 5)

	postID, err := e.Publisher.Publish(context.Background(), "star", "x")
	require.Error(t, err)
	assert.Empty(t, postID)
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.ErrorIs(t, err, ErrPartialFanoutAborted)
	assert.ErrorIs(t, err, storageDown)

	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 6, perr.Recipients)
	assert.Equal(t, 2, perr.Delivered)

	// 第一批已写入的两条也必须随事务回滚
	assert.EqualValues(t, 0, countRows(t, db, &model.TimelineEntry{}, ""))
	assert.EqualValues(t, 0, countRows(t, db, &model.Post{}, ""))

	// 回滚后重试是安全的
	*tl.calls = 100
	postID, err = e.Publisher.Publish(context.Background(), "star", "x")
	require.NoError(t, err)
	assert.EqualValues(t, 6, countRows(t, db, &model.TimelineEntry{}, "post_id = ?", postID))
}

func TestPublish_CancelledBeforeCommit(t *testing.T) {
	db := setupDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tl := newFaultyTimeline(db, 2, func() error { cancel(); return nil })
	e := engineWithTimeline(db, tl, EngineOptions{BatchSize: 1})
	seedFanGraph(t, db, e, "star", 4)

	_, err := e.Publisher.Publish(ctx, "star", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.ErrorIs(t, err, context.Canceled)

	assert.EqualValues(t, 0, countRows(t, db, &model.TimelineEntry{}, ""))
	assert.EqualValues(t, 0, countRows(t, db, &model.Post{}, ""))
}

func TestPublish_NoRetroactiveDelivery(t *testing.T) {
	db, e := setupEngine(t, EngineOptions{})
	seedUsers(t, db, "a", "b")
	ctx := context.Background()

	first, err := e.Publisher.Publish(ctx, "b", "x")
	require.NoError(t, err)

	require.NoError(t, e.Relations.Follow(ctx, "b", "a"))
	rows, err := e.Query.OwnTimeline(ctx, "a", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	second, err := e.Publisher.Publish(ctx, "b", "y")
	require.NoError(t, err)
	rows, err = e.Query.OwnTimeline(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second, rows[0].PostID)
	assert.NotEqual(t, first, rows[0].PostID)

	// 取关也不回收已投递的条目
	require.NoError(t, e.Relations.Unfollow(ctx, "b", "a"))
	rows, err = e.Query.OwnTimeline(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPublish_RequestTokenIsIdempotent(t *testing.T) {
	db, e := setupEngine(t, EngineOptions{})
	seedFanGraph(t, db, e, "star", 3)
	ctx := context.Background()

	id1, err := e.Publisher.Publish(ctx, "star", "x", WithRequestToken("req-1"))
	require.NoError(t, err)
	id2, err := e.Publisher.Publish(ctx, "star", "x", WithRequestToken("req-1"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.EqualValues(t, 4, countRows(t, db, &model.TimelineEntry{}, ""))

	id3, err := e.Publisher.Publish(ctx, "star", "x", WithRequestToken("req-2"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	// 没有令牌的发布互不去重
	_, err = e.Publisher.Publish(ctx, "star", "x")
	require.NoError(t, err)
	_, err = e.Publisher.Publish(ctx, "star", "x")
	require.NoError(t, err)
	assert.EqualValues(t, 4, countRows(t, db, &model.Post{}, ""))
}

func TestPublish_UnknownAuthor(t *testing.T) {
	db, e := setupEngine(t, EngineOptions{})
	_, err := e.Publisher.Publish(context.Background(), "ghost", "x")
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.NotErrorIs(t, err, ErrPublishFailed)
	assert.EqualValues(t, 0, countRows(t, db, &model.Post{}, ""))
}

func TestPublish_ReadStrategyWritesPostOnly(t *testing.T) {
	db, e := setupEngine(t, EngineOptions{Strategy: FanoutOnRead})
	assert.Equal(t, FanoutOnRead, e.Publisher.Strategy())
	seedFanGraph(t, db, e, "star", 3)
	ctx := context.Background()

	postID, err := e.Publisher.Publish(ctx, "star", "x")
	require.NoError(t, err)
	assert.EqualValues(t, 0, countRows(t, db, &model.TimelineEntry{}, ""))
	assert.EqualValues(t, 1, countRows(t, db, &model.Post{}, "id = ?", postID))

	items, err := e.Query.Feed(ctx, "fan00", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, postID, items[0].PostID)
}

func TestPublish_SelfFollowDeliversOnce(t *testing.T) {
	db, e := setupEngine(t, EngineOptions{AllowSelfFollow: true})
	seedUsers(t, db, "a", "b")
	follows(t, e, [2]string{"a", "a"}, [2]string{"b", "a"})

	postID, err := e.Publisher.Publish(context.Background(), "a", "x")
	require.NoError(t, err)
	assert.EqualValues(t, 1, countRows(t, db, &model.TimelineEntry{}, "post_id = ? AND recipient_id = ?", postID, "a"))
	assert.EqualValues(t, 2, countRows(t, db, &model.TimelineEntry{}, "post_id = ?", postID))

	feed, err := e.Query.ReadTimeFeed(context.Background(), "a", 0)
	require.NoError(t, err)
	assert.Len(t, feed, 1)
}

func TestPublish_ConcurrentWithFollows(t *testing.T) {
	db, e := setupEngine(t, EngineOptions{BatchSize: 3})
	seedUsers(t, db, "star")
	fans := make([]string, 12)
	for i := range fans {
		fans[i] = fmt.Sprintf("f%02d", i)
	}
	seedUsers(t, db, fans...)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		posts []string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, f := range fans {
			assert.NoError(t, e.Relations.Follow(ctx, "star", f))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 6; i++ {
			id, err := e.Publisher.Publish(ctx, "star", fmt.Sprintf("p%d", i))
			assert.NoError(t, err)
			mu.Lock()
			posts = append(posts, id)
			mu.Unlock()
		}
	}()
	wg.Wait()

	// 粉丝只增不减：后发布的 post 的接收者集合一定包含先发布的
	prev := adjacency.NewSet()
	for _, id := range posts {
		var recipients []string
		require.NoError(t, db.Model(&model.TimelineEntry{}).Where("post_id = ?", id).Pluck("recipient_id", &recipients).Error)
		got := adjacency.NewSet(recipients...)
		assert.True(t, got.Has("star"))
		assert.Empty(t, prev.Difference(got).Sorted(), "post %s lost recipients", id)
		prev = got
	}
}
