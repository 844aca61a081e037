package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/d60-Lab/timeline-engine/config"
	"github.com/d60-Lab/timeline-engine/internal/app"
	"github.com/d60-Lab/timeline-engine/internal/benchkit"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/internal/service"
)

// 读路径对比：写扩散的 ownTimeline vs 读扩散按边表 / 按缓存现拉
func main() {
	ctx := context.Background()
	cfg := benchkit.Must(config.Load())
	a := benchkit.Must(app.New(ctx, cfg))
	defer a.Close(ctx)

	AUTHORS := benchkit.EnvInt("AUTHORS", 200)
	READERS := benchkit.EnvInt("READERS", 50)
	FOLLOWS := benchkit.EnvInt("FOLLOWS", 100) // 每个读者关注的作者数
	POSTS := benchkit.EnvInt("POSTS", 5)       // 每个作者发布数
	READS := benchkit.EnvInt("READS", 200)
	LIMIT := benchkit.EnvInt("LIMIT", cfg.Timeline.PageSize)
	if FOLLOWS > AUTHORS {
		FOLLOWS = AUTHORS
	}

	if err := benchkit.Reset(a.DB); err != nil {
		panic(err)
	}
	e := service.NewEngine(a.DB, service.EngineOptions{Strategy: service.FanoutOnWrite, BatchSize: cfg.Timeline.BatchSize})
	authors := benchkit.Must(benchkit.SeedUsers(a.DB, "author", AUTHORS))
	readers := benchkit.Must(benchkit.SeedUsers(a.DB, "reader", READERS))

	rng := rand.New(rand.NewSource(1))
	for _, r := range readers {
		for _, i := range rng.Perm(AUTHORS)[:FOLLOWS] {
			if err := e.Relations.Follow(ctx, authors[i], r); err != nil {
				panic(err)
			}
		}
	}

	st := time.Now()
	for p := 0; p < POSTS; p++ {
		for _, au := range authors {
			if _, err := e.Publisher.Publish(ctx, au, fmt.Sprintf("%s #%d", au, p)); err != nil {
				panic(err)
			}
		}
	}
	fmt.Printf("AUTHORS=%d READERS=%d FOLLOWS=%d POSTS=%d LIMIT=%d seed=%v\n",
		AUTHORS, READERS, FOLLOWS, POSTS, LIMIT, time.Since(st))

	run := func(name string, read func(user string) (int, error)) {
		lat := make([]time.Duration, 0, READS)
		rows := 0
		for i := 0; i < READS; i++ {
			user := readers[i%len(readers)]
			st := time.Now()
			n, err := read(user)
			if err != nil {
				panic(err)
			}
			lat = append(lat, time.Since(st))
			rows += n
		}
		fmt.Printf("%-22s %s rows/read=%d\n", name, benchkit.Summary(lat), rows/READS)
	}

	run("ownTimeline", func(u string) (int, error) {
		rows, err := e.Query.OwnTimeline(ctx, u, LIMIT)
		return len(rows), err
	})
	for _, src := range []repository.FeedSource{repository.FeedFromEdges, repository.FeedFromCache} {
		q := service.NewEngine(a.DB, service.EngineOptions{Strategy: service.FanoutOnRead, FeedSource: src}).Query
		run("readTimeFeed("+string(src)+")", func(u string) (int, error) {
			posts, err := q.ReadTimeFeed(ctx, u, LIMIT)
			return len(posts), err
		})
	}
}
