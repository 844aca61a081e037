package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/d60-Lab/timeline-engine/config"
	"github.com/d60-Lab/timeline-engine/internal/app"
	"github.com/d60-Lab/timeline-engine/internal/benchkit"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/internal/service"
)

// 发布延迟随粉丝数变化：写扩散在事务内投递全部粉丝，读扩散只写 post
func main() {
	ctx := context.Background()
	cfg := benchkit.Must(config.Load())
	a := benchkit.Must(app.New(ctx, cfg))
	defer a.Close(ctx)

	sizes := parseSizes(benchkit.EnvString("FOLLOWERS", "100,1000,10000"))
	POSTS := benchkit.EnvInt("POSTS", 20)
	BATCH := benchkit.EnvInt("BATCH", cfg.Timeline.BatchSize)

	timeline := repository.NewTimelineRepository(a.DB)

	fmt.Printf("POSTS=%d BATCH=%d driver=%s\n", POSTS, BATCH, cfg.Database.Driver)
	for _, n := range sizes {
		for _, strategy := range []service.Strategy{service.FanoutOnWrite, service.FanoutOnRead} {
			if err := benchkit.Reset(a.DB); err != nil {
				panic(err)
			}
			e := service.NewEngine(a.DB, service.EngineOptions{Strategy: strategy, BatchSize: BATCH})

			author := benchkit.Must(benchkit.SeedUsers(a.DB, "author", 1))[0]
			fans := benchkit.Must(benchkit.SeedUsers(a.DB, "fan", n))
			if err := benchkit.SeedFollowers(ctx, a.DB, e.Auditor, author, fans); err != nil {
				panic(err)
			}

			lat := make([]time.Duration, 0, POSTS)
			var lastPost string
			for i := 0; i < POSTS; i++ {
				st := time.Now()
				id, err := e.Publisher.Publish(ctx, author, fmt.Sprintf("post %d", i))
				if err != nil {
					panic(err)
				}
				lat = append(lat, time.Since(st))
				lastPost = id
			}
			// 写扩散每条 post 应有 粉丝数+1 行（作者自己），读扩散为 0
			delivered := benchkit.Must(timeline.CountByPost(ctx, lastPost))
			fmt.Printf("followers=%-7d strategy=%-5s delivered=%-7d publish %s\n", n, strategy, delivered, benchkit.Summary(lat))
		}
	}
}

func parseSizes(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		if v, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && v >= 0 {
			out = append(out, v)
		}
	}
	return out
}
