package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/d60-Lab/timeline-engine/config"
	"github.com/d60-Lab/timeline-engine/internal/app"
	"github.com/d60-Lab/timeline-engine/internal/benchkit"
)

// 并发关注/取关，随后对账确认缓存与边表一致，并测分页与集合查询耗时
func main() {
	ctx := context.Background()
	cfg := benchkit.Must(config.Load())
	a := benchkit.Must(app.New(ctx, cfg))
	defer a.Close(ctx)

	USERS := benchkit.EnvInt("USERS", 500)
	OPS := benchkit.EnvInt("OPS", 20000)
	CONC := benchkit.EnvInt("CONC", 8)
	PAGE := benchkit.EnvInt("PAGE", cfg.Timeline.PageSize)

	if err := benchkit.Reset(a.DB); err != nil {
		panic(err)
	}
	e := a.Engine
	users := benchkit.Must(benchkit.SeedUsers(a.DB, "u", USERS))

	var (
		mu                     sync.Mutex
		followLat, unfollowLat []time.Duration
		rejected               int
	)
	feed := make(chan int, OPS)
	for i := 0; i < OPS; i++ {
		feed <- i
	}
	close(feed)

	t0 := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < CONC; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range feed {
				followed, follower := users[rng.Intn(USERS)], users[rng.Intn(USERS)]
				st := time.Now()
				var err error
				unfollow := rng.Intn(3) == 0
				if unfollow {
					err = e.Relations.Unfollow(ctx, followed, follower)
				} else {
					err = e.Relations.Follow(ctx, followed, follower)
				}
				d := time.Since(st)
				mu.Lock()
				switch {
				case err != nil:
					rejected++
				case unfollow:
					unfollowLat = append(unfollowLat, d)
				default:
					followLat = append(followLat, d)
				}
				mu.Unlock()
			}
		}(int64(w))
	}
	wg.Wait()
	total := time.Since(t0)

	fmt.Printf("USERS=%d OPS=%d CONC=%d total=%v rejected=%d\n", USERS, OPS, CONC, total, rejected)
	fmt.Printf("follow   %s\n", benchkit.Summary(followLat))
	fmt.Printf("unfollow %s\n", benchkit.Summary(unfollowLat))

	st := time.Now()
	report, err := e.Auditor.Audit(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("audit users=%d drifted=%d took=%v\n", report.UsersChecked, len(report.Drifts), time.Since(st))

	var pageLat, mutualLat, nfbLat []time.Duration
	for i := 0; i < 200; i++ {
		u, v := users[i%USERS], users[(i*7+1)%USERS]
		st := time.Now()
		if _, err := e.Query.FollowersPage(ctx, u, 1, PAGE); err != nil {
			panic(err)
		}
		pageLat = append(pageLat, time.Since(st))

		st = time.Now()
		if _, err := e.Query.MutualFollowers(ctx, u, v); err != nil {
			panic(err)
		}
		mutualLat = append(mutualLat, time.Since(st))

		st = time.Now()
		if _, err := e.Query.NotFollowedBack(ctx, u); err != nil {
			panic(err)
		}
		nfbLat = append(nfbLat, time.Since(st))
	}
	fmt.Printf("followersPage(%d) %s redis=%v\n", PAGE, benchkit.Summary(pageLat), cfg.Redis.Enabled)
	fmt.Printf("mutualFollowers   %s\n", benchkit.Summary(mutualLat))
	fmt.Printf("notFollowedBack   %s\n", benchkit.Summary(nfbLat))
}
