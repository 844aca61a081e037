package main

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/timeline-engine/config"
	"github.com/d60-Lab/timeline-engine/internal/adjacency"
	"github.com/d60-Lab/timeline-engine/internal/app"
	"github.com/d60-Lab/timeline-engine/internal/benchkit"
	"github.com/d60-Lab/timeline-engine/internal/cache"
	"github.com/d60-Lab/timeline-engine/internal/service"
)

type request struct {
	userID string
	page   int
	size   int
}

// 粉丝列表分页：直接读缓存表 vs Redis 索引（冷/热），以及边变更频繁时的命中情况
func main() {
	ctx := context.Background()
	cfg := benchkit.Must(config.Load())
	a := benchkit.Must(app.New(ctx, cfg))
	defer a.Close(ctx)

	client := redis.NewClient(&redis.Options{Addr: benchkit.EnvString("REDIS_ADDR", cfg.Redis.Addr)})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("redis unreachable: %v", err))
	}

	FOLLOWERS := benchkit.EnvInt("FOLLOWERS", 10000)
	REQS := benchkit.EnvInt("REQS", 3000)
	CHURN := benchkit.EnvInt("CHURN", 50) // 每 CHURN 次读发生一次关注

	if err := benchkit.Reset(a.DB); err != nil {
		panic(err)
	}
	adj := adjacency.NewCache(a.DB)
	index := cache.NewFollowerIndex(client, adj, cfg.Redis.IndexTTL)
	e := service.NewEngine(a.DB, service.EngineOptions{Index: index})

	stars := benchkit.Must(benchkit.SeedUsers(a.DB, "star", 3))
	fans := benchkit.Must(benchkit.SeedUsers(a.DB, "fan", FOLLOWERS))
	// 三个用户的粉丝两两重叠一半
	for i, s := range stars {
		lo := i * FOLLOWERS / 4
		if err := benchkit.SeedFollowers(ctx, a.DB, e.Auditor, s, fans[lo:lo+FOLLOWERS/2]); err != nil {
			panic(err)
		}
	}
	reqs := makeRequests(stars, REQS)
	fmt.Printf("FOLLOWERS=%d REQS=%d CHURN=%d\n", FOLLOWERS, REQS, CHURN)

	tableOnly := service.NewEngine(a.DB, service.EngineOptions{}).Query
	report(ctx, client, "cache table", run(reqs, func(r request) error {
		_, err := tableOnly.FollowersPage(ctx, r.userID, r.page, r.size)
		return err
	}))

	client.FlushDB(ctx)
	report(ctx, client, "index cold", run(reqs[:len(stars)], func(r request) error {
		_, err := e.Query.FollowersPage(ctx, r.userID, r.page, r.size)
		return err
	}))
	report(ctx, client, "index warm", run(reqs, func(r request) error {
		_, err := e.Query.FollowersPage(ctx, r.userID, r.page, r.size)
		return err
	}))

	late := benchkit.Must(benchkit.SeedUsers(a.DB, "late", REQS/CHURN+1))
	n := 0
	report(ctx, client, "index + churn", run(reqs, func(r request) error {
		if n%CHURN == 0 {
			if err := e.Relations.Follow(ctx, r.userID, late[n/CHURN]); err != nil {
				return err
			}
		}
		n++
		_, err := e.Query.FollowersPage(ctx, r.userID, r.page, r.size)
		return err
	}))
}

func run(reqs []request, call func(request) error) []time.Duration {
	out := make([]time.Duration, 0, len(reqs))
	for _, r := range reqs {
		st := time.Now()
		if err := call(r); err != nil {
			panic(err)
		}
		out = append(out, time.Since(st))
	}
	return out
}

func report(ctx context.Context, client *redis.Client, name string, lat []time.Duration) {
	keys, _ := client.DBSize(ctx).Result()
	var mem int64
	if info, err := client.Info(ctx, "memory").Result(); err == nil {
		mem = parseRedisMemory(info)
	}
	fmt.Printf("%-14s %s keys=%d mem=%s\n", name, benchkit.Summary(lat), keys, formatBytes(mem))
}

// parseRedisMemory 从 INFO memory 中取 used_memory
func parseRedisMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func makeRequests(users []string, n int) []request {
	sizes := []int{20, 40, 60}
	rnd := rand.New(rand.NewSource(42))
	out := make([]request, n)
	for i := range out {
		page := 1
		if rnd.Float64() > 0.72 {
			page = 2 + rnd.Intn(120)
		}
		out[i] = request{userID: users[i%len(users)], page: page, size: sizes[rnd.Intn(len(sizes))]}
	}
	return out
}
