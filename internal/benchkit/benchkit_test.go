package benchkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPct(t *testing.T) {
	vs := []time.Duration{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}
	assert.Equal(t, time.Duration(5), Pct(vs, 0.50))
	assert.Equal(t, time.Duration(10), Pct(vs, 0.99))
	assert.Equal(t, time.Duration(1), Pct(vs, 0))
	assert.Equal(t, time.Duration(0), Pct(nil, 0.5))
	// 输入不被排序
	assert.Equal(t, time.Duration(5), vs[0])
}

func TestAvgAndEnvInt(t *testing.T) {
	assert.Equal(t, 2*time.Second, Avg([]time.Duration{time.Second, 3 * time.Second}))
	t.Setenv("BENCH_N", "42")
	assert.Equal(t, 42, EnvInt("BENCH_N", 7))
	t.Setenv("BENCH_N", "-1")
	assert.Equal(t, 7, EnvInt("BENCH_N", 7))
	assert.Equal(t, "x", EnvString("BENCH_UNSET_VAR", "x"))
}
