package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(p *Profiler, step time.Duration) {
	t := time.Unix(0, 0)
	p.now = func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestProfilerScopesKeepOrder(t *testing.T) {
	p := NewProfiler()
	fakeClock(p, 2*time.Millisecond)

	p.BeginScope("update")
	p.EndScope("update")
	p.BeginScope("submit")
	p.EndScope("submit")
	p.SetDetail("trace", time.Millisecond)

	assert.Equal(t, []string{"update", "submit", "trace"}, p.Order)
	assert.Equal(t, 2*time.Millisecond, p.Scopes["update"])
	// Detail scopes are part of submit and do not count twice.
	assert.Equal(t, 4*time.Millisecond, p.Total())

	p.BeginScope("update")
	p.EndScope("update")
	assert.Len(t, p.Order, 3)
}

func TestProfilerEndWithoutBegin(t *testing.T) {
	p := NewProfiler()
	p.EndScope("never")
	assert.Empty(t, p.Scopes)
	assert.Zero(t, p.Total())
}

func TestProfilerTime(t *testing.T) {
	p := NewProfiler()
	fakeClock(p, time.Millisecond)
	boom := errors.New("boom")
	err := p.Time("octree", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, time.Millisecond, p.Scopes["octree"])

	p.Reset()
	assert.Zero(t, p.Scopes["octree"])
}

func TestProfilerTable(t *testing.T) {
	p := NewProfiler()
	fakeClock(p, time.Millisecond)
	p.BeginScope("submit")
	p.EndScope("submit")
	p.SetDetail("inject", 500*time.Microsecond)
	p.SetCount("frame", 7)

	table := p.Table()
	assert.Contains(t, table, "Stage")
	assert.Contains(t, table, "TOTAL")
	assert.Contains(t, table, "100.0 %")
	assert.Contains(t, table, "  inject")
	assert.Contains(t, table, "50.0 %")
	assert.Contains(t, table, "Counter")
	require.Contains(t, table, "frame")

	lines := strings.Split(strings.TrimSpace(p.Overlay()), "\n")
	assert.Equal(t, []string{"submit       1.00 ms", "  inject     0.50 ms", "frame        7"}, lines)
}
