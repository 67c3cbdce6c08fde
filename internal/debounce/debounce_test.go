package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	got []string
}

func (c *collector) add(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, v)
}

func (c *collector) values() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestTrailingCoalescesBurst(t *testing.T) {
	c := &collector{}
	d := New(Policy{Interval: 30 * time.Millisecond, Trailing: true}, c.add)

	d.Trigger("a")
	d.Trigger("ab")
	d.Trigger("abc")
	require.True(t, d.Pending())

	require.Eventually(t, func() bool { return len(c.values()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, []string{"abc"}, c.values())
	require.False(t, d.Pending())
}

func TestLeadingDropsInsideWindow(t *testing.T) {
	c := &collector{}
	d := New(Policy{Interval: time.Hour}, c.add)

	d.Trigger("first")
	d.Trigger("second")

	require.Eventually(t, func() bool { return len(c.values()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"first"}, c.values())
}

func TestImmediatePolicyIsSynchronous(t *testing.T) {
	c := &collector{}
	d := New(Immediate, c.add)
	d.Trigger("x")
	d.Trigger("y")
	require.Equal(t, []string{"x", "y"}, c.values())
}

func TestFlushDeliversPendingValue(t *testing.T) {
	c := &collector{}
	d := New(Policy{Interval: time.Hour, Trailing: true}, c.add)

	require.False(t, d.Flush())
	d.Trigger("v1")
	require.True(t, d.Flush())
	require.Equal(t, []string{"v1"}, c.values())
	require.False(t, d.Pending())
}

func TestStopCancelsPending(t *testing.T) {
	c := &collector{}
	d := New(Policy{Interval: 10 * time.Millisecond, Trailing: true}, c.add)

	d.Trigger("lost")
	d.Stop()
	d.Trigger("ignored")
	time.Sleep(40 * time.Millisecond)
	require.Empty(t, c.values())
	require.False(t, d.Flush())
}
