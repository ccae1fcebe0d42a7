package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type NamespaceSuite struct {
	suite.Suite
	clock *fakeClock
	ns    *Namespace[[]byte]
}

func (s *NamespaceSuite) SetupTest() {
	s.clock = newFakeClock()
	s.ns = NewNamespace[[]byte]("customers", time.Minute, WithClock(s.clock.Now))
}

func TestNamespaceSuite(t *testing.T) {
	suite.Run(t, new(NamespaceSuite))
}

func (s *NamespaceSuite) TestHitReturnsStoredBytes() {
	payload := []byte(`{"stage":4,"phoneNumber":"5551234567"}`)
	s.ns.Set("5551234567", payload)

	got, ok := s.ns.Get("5551234567")
	s.True(ok)
	s.Equal(payload, got)
	s.Equal(int64(1), s.ns.Hits("5551234567"))

	_, ok = s.ns.Get("5551234567")
	s.True(ok)
	s.Equal(int64(2), s.ns.Hits("5551234567"))
}

func (s *NamespaceSuite) TestExpiredEntryIsNotReturnedBeforeSweep() {
	s.ns.Set("k", []byte("v"))
	s.clock.Advance(time.Minute)

	_, ok := s.ns.Get("k")
	s.False(ok)
	// Expired but unswept entries still occupy memory until the sweeper runs.
	s.Equal(1, s.ns.Stats().Entries)
	s.Equal(1, s.ns.Sweep())
	s.Equal(0, s.ns.Stats().Entries)
}

func (s *NamespaceSuite) TestMissDoesNotMutate() {
	_, ok := s.ns.Get("missing")
	s.False(ok)
	st := s.ns.Stats()
	s.Equal(0, st.Entries)
	s.Equal(int64(0), st.Hits)
	s.Equal(int64(1), st.Misses)
}

func (s *NamespaceSuite) TestSetOverwritesAndResetsAge() {
	s.ns.Set("k", []byte("old"))
	s.clock.Advance(50 * time.Second)
	s.ns.Set("k", []byte("new"))
	s.clock.Advance(50 * time.Second)

	got, ok := s.ns.Get("k")
	s.True(ok)
	s.Equal([]byte("new"), got)
}

func (s *NamespaceSuite) TestSetIfAbsent() {
	s.True(s.ns.SetIfAbsent("k", []byte("a")))
	s.False(s.ns.SetIfAbsent("k", []byte("b")))

	got, _ := s.ns.Get("k")
	s.Equal([]byte("a"), got)

	s.clock.Advance(time.Minute)
	s.True(s.ns.SetIfAbsent("k", []byte("c")))
}

func (s *NamespaceSuite) TestSweepKeepsLiveEntries() {
	s.ns.Set("old", []byte("1"))
	s.clock.Advance(40 * time.Second)
	s.ns.Set("young", []byte("2"))
	s.clock.Advance(30 * time.Second)

	s.Equal(1, s.ns.Sweep())
	_, ok := s.ns.Get("young")
	s.True(ok)
}

func TestSetIfAbsentIsAtomic(t *testing.T) {
	ns := NewNamespace[struct{}]("ringing", time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ns.SetIfAbsent("101|9912", struct{}{}) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSweeperCoversAllNamespaces(t *testing.T) {
	clock := newFakeClock()
	customers := NewNamespace[[]byte]("customers", 30*time.Minute, WithClock(clock.Now))
	ringing := NewNamespace[struct{}]("ringing", 30*time.Second, WithClock(clock.Now))
	saved := NewNamespace[struct{}]("saved", 2*time.Hour, WithClock(clock.Now))

	customers.Set("5551234567", []byte("{}"))
	ringing.Set("101|1", struct{}{})
	saved.Set("1", struct{}{})

	sw := NewSweeper(time.Hour, customers, ringing, saved)
	clock.Advance(time.Minute)
	assert.Equal(t, 1, sw.SweepOnce())

	clock.Advance(time.Hour)
	assert.Equal(t, 1, sw.SweepOnce())
	assert.Equal(t, 1, saved.Stats().Entries)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	ns := NewNamespace[int]("n", time.Nanosecond, WithClock(clock.Now))
	ns.Set("a", 1)
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(5*time.Millisecond, ns).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ns.Stats().Entries == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
