package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweepable is anything the sweeper can evict stale entries from.
type Sweepable interface {
	Name() string
	Sweep() int
}

// Sweeper evicts expired entries from all targets at a fixed interval,
// independent of reads.
type Sweeper struct {
	interval time.Duration
	targets  []Sweepable
}

// NewSweeper creates a Sweeper over targets.
func NewSweeper(interval time.Duration, targets ...Sweepable) *Sweeper {
	return &Sweeper{interval: interval, targets: targets}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs a single pass over all targets and returns the total
// number of evicted entries.
func (s *Sweeper) SweepOnce() int {
	total := 0
	for _, t := range s.targets {
		n := t.Sweep()
		if n > 0 {
			log.Debug().Str("namespace", t.Name()).Int("evicted", n).Msg("cache sweep")
		}
		total += n
	}
	return total
}
