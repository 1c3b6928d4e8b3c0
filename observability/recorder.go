// Package observability holds the process counters reported by /health.
package observability

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Counter names shared by the services.
const (
	GamesCreated      = "games_created"
	RoundsStarted     = "rounds_started"
	RoundsEnded       = "rounds_ended"
	GuessesAccepted   = "guesses_accepted"
	GuessesCorrect    = "guesses_correct"
	TimerExpirations  = "timer_expirations"
	LobbyAutoStarts   = "lobby_auto_starts"
	BroadcastFailures = "broadcast_failures"
	StoreFailures     = "store_failures"
	ScoringFailures   = "scoring_failures"
	ArchiveFailures   = "archive_failures"
)

// Recorder is handed to every service that reports counters.
type Recorder interface {
	Incr(name string)
	Snapshot() map[string]int64
	Shutdown(ctx context.Context) error
}

type Counters struct {
	mu       sync.Mutex
	counts   map[string]int64
	started  time.Time
	shutdown bool
}

func New() *Counters {
	return &Counters{
		counts:  make(map[string]int64),
		started: time.Now(),
	}
}

func (c *Counters) Incr(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	c.counts[name]++
}

// Snapshot returns a copy of all counters plus the uptime in seconds.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.counts)+1)
	for k, v := range c.counts {
		out[k] = v
	}
	out["uptime_seconds"] = int64(time.Since(c.started).Seconds())
	return out
}

// Shutdown stops counting and logs the final values.
func (c *Counters) Shutdown(ctx context.Context) error {
	snapshot := c.Snapshot()

	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Printf("[Observability] %s=%d", name, snapshot[name])
	}
	return ctx.Err()
}

type nop struct{}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nop{} }

func (nop) Incr(string)                    {}
func (nop) Snapshot() map[string]int64     { return map[string]int64{} }
func (nop) Shutdown(context.Context) error { return nil }
