package ingest

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

// Scheduler refreshes the corpus on a cron schedule. A redis SetNX lock
// keeps multiple instances from ingesting concurrently; without redis the
// scheduler still runs, unsynchronized.
type Scheduler struct {
	Ingester *Ingester
	Schedule string
	Rdb      *redis.Client
	Logger   *log.Logger
	Stop     chan struct{}

	lastRun *time.Time
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if !isDue(s.Schedule, s.lastRun) {
		return
	}
	ctx := context.Background()
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, "ingest:lock", "1", 10*time.Minute).Result()
		if err != nil {
			s.Logger.Printf("ingest lock failed: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, "ingest:lock")
	}
	now := time.Now()
	s.lastRun = &now
	n, err := s.Ingester.Run(ctx)
	if err != nil {
		s.Logger.Printf("scheduled ingest failed after %d documents: %v", n, err)
		return
	}
	s.Logger.Printf("scheduled ingest stored %d documents", n)
}

// isDue reports whether the schedule should fire given the last run time.
// Supports "@daily", "@hourly" and standard cron expressions; an invalid
// expression degrades to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "":
		return false
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
