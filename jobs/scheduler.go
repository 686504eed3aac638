// Package jobs runs periodic maintenance for the chat service.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	TypingExpirySpec  = "@every 1s"
	MirrorResyncSpec  = "@every 1m"
	ActivityFlushSpec = "@every 5s"
)

// TypingExpirer ends typing indicators that were not refreshed.
type TypingExpirer interface {
	ExpireTyping() int
}

// MirrorResyncer republishes presence state to the external mirror.
type MirrorResyncer interface {
	Resync()
}

// ActivityFlusher writes pending room activity to the room store.
type ActivityFlusher interface {
	FlushActivity(ctx context.Context) int
}

type Scheduler struct {
	cron     *cron.Cron
	typing   TypingExpirer
	mirror   MirrorResyncer
	activity ActivityFlusher
}

// NewScheduler registers the jobs. mirror and activity may be nil.
func NewScheduler(typing TypingExpirer, mirror MirrorResyncer, activity ActivityFlusher) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		typing:   typing,
		mirror:   mirror,
		activity: activity,
	}

	if _, err := s.cron.AddFunc(TypingExpirySpec, s.expireTyping); err != nil {
		return nil, fmt.Errorf("schedule typing expiry: %w", err)
	}
	if mirror != nil {
		if _, err := s.cron.AddFunc(MirrorResyncSpec, s.resyncMirror); err != nil {
			return nil, fmt.Errorf("schedule mirror resync: %w", err)
		}
	}
	if activity != nil {
		if _, err := s.cron.AddFunc(ActivityFlushSpec, s.flushActivity); err != nil {
			return nil, fmt.Errorf("schedule activity flush: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) expireTyping() {
	if n := s.typing.ExpireTyping(); n > 0 {
		log.Printf("[WORKER] Expired %d typing indicators", n)
	}
}

func (s *Scheduler) resyncMirror() {
	s.mirror.Resync()
}

func (s *Scheduler) flushActivity() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if n := s.activity.FlushActivity(ctx); n > 0 {
		log.Printf("[WORKER] Flushed activity of %d rooms", n)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[WORKER] Scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Printf("[WORKER] Scheduler stop timed out: %v", ctx.Err())
	}
}
