// ABOUTME: Background sync tag registry driven by upstream connectivity probes
// ABOUTME: Pending tags fire toward the first client once the upstream is reachable

package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Xevo88/shuna-gateway/internal/hub"
)

// DefaultTag is used when a sync registration names no tag.
const DefaultTag = "background-sync"

// defaultProbeInterval is used when no probe interval is configured.
const defaultProbeInterval = 30 * time.Second

// Probe checks upstream reachability. A nil error means online.
type Probe interface {
	Probe(ctx context.Context) error
}

// SyncHub is the subset of the event hub the syncer needs.
type SyncHub interface {
	SendFirst(event *hub.Event) (string, bool)
}

// Syncer holds registered sync tags and fires them when connectivity
// allows. A tag fires at most once per registration: it leaves the pending
// set only after a client has received it, so work survives offline spells
// and empty rooms.
type Syncer struct {
	probe    Probe
	hub      SyncHub
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending []string
	online  bool
}

// New creates a syncer. Zero interval means defaultProbeInterval; pass nil
// logger for default.
func New(probe Probe, syncHub SyncHub, interval time.Duration, logger *slog.Logger) *Syncer {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		probe:    probe,
		hub:      syncHub,
		interval: interval,
		logger:   logger.With("component", "syncer"),
	}
}

// Register queues a sync tag. An empty tag becomes DefaultTag; duplicate
// registrations collapse into one. When the upstream is already reachable
// the tag fires right away.
func (s *Syncer) Register(tag string) {
	if tag == "" {
		tag = DefaultTag
	}

	s.mu.Lock()
	for _, existing := range s.pending {
		if existing == tag {
			s.mu.Unlock()
			return
		}
	}
	s.pending = append(s.pending, tag)
	online := s.online
	s.mu.Unlock()

	s.logger.Debug("sync tag registered", "tag", tag, "online", online)

	if online {
		s.flush()
	}
}

// Registered returns the tags still waiting to fire.
func (s *Syncer) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.pending))
	copy(out, s.pending)
	return out
}

// Online reports the result of the last connectivity probe.
func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Run probes the upstream on the configured interval and fires pending
// tags whenever it is reachable. Blocks until ctx is canceled.
func (s *Syncer) Run(ctx context.Context) error {
	s.check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check runs one probe, logs connectivity transitions, and flushes pending
// tags while online.
func (s *Syncer) check(ctx context.Context) {
	err := s.probe.Probe(ctx)
	if ctx.Err() != nil {
		return
	}
	online := err == nil

	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()

	if online != was {
		if online {
			s.logger.Info("upstream reachable, connectivity restored")
		} else {
			s.logger.Warn("upstream unreachable, queueing sync work", "error", err)
		}
	}

	if online {
		s.flush()
	}
}

// flush delivers pending tags in registration order. Delivery needs a
// connected client; without one the tags stay pending for the next pass.
func (s *Syncer) flush() {
	s.mu.Lock()
	tags := make([]string, len(s.pending))
	copy(tags, s.pending)
	s.mu.Unlock()

	for _, tag := range tags {
		event, err := hub.NewEvent(hub.EventSync, map[string]string{"tag": tag})
		if err != nil {
			s.logger.Error("building sync event", "tag", tag, "error", err)
			continue
		}

		clientID, ok := s.hub.SendFirst(event)
		if !ok {
			s.logger.Debug("no clients connected, sync tag held", "tag", tag)
			return
		}

		s.remove(tag)
		s.logger.Info("sync fired", "tag", tag, "client_id", clientID)
	}
}

func (s *Syncer) remove(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.pending {
		if existing == tag {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
