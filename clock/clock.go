// Package clock runs the periodic status-transition sweep: it advances every
// loaded election's lifecycle state based on wall-clock time and persists
// and publishes whatever changed (spec §4.5). The ticker/context.Done shape
// is grounded on services/otc-gateway/recon/scheduler.go's Start(ctx)
// method.
package clock

import (
	"context"
	"log/slog"
	"time"

	"github.com/criptocracia/ec/election"
)

// DefaultInterval is the sweep cadence spec §4.5 recommends.
const DefaultInterval = 30 * time.Second

// ElectionSource supplies the ids of live elections; relay.Dispatcher
// satisfies this. Only the ID field is read — it is immutable after an
// election is created, so it is safe to read from a pointer obtained
// without the dispatcher's lock.
type ElectionSource interface {
	Snapshot() []*election.Election
}

// StatusAdvancer advances one election's status under the dispatcher's own
// lock and, on a change, durably records and publishes it — the status
// clock never mutates an Election directly, since that would race with
// the event loop's own locked mutations (spec §5).
type StatusAdvancer interface {
	AdvanceStatus(ctx context.Context, electionID string, now int64) error
}

// Scheduler drives the periodic sweep.
type Scheduler struct {
	source   ElectionSource
	advance  StatusAdvancer
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// New constructs a Scheduler with DefaultInterval; override via
// WithInterval for tests.
func New(source ElectionSource, advance StatusAdvancer, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		source:   source,
		advance:  advance,
		interval: DefaultInterval,
		now:      time.Now,
		log:      log,
	}
}

// WithInterval overrides the sweep cadence.
func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	s.interval = d
	return s
}

// WithClock overrides the time source, for deterministic tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start runs the sweep on a ticker until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every loaded election id, asking the dispatcher
// to advance each one under its own lock. The clock itself never touches an
// Election's fields, so it never races the event loop's locked mutations
// (spec §5: "the status clock releases the lock between elections").
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now().Unix()
	for _, e := range s.source.Snapshot() {
		if err := s.advance.AdvanceStatus(ctx, e.ID, now); err != nil {
			s.log.Error("advance status failed", "error", err, "election_id", e.ID)
		}
	}
}
