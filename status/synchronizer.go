// Package status keeps an in-memory view of what the selected player is
// doing, refreshed by a single polling loop against the device client.
package status

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"bluhub/device"
	"bluhub/models"
)

// Synchronizer runs at most one polling loop at a time, keyed to the
// currently selected player. Switching targets is cancel-then-start: the old
// loop is fully stopped before the new one begins, and every poll response is
// tagged with the generation it was issued for so a late response from a
// cancelled loop can never overwrite the new target's status.
type Synchronizer struct {
	client   device.Client
	interval time.Duration
	logger   *log.Entry

	// selectMu serializes Select/Deselect so two target switches cannot
	// interleave their cancel-then-start sequences.
	selectMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	stopped chan struct{}
	target  *models.Player
	current *models.PlaybackStatus
}

func NewSynchronizer(client device.Client, interval time.Duration) *Synchronizer {
	return &Synchronizer{
		client:   client,
		interval: interval,
		logger: log.WithFields(log.Fields{
			"module": "status",
		}),
	}
}

// Select makes player the polling target. Any previous loop is cancelled and
// waited out first, then a fresh loop polls immediately and every interval
// after that.
func (s *Synchronizer) Select(player models.Player) {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.stopped = stopped
	s.target = &player
	s.current = nil
	s.mu.Unlock()

	s.logger.Debugf("selected player %s (%s)", player.ID, player.Address)
	go s.run(ctx, gen, player, stopped)
}

// Deselect stops polling. The last-known status is dropped with the target.
func (s *Synchronizer) Deselect() {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.stopLocked()

	s.mu.Lock()
	s.gen++
	s.target = nil
	s.current = nil
	s.mu.Unlock()
}

// stopLocked cancels the running loop and waits until it has fully exited.
// Callers hold selectMu.
func (s *Synchronizer) stopLocked() {
	s.mu.Lock()
	cancel := s.cancel
	stopped := s.stopped
	s.cancel = nil
	s.stopped = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
}

// Target returns the currently selected player, or nil.
func (s *Synchronizer) Target() *models.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return nil
	}
	t := *s.target
	return &t
}

// Current returns the last known status and whether it is stale. Status is
// stale when nothing was heard within twice the polling interval, when no
// poll has succeeded yet, or when no player is selected. A failed poll never
// erases the last-known-good status; it just ages into staleness.
func (s *Synchronizer) Current() (models.PlaybackStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return models.PlaybackStatus{State: models.StateUnknown}, true
	}
	stale := time.Since(s.current.CapturedAt) > 2*s.interval
	return *s.current, stale
}

func (s *Synchronizer) run(ctx context.Context, gen uint64, player models.Player, stopped chan struct{}) {
	defer close(stopped)

	logger := s.logger.WithFields(log.Fields{
		"method":  "run",
		"player":  player.ID,
		"address": player.Address,
	})

	s.poll(ctx, gen, player, logger)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Trace("polling loop cancelled")
			return
		case <-ticker.C:
			s.poll(ctx, gen, player, logger)
		}
	}
}

func (s *Synchronizer) poll(ctx context.Context, gen uint64, player models.Player, logger *log.Entry) {
	st, err := s.client.Query(ctx, player.Address)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Transient: the device is busy or briefly off the network. The next
		// tick retries at the normal rate, which doubles as liveness probing.
		logger.Warnf("status poll failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		logger.Trace("discarding poll response for stale target")
		return
	}
	s.current = &st
}
