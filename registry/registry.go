// Package registry holds the most recently discovered flat player set and a
// persistent seed cache so a restart can list players before the first sweep.
package registry

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"bluhub/database"
	"bluhub/device"
	"bluhub/models"
	"bluhub/sentry"
)

// Seed is a discovered network endpoint that might be a player. Discovery
// only learns location and advertised name; grouping state comes from a
// follow-up sync query against the device itself.
type Seed struct {
	Address string
	Name    string
	Model   string
}

type Discoverer interface {
	Discover(ctx context.Context) ([]Seed, error)
}

type Registry struct {
	client     device.Client
	discoverer Discoverer
	db         *database.Database
	logger     *log.Entry

	mu          sync.RWMutex
	players     []models.Player
	refreshedAt time.Time
	fromCache   bool
}

func New(client device.Client, discoverer Discoverer, db *database.Database) *Registry {
	return &Registry{
		client:     client,
		discoverer: discoverer,
		db:         db,
		logger: log.WithFields(log.Fields{
			"module": "registry",
		}),
	}
}

// LoadCache seeds the in-memory set from the persisted player cache. Cached
// players carry no grouping signal; the first Refresh replaces them.
func (r *Registry) LoadCache() error {
	cached, err := r.db.CachedPlayers()
	if err != nil {
		return err
	}

	players := make([]models.Player, 0, len(cached))
	for _, c := range cached {
		players = append(players, models.Player{
			ID:         c.PlayerID,
			Address:    c.Address,
			Name:       c.Name,
			Model:      c.Model,
			Brand:      c.Brand,
			MACAddress: c.MAC,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.players = players
	r.fromCache = true

	r.logger.Infof("seeded %d players from cache", len(players))
	return nil
}

// Players returns a copy of the current flat set, raw and ungrouped.
func (r *Registry) Players() []models.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Player, len(r.players))
	copy(out, r.players)
	return out
}

// FromCache reports whether the current set is a cache seed rather than the
// result of a network sweep.
func (r *Registry) FromCache() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fromCache
}

// RefreshedAt returns the time of the last successful sweep, zero if none.
func (r *Registry) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

// FindByID looks a player up in the current set.
func (r *Registry) FindByID(id string) (models.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.ID == id {
			return p, true
		}
	}
	return models.Player{}, false
}

// Refresh runs a full rediscovery: browse the network, query each found
// device for its identity and grouping signal, replace the in-memory set and
// upsert the persistent cache. A device that fails its sync query is skipped
// with a warning; partial results beat none.
func (r *Registry) Refresh(ctx context.Context) ([]models.Player, error) {
	logger := r.logger.WithField("method", "Refresh")

	seeds, err := r.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debugf("discovery found %d candidates", len(seeds))

	players := make([]models.Player, 0, len(seeds))
	cache := make([]database.CachedPlayer, 0, len(seeds))
	now := time.Now()

	for _, seed := range seeds {
		info, err := r.client.SyncStatus(ctx, seed.Address)
		if err != nil {
			logger.Warnf("sync query failed for %s (%s): %v", seed.Name, seed.Address, err)
			continue
		}

		name := info.Name
		if name == "" {
			name = seed.Name
		}
		model := info.Model
		if model == "" {
			model = seed.Model
		}

		players = append(players, models.Player{
			ID:            info.ID,
			Address:       seed.Address,
			Name:          name,
			Model:         model,
			Brand:         info.Brand,
			MACAddress:    info.MACAddress,
			Volume:        info.Volume,
			IsVolumeFixed: info.IsVolumeFixed,
			Signal:        info.Signal,
		})
		cache = append(cache, database.CachedPlayer{
			Address:  seed.Address,
			PlayerID: info.ID,
			Name:     name,
			Model:    model,
			Brand:    info.Brand,
			MAC:      info.MACAddress,
			LastSeen: now,
		})
	}

	if err := r.db.UpsertPlayerCache(cache); err != nil {
		// Storage trouble is unexpected, but the sweep itself succeeded.
		sentry.ReportError(err)
		logger.Errorf("failed to persist player cache: %v", err)
	}

	r.mu.Lock()
	r.players = players
	r.refreshedAt = now
	r.fromCache = false
	r.mu.Unlock()

	logger.Infof("refresh complete: %d players", len(players))
	return r.Players(), nil
}
