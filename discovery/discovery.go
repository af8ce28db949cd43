// Package discovery finds players on the local network via mDNS.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	log "github.com/sirupsen/logrus"

	"bluhub/config"
	"bluhub/registry"
)

// MDNS browses for the players' advertised service type and yields address
// seeds for the registry. It satisfies registry.Discoverer.
type MDNS struct {
	serviceType string
	domain      string
	timeout     time.Duration
	logger      *log.Entry
}

func NewMDNS(cfg config.DiscoveryConfig) *MDNS {
	return &MDNS{
		serviceType: cfg.ServiceType,
		domain:      cfg.Domain,
		timeout:     cfg.Timeout(),
		logger: log.WithFields(log.Fields{
			"module": "discovery",
		}),
	}
}

// Discover browses until the configured timeout (or ctx cancellation) and
// returns every player endpoint seen, in the order responses arrived.
func (m *MDNS) Discover(ctx context.Context) ([]registry.Seed, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []registry.Seed, 1)

	go func() {
		done <- m.collect(entries)
	}()

	if err := resolver.Browse(browseCtx, m.serviceType, m.domain, entries); err != nil {
		// Browse only closes entries once it has started; on this path it
		// never did, so close it ourselves or the collector leaks.
		close(entries)
		<-done
		return nil, fmt.Errorf("mDNS browse failed: %w", err)
	}

	// Browse closes the entries channel once browseCtx expires.
	<-browseCtx.Done()
	seeds := <-done

	m.logger.Infof("discovery found %d players", len(seeds))
	return seeds, nil
}

// collect drains the entries channel until it closes, deduplicating by
// address and keeping arrival order.
func (m *MDNS) collect(entries <-chan *zeroconf.ServiceEntry) []registry.Seed {
	var seeds []registry.Seed
	seen := make(map[string]bool)
	for entry := range entries {
		if entry == nil || len(entry.AddrIPv4) == 0 {
			continue
		}
		address := fmt.Sprintf("%s:%d", entry.AddrIPv4[0].String(), entry.Port)
		if seen[address] {
			continue
		}
		seen[address] = true

		m.logger.Debugf("discovered %s at %s", entry.Instance, address)
		seeds = append(seeds, registry.Seed{
			Address: address,
			Name:    entry.Instance,
			Model:   txtValue(entry.Text, "model"),
		})
	}
	return seeds
}

func txtValue(records []string, key string) string {
	prefix := key + "="
	for _, record := range records {
		if strings.HasPrefix(record, prefix) {
			return strings.TrimPrefix(record, prefix)
		}
	}
	return ""
}
