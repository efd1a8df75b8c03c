// internal/chat/expiry.go

package chat

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically expires pending requests nobody handled within the
// TTL, so the shared queue never accumulates dead entries.
type Sweeper struct {
	service  Service
	interval time.Duration
	ttl      time.Duration
}

func NewSweeper(service Service, interval, ttl time.Duration) *Sweeper {
	return &Sweeper{service: service, interval: interval, ttl: ttl}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count, err := s.service.ExpireStaleRequests(ctx, s.ttl)
			if err != nil {
				log.Printf("Request expiry sweep failed: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("Expired %d stale chat requests", count)
			}

		case <-ctx.Done():
			return
		}
	}
}
