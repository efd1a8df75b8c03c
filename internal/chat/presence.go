// internal/chat/presence.go
// Presence registry: a principal is online iff at least one real-time
// channel is open. Nothing survives a restart; everyone starts offline.

package chat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

type Presence interface {
	NoteOnline(ctx context.Context, userID string)
	NoteOffline(ctx context.Context, userID string)
	// Touch refreshes liveness for backends that expire entries.
	Touch(ctx context.Context, userID string)
	IsOnline(ctx context.Context, userID string) bool
}

// redisPresence keeps a per-user open-channel counter with a TTL, refreshed
// by the hub's ping cycle, so a crashed instance's entries age out.
type redisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresence(client *redis.Client, ttl time.Duration) Presence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &redisPresence{client: client, ttl: ttl}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("chat:online:%s", userID)
}

func (p *redisPresence) NoteOnline(ctx context.Context, userID string) {
	key := presenceKey(userID)
	pipe := p.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Presence: failed to mark %s online: %v", userID, err)
	}
}

func (p *redisPresence) NoteOffline(ctx context.Context, userID string) {
	key := presenceKey(userID)
	remaining, err := p.client.Decr(ctx, key).Result()
	if err != nil {
		log.Printf("Presence: failed to mark %s offline: %v", userID, err)
		return
	}
	if remaining <= 0 {
		p.client.Del(ctx, key)
	}
}

func (p *redisPresence) Touch(ctx context.Context, userID string) {
	p.client.Expire(ctx, presenceKey(userID), p.ttl)
}

func (p *redisPresence) IsOnline(ctx context.Context, userID string) bool {
	count, err := p.client.Get(ctx, presenceKey(userID)).Int64()
	if err != nil {
		return false
	}
	return count > 0
}

// memoryPresence is the process-local registry used when Redis is not
// configured, and by tests.
type memoryPresence struct {
	mu       sync.RWMutex
	channels map[string]int
}

func NewMemoryPresence() Presence {
	return &memoryPresence{channels: make(map[string]int)}
}

func (p *memoryPresence) NoteOnline(ctx context.Context, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[userID]++
}

func (p *memoryPresence) NoteOffline(ctx context.Context, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channels[userID] <= 1 {
		delete(p.channels, userID)
		return
	}
	p.channels[userID]--
}

func (p *memoryPresence) Touch(ctx context.Context, userID string) {}

func (p *memoryPresence) IsOnline(ctx context.Context, userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channels[userID] > 0
}
