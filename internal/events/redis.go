package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Pub/Sub channel prefix; events for auction X go to "<prefix>:X"
const DefaultChannel = "auctions"

// RedisPublisher publishes events over Redis Pub/Sub so other instances and
// services can observe committed bids.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher writing to channel-prefixed topics
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Channel returns the topic for an auction
func (p *RedisPublisher) Channel(auctionID string) string {
	return p.channel + ":" + auctionID
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, event BidEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}
	ch := p.Channel(event.AuctionID)
	if err := p.rdb.Publish(ctx, ch, payload).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", ch, err)
	}
	return nil
}
