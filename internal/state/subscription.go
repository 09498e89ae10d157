package state

import (
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Subscription wraps a Redis pub/sub subscription for one job's progress
// feed.
type Subscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

// Channel returns a channel that receives status snapshots as they are
// published. Malformed payloads are dropped.
func (s *Subscription) Channel() <-chan *Snapshot {
	snapCh := make(chan *Snapshot)

	go func() {
		defer close(snapCh)
		for msg := range s.ch {
			var snap Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				continue
			}
			snapCh <- &snap
		}
	}()

	return snapCh
}

// Close closes the subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
