// Package state broadcasts live job status through an expiring key/value
// store. Publishing is best effort: a lost update must never fail the job,
// so failures are logged and swallowed. In-memory state inside the
// scheduler stays authoritative until the store recovers.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/tubeget/tubeget/internal/errors"
	"github.com/tubeget/tubeget/internal/job"
	"github.com/tubeget/tubeget/internal/logger"
)

const (
	keyStatus   = "status:"
	keySpeed    = "speed:"
	keyProgress = "progress:"

	// Status snapshots outlive a polling client's refresh interval by a
	// wide margin; speed samples are perishable and expire quickly. A
	// missing speed sample means "unknown", not zero.
	StatusTTL = time.Hour
	SpeedTTL  = 5 * time.Minute
)

// Snapshot is the externally visible state of one job at one moment.
type Snapshot struct {
	Status    job.Status `json:"status"`
	Progress  float64    `json:"progress"`
	Speed     *float64   `json:"speed,omitempty"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SpeedSample is one transfer-rate observation.
type SpeedSample struct {
	BytesPerSec float64   `json:"bytes_per_second"`
	SampledAt   time.Time `json:"sampled_at"`
}

// Publisher writes snapshots to Redis with per-key expiry.
type Publisher struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to Redis at the given address.
func New(addr string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Publisher {
	return &Publisher{
		client: client,
		log:    logger.Default().WithComponent("state"),
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishStatus writes the status snapshot for a job and feeds the live
// progress channel.
func (p *Publisher) PublishStatus(ctx context.Context, jobID string, snap Snapshot) {
	snap.UpdatedAt = time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		p.log.Error(ctx, "failed to marshal status snapshot", err)
		return
	}

	if err := p.client.Set(ctx, keyStatus+jobID, data, StatusTTL).Err(); err != nil {
		p.log.Error(ctx, "status publish failed",
			apperrors.PublishError("status write failed").WithCause(err),
			map[string]interface{}{"job_id": jobID})
		return
	}

	// Live feed for subscribers; the keyed snapshot above remains the
	// authoritative read path.
	if err := p.client.Publish(ctx, keyProgress+jobID, data).Err(); err != nil {
		p.log.Debug(ctx, "progress publish failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}
}

// PublishSpeed writes a transfer-rate sample for a job.
func (p *Publisher) PublishSpeed(ctx context.Context, jobID string, bytesPerSec float64) {
	sample := SpeedSample{
		BytesPerSec: bytesPerSec,
		SampledAt:   time.Now(),
	}

	data, err := json.Marshal(sample)
	if err != nil {
		p.log.Error(ctx, "failed to marshal speed sample", err)
		return
	}

	if err := p.client.Set(ctx, keySpeed+jobID, data, SpeedTTL).Err(); err != nil {
		p.log.Debug(ctx, "speed publish failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}
}

// ReadStatus returns the latest status snapshot for a job, or false when
// none is stored (expired or never published).
func (p *Publisher) ReadStatus(ctx context.Context, jobID string) (*Snapshot, bool) {
	data, err := p.client.Get(ctx, keyStatus+jobID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.log.Warn(ctx, "status read failed", map[string]interface{}{
				"job_id": jobID,
				"error":  err.Error(),
			})
		}
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

// ReadSpeed returns the latest speed sample for a job, or false when the
// sample expired or was never published.
func (p *Publisher) ReadSpeed(ctx context.Context, jobID string) (*SpeedSample, bool) {
	data, err := p.client.Get(ctx, keySpeed+jobID).Result()
	if err != nil {
		return nil, false
	}

	var sample SpeedSample
	if err := json.Unmarshal([]byte(data), &sample); err != nil {
		return nil, false
	}
	return &sample, true
}

// Subscribe returns a live progress subscription for one job.
func (p *Publisher) Subscribe(ctx context.Context, jobID string) *Subscription {
	pubsub := p.client.Subscribe(ctx, keyProgress+jobID)
	return &Subscription{
		pubsub: pubsub,
		ch:     pubsub.Channel(),
	}
}
