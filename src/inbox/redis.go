package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// enqueueScript appends to the list unless it is at capacity, in one step.
var enqueueScript = redis.NewScript(`
local cap = tonumber(ARGV[2])
if cap > 0 and redis.call('LLEN', KEYS[1]) >= cap then
	return -1
end
return redis.call('RPUSH', KEYS[1], ARGV[1])
`)

// Redis is an Inbox backed by a Redis list, so queued interactions survive
// a restart of the bus.
type Redis struct {
	client   redis.UniversalClient
	key      string
	capacity int
	now      func() time.Time
	logger   zerolog.Logger
}

// KeyFor returns the list key used for the inbox under prefix.
func KeyFor(prefix string) string {
	return prefix + "inbox"
}

// NewRedis creates a Redis-backed inbox on the list at key.
func NewRedis(client redis.UniversalClient, key string, capacity int, logger zerolog.Logger) *Redis {
	return &Redis{
		client:   client,
		key:      key,
		capacity: capacity,
		now:      time.Now,
		logger:   logger.With().Str("component", "redis-inbox").Logger(),
	}
}

func (r *Redis) Enqueue(ctx context.Context, in QueuedInteraction) (QueuedInteraction, error) {
	in = stamp(in, r.now())
	data, err := json.Marshal(in)
	if err != nil {
		return QueuedInteraction{}, fmt.Errorf("encode interaction: %w", err)
	}
	n, err := enqueueScript.Run(ctx, r.client, []string{r.key}, data, r.capacity).Int64()
	if err != nil {
		return QueuedInteraction{}, fmt.Errorf("enqueue interaction: %w", err)
	}
	if n < 0 {
		r.logger.Warn().Int("capacity", r.capacity).Str("client_id", in.ClientID).Msg("inbox full, rejecting interaction")
		return QueuedInteraction{}, ErrInboxFull
	}
	r.logger.Debug().Str("interaction_id", in.ID).Int64("depth", n).Msg("interaction queued")
	return in, nil
}

func (r *Redis) Drain(ctx context.Context, max int) ([]QueuedInteraction, error) {
	count := max
	if count <= 0 {
		n, err := r.client.LLen(ctx, r.key).Result()
		if err != nil {
			return nil, fmt.Errorf("inbox length: %w", err)
		}
		count = int(n)
	}
	if count == 0 {
		return nil, nil
	}

	raw, err := r.client.LPopCount(ctx, r.key, count).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drain inbox: %w", err)
	}
	return decodeAll(raw, r.logger), nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("inbox length: %w", err)
	}
	return int(n), nil
}

// decodeAll decodes list entries, skipping any that are not interactions.
func decodeAll(raw []string, logger zerolog.Logger) []QueuedInteraction {
	out := make([]QueuedInteraction, 0, len(raw))
	for _, s := range raw {
		var in QueuedInteraction
		if err := json.Unmarshal([]byte(s), &in); err != nil {
			logger.Error().Err(err).Msg("dropping undecodable inbox entry")
			continue
		}
		out = append(out, in)
	}
	return out
}
