package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEventKey = "joblog:events"
)

// RedisPublisher implements Publisher by appending events to a Redis list
type RedisPublisher struct {
	client *redis.Client
	key    string
	maxLen int64 // list is trimmed to the newest maxLen events. Zero keeps everything.
}

// NewRedisPublisher creates a new Redis event publisher
func NewRedisPublisher(addr, password string, db int, key string, maxLen int64) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	if key == "" {
		key = DefaultEventKey
	}
	return &RedisPublisher{client: client, key: key, maxLen: maxLen}, nil
}

// Key returns the list the events are appended to
func (r *RedisPublisher) Key() string {
	return r.key
}

// Publish appends an event to the list
func (r *RedisPublisher) Publish(ctx context.Context, event RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.key, data)
		if r.maxLen > 0 {
			pipe.LTrim(ctx, r.key, -r.maxLen, -1)
		}
		return nil
	})
	return err
}

// Subscribe pops events off the list and hands them to the handler until the context is
// cancelled. Each event is delivered to one subscriber only.
func (r *RedisPublisher) Subscribe(ctx context.Context, handler func(RunEvent)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			event, err := r.nextEvent(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error().
					Err(err).
					Msg("Error encountered when fetching event from redis")
				continue
			}
			if event == nil {
				continue
			}

			if err := processEvent(handler, *event); err != nil {
				log.Error().
					Err(err).
					Str("run_id", event.RunID).
					Msg("Error encountered when processing event")
			}
		}
	}
}

func (r *RedisPublisher) nextEvent(ctx context.Context) (*RunEvent, error) {
	result, err := r.client.BLPop(ctx, 1*time.Second, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No event available
			return nil, nil
		}
		return nil, fmt.Errorf("BLPOP from redis list went bad. %w", err)
	}

	// Invalid message, this shouldn't usually happen
	if len(result) < 2 {
		return nil, nil
	}

	var event RunEvent
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return nil, fmt.Errorf("could not parse message into RunEvent. %w", err)
	}
	return &event, nil
}

func processEvent(handler func(RunEvent), event RunEvent) (err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			log.Error().Interface("panic", rcv).Str("run_id", event.RunID).Msg("Handler panicked")

			err = fmt.Errorf("handler panicked: %v", rcv)
		}
	}()

	handler(event)
	return nil
}

// Close terminates the Redis connection
func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
