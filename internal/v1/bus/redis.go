// Package bus provides the optional cross-instance fan-out layer described
// in SPEC_FULL.md §4.I. A nil *Service is a valid, fully-functional
// single-instance no-op: every method on it degrades gracefully so Room
// code never has to special-case "no bus configured".
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ukunda/rdm/internal/v1/logging"
	"github.com/ukunda/rdm/internal/v1/metrics"
)

// Envelope is the container published on a room's fan-out channel.
type Envelope struct {
	RoomCode string          `json:"room_code"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"sender_id"`
}

// Service wraps a Redis pub/sub connection behind a circuit breaker.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewService dials Redis, verifies connectivity, and wraps it in a breaker.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "connected to redis bus", zap.String("addr", addr))
	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func channelFor(roomCode string) string {
	return fmt.Sprintf("watch-together:room:%s", roomCode)
}

// Publish fans a local Room event out to other instances watching roomCode.
// senderID is carried through so a peer instance can still exclude the
// originator from its own local re-broadcast (invariant 6 of spec §8).
func (s *Service) Publish(ctx context.Context, roomCode, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (any, error) {
		inner, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal bus payload: %w", err)
		}
		env := Envelope{RoomCode: roomCode, Event: event, Payload: inner, SenderID: senderID}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal bus envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, channelFor(roomCode), data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open, dropping publish", zap.String("room_code", roomCode))
			return nil
		}
		metrics.RedisOperationsTotal.WithLabelValues("publish", "error").Inc()
		logging.Error(ctx, "redis publish failed", zap.String("room_code", roomCode), zap.Error(err))
		return err
	}
	metrics.RedisOperationsTotal.WithLabelValues("publish", "success").Inc()
	return nil
}

// Subscribe starts a background goroutine delivering envelopes from other
// instances for roomCode until ctx is cancelled. wg is incremented before
// the goroutine starts and decremented when it returns, so callers can wait
// for a clean shutdown.
func (s *Service) Subscribe(ctx context.Context, roomCode string, wg *sync.WaitGroup, handler func(Envelope)) {
	if s == nil || s.client == nil {
		return
	}

	channel := channelFor(roomCode)
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		logging.Info(ctx, "subscribed to bus channel", zap.String("channel", channel))
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logging.Error(ctx, "bus envelope decode failed", zap.Error(err))
					continue
				}
				handler(env)
			}
		}
	}()
}

// Ping checks Redis connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
