// Package bus implements the optional cross-instance domain-event mirror
// described in spec §9: when multiple broker instances sit behind the same
// room, each instance publishes a copy of its locally-produced domain
// events to a room channel so sibling instances can re-broadcast them to
// their own locally-connected sockets. This is an additive extension, never
// load-bearing — a single-instance deployment runs with Service nil and
// every method degrades to a no-op.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nullwave/signalbroker/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Envelope is the standardized container for mirroring a domain event
// between broker instances. SenderID lets a receiving instance recognize
// and discard its own echo.
type Envelope struct {
	RoomID   string          `json:"roomId"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// Service handles all interaction with the Redis cluster.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a robust Redis connection with automatic retries.
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
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
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

	slog.Info("connected to Redis event bus", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// channel returns the mirroring channel for a room: "signal:room:<roomId>".
func channel(roomID string) string {
	return fmt.Sprintf("signal:room:%s", roomID)
}

// Publish mirrors one domain event to the room's channel for sibling
// instances. senderID is echoed back in the envelope so the receiving
// instance's Subscribe loop can suppress events it published itself.
func (s *Service) Publish(ctx context.Context, roomID, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inner payload: %w", err)
		}

		msg := Envelope{RoomID: roomID, Event: event, Payload: innerBytes, SenderID: senderID}
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, channel(roomID), data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: dropping publish", "roomID", roomID)
			return nil
		}
		slog.Error("redis publish failed", "roomID", roomID, "error", err)
		return err
	}
	return nil
}

// Subscribe starts a background goroutine that listens for mirrored events
// from sibling instances on roomID's channel and returns immediately; the
// goroutine exits when ctx is cancelled or the subscription channel closes.
// handler receives every decoded envelope, including this instance's own
// publishes; the caller skips its own echoes by the envelope's SenderID.
func (s *Service) Subscribe(ctx context.Context, roomID string, wg *sync.WaitGroup, handler func(Envelope)) {
	if s == nil || s.client == nil {
		return
	}

	ch := channel(roomID)
	pubsub := s.client.Subscribe(ctx, ch)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("subscribed to redis channel", "channel", ch)
		msgs := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("redis subscription channel closed", "channel", ch)
					return
				}

				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Error("failed to unmarshal mirrored event", "error", err, "raw", msg.Payload)
					continue
				}
				handler(env)
			}
		}
	}()
}

// Ping checks Redis connectivity. Used by the readiness health check.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
