// Package ratelimit implements the WS admission-control limiters described
// in SPEC_FULL.md §1.5, adapted from the teacher's RateLimiter. The teacher
// carries six named limiters (global/public/rooms/messages API tiers plus
// wsIP/wsUser); this system has no general HTTP API to protect beyond the
// small §6.2 admin surface, so only the two WS-admission limiters survive —
// everything else in the teacher's struct is unwired to any SPEC_FULL.md
// component and is dropped (see DESIGN.md).
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/nullwave/signalbroker/internal/v1/logging"
	"github.com/nullwave/signalbroker/internal/v1/metrics"
)

// Limiter holds the two WS admission-control rate limiters: one keyed by
// remote IP (checked before the handshake token is verified) and one keyed
// by peer identity (checked once the handshake is authenticated, ahead of
// the room join admission check — spec §4.6).
type Limiter struct {
	wsIP   *limiter.Limiter
	wsUser *limiter.Limiter
}

// New constructs a Limiter. When redisClient is non-nil the limiters share
// a Redis-backed store (so admission counts are consistent across broker
// instances); otherwise they fall back to an in-memory store, matching the
// teacher's redis-else-memory store selection.
func New(ipRate, userRate string, redisClient *redis.Client) (*Limiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(ipRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	wsUserRate, err := limiter.NewRateFromFormatted(userRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS user rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "signalbroker:ratelimit:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rate-limit store: %w", err)
		}
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store (Redis disabled)")
	}

	return &Limiter{
		wsIP:   limiter.New(store, wsIPRate),
		wsUser: limiter.New(store, wsUserRate),
	}, nil
}

// CheckIP enforces the per-remote-IP admission limit ahead of handshake
// token verification. On rejection it writes the 429 response itself and
// returns false so the caller aborts the upgrade.
func (l *Limiter) CheckIP(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	lc, err := l.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (ip)", zap.Error(err))
		return true // fail open: availability over strict enforcement
	}
	metrics.RateLimitRequests.WithLabelValues("ws_connect").Inc()

	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect", "ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(lc.Reset-time.Now().Unix(), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this address"})
		return false
	}
	return true
}

// CheckPeer enforces the per-peer-identity admission limit, called once
// the handshake token has been verified (spec §4.6 admission ordering:
// this runs ahead of the room join capacity check).
func (l *Limiter) CheckPeer(ctx context.Context, peerID string) error {
	lc, err := l.wsUser.Get(ctx, peerID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (peer)", zap.Error(err))
		return nil // fail open
	}
	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect", "peer").Inc()
		return fmt.Errorf("rate limit exceeded for peer %s", peerID)
	}
	return nil
}
