package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/copperline/stile/pkg/observability"
)

const defaultRelayStateTTL = 10 * time.Minute

// ErrRelayStateNotFound means the relay state token is unknown, expired, or
// already consumed.
var ErrRelayStateNotFound = errors.New("relay state not found")

// RelayState is the login context carried across the round trip to the IdP
type RelayState struct {
	Provider  string    `json:"provider"`
	ReturnURL string    `json:"return_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RelayStateStore keeps relay states in Redis so any instance can complete a
// login another instance started. Tokens are single-use.
type RelayStateStore struct {
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewRelayStateStore creates a Redis-backed relay state store
func NewRelayStateStore(redisClient *redis.Client, ttl time.Duration, metrics *observability.Metrics) *RelayStateStore {
	if ttl == 0 {
		ttl = defaultRelayStateTTL
	}
	return &RelayStateStore{
		redis:   redisClient,
		ttl:     ttl,
		metrics: metrics,
	}
}

// Create stores a relay state and returns its opaque token
func (s *RelayStateStore) Create(ctx context.Context, state *RelayState) (string, error) {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encoding relay state: %w", err)
	}

	token := uuid.New().String()
	if err := s.redis.Set(ctx, s.key(token), payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("storing relay state: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RelayStatesCreated.Inc()
	}
	return token, nil
}

// Consume retrieves and deletes a relay state in one step
func (s *RelayStateStore) Consume(ctx context.Context, token string) (*RelayState, error) {
	payload, err := s.redis.GetDel(ctx, s.key(token)).Bytes()
	if err == redis.Nil {
		s.recordConsume("miss")
		return nil, ErrRelayStateNotFound
	} else if err != nil {
		s.recordConsume("error")
		return nil, fmt.Errorf("fetching relay state: %w", err)
	}

	var state RelayState
	if err := json.Unmarshal(payload, &state); err != nil {
		s.recordConsume("error")
		return nil, fmt.Errorf("decoding relay state: %w", err)
	}

	s.recordConsume("hit")
	return &state, nil
}

func (s *RelayStateStore) key(token string) string {
	return "relaystate:" + token
}

func (s *RelayStateStore) recordConsume(status string) {
	if s.metrics != nil {
		s.metrics.RelayStatesConsumed.WithLabelValues(status).Inc()
	}
}
