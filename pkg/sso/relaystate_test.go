package sso

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelayStore(t *testing.T) (*RelayStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRelayStateStore(client, time.Minute, nil), mr
}

func TestRelayStateRoundTrip(t *testing.T) {
	store, _ := newTestRelayStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, &RelayState{
		Provider:  "okta",
		ReturnURL: "https://studio.example.com/desk",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	state, err := store.Consume(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "okta", state.Provider)
	assert.Equal(t, "https://studio.example.com/desk", state.ReturnURL)
	assert.False(t, state.CreatedAt.IsZero())
}

func TestRelayStateSingleUse(t *testing.T) {
	store, _ := newTestRelayStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, &RelayState{Provider: "okta"})
	require.NoError(t, err)

	_, err = store.Consume(ctx, token)
	require.NoError(t, err)

	_, err = store.Consume(ctx, token)
	assert.ErrorIs(t, err, ErrRelayStateNotFound)
}

func TestRelayStateUnknownToken(t *testing.T) {
	store, _ := newTestRelayStore(t)

	_, err := store.Consume(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrRelayStateNotFound)
}

func TestRelayStateExpiry(t *testing.T) {
	store, mr := newTestRelayStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, &RelayState{Provider: "okta"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Consume(ctx, token)
	assert.ErrorIs(t, err, ErrRelayStateNotFound)
}
