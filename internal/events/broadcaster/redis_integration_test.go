//go:build integration

package broadcaster_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowgate/internal/events"
	"shadowgate/internal/events/broadcaster"
	"shadowgate/internal/platform/config"
	platformredis "shadowgate/internal/platform/redis"
	"shadowgate/pkg/testutil/containers"
)

func TestRedisBroadcastReachesSubscriber(t *testing.T) {
	url := containers.StartRedis(t)

	client, err := platformredis.New(config.RedisConfig{
		URL:          url,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	userID := "a3f8b6a0-8c1e-4f7a-9f0d-2f6f0c9f1b11"

	sub := client.Subscribe(ctx, broadcaster.Channel(userID))
	t.Cleanup(func() { _ = sub.Close() })
	// Block until the subscription is established before publishing.
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	b := broadcaster.NewRedis(client)
	at := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	event := events.New(userID, events.TypeSessionTerminated, events.SessionTerminatedPayload{
		SessionID: "d7e1f2a3-4b5c-6d7e-8f90-a1b2c3d4e5f6",
		Reason:    "suspicious_activity",
		Timestamp: at,
	}, at)
	require.NoError(t, b.Broadcast(ctx, event))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, broadcaster.Channel(userID), msg.Channel)

		var envelope struct {
			Type    events.Type `json:"type"`
			Payload struct {
				SessionID string `json:"sessionId"`
				Reason    string `json:"reason"`
			} `json:"payload"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
		assert.Equal(t, events.TypeSessionTerminated, envelope.Type)
		assert.Equal(t, "suspicious_activity", envelope.Payload.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestRedisHealth(t *testing.T) {
	url := containers.StartRedis(t)

	client, err := platformredis.New(config.RedisConfig{URL: url, DialTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NoError(t, client.Health(context.Background()))
}
