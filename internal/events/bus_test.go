package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	bus, err := NewBus(rdb, Options{
		Namespace:     "test",
		Stream:        "generation_events",
		ConsumerGroup: "chef",
		BatchSize:     10,
		BlockTimeout:  -1,
		MaxLen:        1000,
	})
	require.NoError(t, err)
	return bus, mr
}

func costEvent(project string, amount float64) Event {
	m := blackboard.NewMoney(amount, "USD")
	return Event{Type: TypeImageGenerated, ProjectID: project, ArtifactID: "a1", Cost: &m, Count: 1}
}

func TestNewBus_Validation(t *testing.T) {
	_, err := NewBus(nil, Options{Namespace: "x"})
	assert.Error(t, err)
	_, err = NewBus(nil, Options{Stream: "s", ConsumerGroup: "g"})
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	bus, mr := setupBus(t)
	ctx := context.Background()

	t.Run("rejects invalid events", func(t *testing.T) {
		_, err := bus.Publish(ctx, Event{Type: "exploded", ProjectID: "p"})
		assert.Error(t, err)
		_, err = bus.Publish(ctx, Event{Type: TypeImageGenerated})
		assert.Error(t, err)
	})

	t.Run("appends to namespaced stream", func(t *testing.T) {
		id, err := bus.Publish(ctx, costEvent("proj-1", 0.5))
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, "reelforge:test:stream:generation_events", bus.Stream())

		entries, err := mr.Stream(bus.Stream())
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})
}

func TestReadOnce(t *testing.T) {
	bus, _ := setupBus(t)
	ctx := context.Background()
	require.NoError(t, bus.EnsureGroup(ctx))
	require.NoError(t, bus.EnsureGroup(ctx), "group creation is idempotent")

	t.Run("empty stream", func(t *testing.T) {
		n, err := bus.ReadOnce(ctx, "c1", func(context.Context, Event) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("delivers typed events and acks", func(t *testing.T) {
		_, err := bus.Publish(ctx, costEvent("proj-1", 0.5))
		require.NoError(t, err)
		_, err = bus.Publish(ctx, Event{Type: TypeShotCompleted, ProjectID: "proj-1", ShotID: "s1", Extra: map[string]string{"k": "v"}})
		require.NoError(t, err)

		var got []Event
		n, err := bus.ReadOnce(ctx, "c1", func(_ context.Context, e Event) error {
			got = append(got, e)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.Len(t, got, 2)
		assert.Equal(t, TypeImageGenerated, got[0].Type)
		require.NotNil(t, got[0].Cost)
		assert.Equal(t, 0.5, got[0].Cost.Amount)
		assert.NotEmpty(t, got[0].ID)
		assert.False(t, got[0].Timestamp.IsZero())
		assert.Equal(t, "v", got[1].Extra["k"])

		pending, err := bus.Pending(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), pending)
	})

	t.Run("handler error leaves event pending", func(t *testing.T) {
		_, err := bus.Publish(ctx, costEvent("proj-2", 1))
		require.NoError(t, err)

		n, err := bus.ReadOnce(ctx, "c1", func(context.Context, Event) error { return errors.New("board down") })
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		pending, err := bus.Pending(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), pending)
	})
}

func TestReadOnce_Redelivery(t *testing.T) {
	ctx := context.Background()
	failing := func(context.Context, Event) error { return errors.New("lock busy") }

	t.Run("failed event is retried by the same consumer", func(t *testing.T) {
		bus, _ := setupBus(t)
		require.NoError(t, bus.EnsureGroup(ctx))
		id, err := bus.Publish(ctx, costEvent("proj-1", 2))
		require.NoError(t, err)

		n, err := bus.ReadOnce(ctx, "c1", failing)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		var seen []string
		n, err = bus.ReadOnce(ctx, "c1", func(_ context.Context, e Event) error {
			seen = append(seen, e.ID)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{id}, seen)

		pending, err := bus.Pending(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), pending)

		n, err = bus.ReadOnce(ctx, "c1", func(context.Context, Event) error {
			t.Fatal("acknowledged event delivered again")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("idle event of another consumer is claimed", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		opts := Options{Namespace: "test", Stream: "generation_events", ConsumerGroup: "chef", BlockTimeout: -1}

		opts.ClaimMinIdle = -1
		crashed, err := NewBus(rdb, opts)
		require.NoError(t, err)
		opts.ClaimMinIdle = 5 * time.Millisecond
		survivor, err := NewBus(rdb, opts)
		require.NoError(t, err)

		require.NoError(t, crashed.EnsureGroup(ctx))
		_, err = crashed.Publish(ctx, costEvent("proj-1", 2))
		require.NoError(t, err)
		n, err := crashed.ReadOnce(ctx, "worker-old", failing)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		time.Sleep(20 * time.Millisecond)

		var got []Event
		n, err = survivor.ReadOnce(ctx, "worker-new", func(_ context.Context, e Event) error {
			got = append(got, e)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.Len(t, got, 1)
		assert.Equal(t, "proj-1", got[0].ProjectID)

		pending, err := survivor.Pending(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), pending)
	})

	t.Run("recent pending event is not claimed", func(t *testing.T) {
		bus, _ := setupBus(t)
		require.NoError(t, bus.EnsureGroup(ctx))
		_, err := bus.Publish(ctx, costEvent("proj-1", 2))
		require.NoError(t, err)
		_, err = bus.ReadOnce(ctx, "c1", failing)
		require.NoError(t, err)

		n, err := bus.ReadOnce(ctx, "c2", func(context.Context, Event) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestConsume_StopsOnCancel(t *testing.T) {
	bus, _ := setupBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	received := make(chan Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- bus.Consume(ctx, "c1", func(_ context.Context, e Event) error {
			received <- e
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		_, err := bus.Publish(context.Background(), costEvent("proj-1", 1))
		return err == nil
	}, time.Second, 10*time.Millisecond)

	select {
	case e := <-received:
		assert.Equal(t, "proj-1", e.ProjectID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not consumed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestTypeIsGeneration(t *testing.T) {
	assert.True(t, TypeVideoGenerated.IsGeneration())
	assert.False(t, TypeShotCompleted.IsGeneration())
	assert.False(t, TypeProjectStatusChanged.IsGeneration())
}
