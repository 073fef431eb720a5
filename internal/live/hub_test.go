package live

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npezzotti/go-duochat/internal/stats"
	"github.com/npezzotti/go-duochat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func recvSnapshot(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	return 0
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "user:a1", UserTopic("a1"))
	assert.Equal(t, "chat:a1_b1", ChatTopic("a1_b1"))
}

func TestWatch(t *testing.T) {
	t.Run("delivers initial snapshot and refreshes on publish", func(t *testing.T) {
		hub := NewHub(testutil.TestLogger(t), nil)

		var calls atomic.Int32
		snapshots := make(chan int, 4)
		sub := Watch(hub, "user:a1",
			func(ctx context.Context) (int, error) {
				return int(calls.Add(1)), nil
			},
			func(ctx context.Context, v int) {
				snapshots <- v
			},
			nil,
		)
		defer sub.Unsubscribe()

		assert.Equal(t, 1, recvSnapshot(t, snapshots), "expected initial snapshot")

		hub.Publish("user:b1")
		select {
		case v := <-snapshots:
			t.Fatalf("unexpected snapshot %d for unrelated topic", v)
		case <-time.After(50 * time.Millisecond):
		}

		hub.Publish("user:a1")
		assert.Equal(t, 2, recvSnapshot(t, snapshots), "expected refreshed snapshot")

		hub.PublishAll()
		assert.Equal(t, 3, recvSnapshot(t, snapshots), "expected refreshed snapshot after PublishAll")
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		hub := NewHub(testutil.TestLogger(t), nil)

		snapshots := make(chan int, 4)
		sub := Watch(hub, "chat:a1_b1",
			func(ctx context.Context) (int, error) { return 1, nil },
			func(ctx context.Context, v int) { snapshots <- v },
			nil,
		)
		recvSnapshot(t, snapshots)

		sub.Unsubscribe()
		select {
		case <-sub.Done():
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for subscription to exit")
		}

		assert.Equal(t, 0, hub.count("chat:a1_b1"), "expected subscription to be removed")
		hub.Publish("chat:a1_b1")
		select {
		case <-snapshots:
			t.Fatal("unexpected snapshot after unsubscribe")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("query error ends the subscription", func(t *testing.T) {
		hub := NewHub(testutil.TestLogger(t), nil)

		queryErr := errors.New("query failed")
		errCh := make(chan error, 1)
		sub := Watch(hub, "user:a1",
			func(ctx context.Context) (int, error) { return 0, queryErr },
			func(ctx context.Context, v int) { t.Error("unexpected snapshot") },
			func(err error) { errCh <- err },
		)

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, queryErr)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for error")
		}

		<-sub.Done()
		assert.Equal(t, 0, hub.count("user:a1"), "expected failed subscription to be removed")
	})
}

func TestHubStats(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", activeSubscriptionsMetric).Once()
	su.On("Incr", activeSubscriptionsMetric).Once()
	su.On("Decr", activeSubscriptionsMetric).Once()

	hub := NewHub(testutil.TestLogger(t), su)
	sub := Watch(hub, "user:a1",
		func(ctx context.Context) (int, error) { return 1, nil },
		func(ctx context.Context, v int) {},
		nil,
	)
	sub.Unsubscribe()
	<-sub.Done()

	su.AssertCalled(t, "Decr", mock.Anything)
}
