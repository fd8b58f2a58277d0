package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := Subscribe[SubscriberStateChanged](b, 1)
	defer unsubscribe()

	require.NoError(t, b.Publish(context.Background(), SubscriberStateChanged{Group: "g", To: StateRunning}))

	select {
	case got := <-ch:
		require.Equal(t, StateRunning, got.To)
	case <-time.After(250 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_InterfaceSubscriptionReceivesConcreteEvents(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := Subscribe[Event](b, 2)
	defer unsubscribe()

	require.NoError(t, b.Publish(context.Background(), SubscriberStateChanged{Group: "g", Consumer: "c"}))
	require.NoError(t, b.Publish(context.Background(), MessageDeadLettered{Group: "g", Consumer: "c", Stream: "s"}))

	for i := 0; i < 2; i++ {
		select {
		case got := <-ch:
			require.Equal(t, "g/c", got.SubscriberKey())
		case <-time.After(250 * time.Millisecond):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBus_PublishBackpressure(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, unsubscribe := Subscribe[SubscriberStateChanged](b, 0)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := b.Publish(ctx, SubscriberStateChanged{})
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
}

func TestBus_UnsubscribeAndClose(t *testing.T) {
	b := NewBus()

	_, unsubscribe := Subscribe[SubscriberStateChanged](b, 1)
	require.Equal(t, 1, SubscriberCount[SubscriberStateChanged](b))
	unsubscribe()
	require.Zero(t, SubscriberCount[SubscriberStateChanged](b))

	ch, _ := Subscribe[SubscriberStateChanged](b, 1)
	b.Close()
	_, ok := <-ch
	require.False(t, ok)
	require.Error(t, b.Publish(context.Background(), SubscriberStateChanged{}))

	var nilBus *Bus
	require.NoError(t, nilBus.Publish(context.Background(), SubscriberStateChanged{}))
}

func TestReadiness(t *testing.T) {
	b := NewBus()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReadiness()
	r.Run(ctx, b)
	require.False(t, r.Ready())

	publish := func(consumer string, to State) {
		require.NoError(t, b.Publish(ctx, SubscriberStateChanged{Group: "g", Consumer: consumer, To: to}))
	}
	publish("c1", StateRegisteringGroups)
	publish("c1", StateRunning)
	require.Eventually(t, r.Ready, time.Second, 5*time.Millisecond)

	publish("c2", StateCreated)
	require.Eventually(t, func() bool { return !r.Ready() }, time.Second, 5*time.Millisecond)

	publish("c2", StateRunning)
	publish("c1", StateStopped)
	require.Eventually(t, func() bool { return r.States()["g/c1"] == StateStopped }, time.Second, 5*time.Millisecond)
	require.False(t, r.Ready())
}
