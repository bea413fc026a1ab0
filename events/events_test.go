package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markestedt/voicekey/inject"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(4)
	b, unsubB := bus.Subscribe(4)
	defer unsubB()

	bus.Publish(Event{Kind: ActivationStarted, SessionID: "s1"})

	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, ActivationStarted, ev.Kind)
		assert.False(t, ev.At.IsZero())
	}

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)

	bus.Publish(Event{Kind: ActivationResult, Text: "hi"})
	assert.Equal(t, "hi", (<-b).Text)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Kind: SessionState, State: "capturing"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestBusQueuesTerminalEventsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(Event{Kind: TriggerSignal, Signal: "activate"})
	bus.Publish(Event{Kind: InjectionFailed, Text: "hello world"})
	bus.Publish(Event{Kind: ActivationError, Text: "partial"})
	// Dropped: the subscriber is still behind.
	bus.Publish(Event{Kind: SessionState, State: "idle"})
	bus.Publish(Event{Kind: InjectionOutcome, Text: "last"})

	var got []Event
	for len(got) < 4 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events, want 4", len(got))
		}
	}
	kinds := []Kind{got[0].Kind, got[1].Kind, got[2].Kind, got[3].Kind}
	assert.Equal(t, []Kind{TriggerSignal, InjectionFailed, ActivationError, InjectionOutcome}, kinds)
	assert.Equal(t, "hello world", got[1].Text)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusUnsubscribeWithQueuedEvents(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(1)
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Kind: InjectionFailed, Text: "x"})
	}

	done := make(chan struct{})
	go func() {
		unsub()
		bus.Publish(Event{Kind: InjectionFailed})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe blocked on queued events")
	}
}

func TestLossyKinds(t *testing.T) {
	assert.True(t, Lossy(TriggerSignal))
	assert.True(t, Lossy(SessionState))
	for _, k := range []Kind{ActivationStarted, ActivationResult, ActivationError, ActivationCancelled, InjectionFailed, InjectionOutcome} {
		assert.False(t, Lossy(k), k)
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	bus.Close()
	unsub()
	_, open := <-ch
	assert.False(t, open)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestNATSForwarder(t *testing.T) {
	ns := startNATS(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs, err := sub.SubscribeSync(SubjectPrefix + ">")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	fwd, err := ConnectNATS(ns.ClientURL(), 2*time.Second)
	require.NoError(t, err)
	defer fwd.Close()
	assert.True(t, fwd.Healthy())

	bus := NewBus()
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fwd.Run(ctx, ch)

	bus.Publish(Event{
		Kind:      InjectionFailed,
		SessionID: "abc",
		Text:      "undelivered",
		Reason:    "all strategies exhausted",
		Injection: &inject.Outcome{Status: inject.Failed, Text: "undelivered"},
	})

	msg, err := msgs.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "voicekey.events.injection-failed", msg.Subject)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "abc", got.SessionID)
	assert.Equal(t, "undelivered", got.Text)
	require.NotNil(t, got.Injection)
	assert.Equal(t, inject.Failed, got.Injection.Status)
}

func TestConnectNATSFailure(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", 200*time.Millisecond)
	assert.Error(t, err)
}
