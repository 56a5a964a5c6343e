package realtime

import (
	"errors"
	"testing"
	"time"
)

func TestChannelSubscribeJoinOKStampsPostgresChangesAndTransitionsJoined(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	filter := PostgresFilter{Event: "INSERT", Schema: "public", Table: "messages"}
	ch.OnPostgresChanges(filter, func(Payload) {})

	statuses := make(chan string, 4)
	if err := ch.Subscribe(func(status string, err error) { statuses <- status }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	joinRef := ch.joinRef()
	if joinRef == "" {
		t.Fatal("expected a join_ref to be assigned once the join push sends")
	}

	ch.trigger(&Frame{
		Event:   replyEvent,
		Ref:     joinRef,
		Topic:   "room:lobby",
		Payload: map[string]any{"status": "ok", "response": map[string]any{"postgres_changes": []any{map[string]any{"id": 1.0, "event": "INSERT", "schema": "public", "table": "messages", "filter": ""}}}},
	})

	select {
	case s := <-statuses:
		if s != "SUBSCRIBED" {
			t.Fatalf("expected SUBSCRIBED, got %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("never received SUBSCRIBED status")
	}

	if ch.State() != ChannelJoined {
		t.Fatalf("expected channel state joined, got %s", ch.State())
	}
	if ch.opts.PostgresChanges[0].ServerID == nil || *ch.opts.PostgresChanges[0].ServerID != 1 {
		t.Fatalf("expected server ID 1 stamped, got %+v", ch.opts.PostgresChanges[0])
	}
}

func TestChannelSubscribeTwiceReturnsAlreadyJoinedOnce(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	if err := ch.Subscribe(nil); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if err := ch.Subscribe(nil); !errors.Is(err, ErrAlreadyJoinedOnce) {
		t.Fatalf("expected ErrAlreadyJoinedOnce, got %v", err)
	}
}

func TestChannelPostgresChangesMismatchErrorsChannel(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	ch.OnPostgresChanges(PostgresFilter{Event: "INSERT", Schema: "public", Table: "messages"}, func(Payload) {})

	statuses := make(chan string, 4)
	var gotErr error
	ch.Subscribe(func(status string, err error) {
		statuses <- status
		gotErr = err
	})

	joinRef := ch.joinRef()
	ch.trigger(&Frame{
		Event: replyEvent,
		Ref:   joinRef,
		Topic: "room:lobby",
		Payload: map[string]any{"status": "ok", "response": map[string]any{
			"postgres_changes": []any{
				map[string]any{"id": 1.0, "event": "UPDATE", "schema": "public", "table": "messages", "filter": ""},
			},
		}},
	})

	select {
	case s := <-statuses:
		if s != "CHANNEL_ERROR" {
			t.Fatalf("expected CHANNEL_ERROR, got %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("never received CHANNEL_ERROR status")
	}
	if !errors.Is(gotErr, ErrPostgresChangesMismatch) {
		t.Fatalf("expected ErrPostgresChangesMismatch, got %v", gotErr)
	}
	if ch.State() != ChannelErrored {
		t.Fatalf("expected channel state errored, got %s", ch.State())
	}
}

func TestChannelPushBuffersUntilJoinedThenFlushes(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")

	p := ch.push("custom_event", func() map[string]any { return map[string]any{} }, time.Second)
	if p.sent {
		t.Fatal("expected push to buffer before the channel has joined")
	}

	ch.Subscribe(nil)
	ch.trigger(&Frame{Event: replyEvent, Ref: ch.joinRef(), Topic: "room:lobby", Payload: map[string]any{"status": "ok", "response": map[string]any{}}})

	if !p.sent {
		t.Fatal("expected buffered push to flush once the channel joined")
	}
}

func TestChannelBroadcastDispatchesToMatchingBinding(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	var got Payload
	ch.OnBroadcast("chat", func(p Payload) { got = p })

	ch.trigger(&Frame{
		Event: eventBroadcast,
		Topic: "room:lobby",
		Payload: map[string]any{
			"type":    "broadcast",
			"event":   "chat",
			"payload": map[string]any{"text": "hi"},
		},
	})

	if got.Broadcast == nil || got.Broadcast.Event != "chat" || got.Broadcast.Payload["text"] != "hi" {
		t.Fatalf("expected dispatched broadcast payload, got %+v", got)
	}
}

func TestChannelUnsubscribeWithoutJoinSynthesizesOK(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	p := ch.Unsubscribe()
	if p.receivedStatus != pushStatusOK {
		t.Fatalf("expected synthesized ok status, got %q", p.receivedStatus)
	}
	if ch.State() != ChannelClosed {
		t.Fatalf("expected channel closed after teardown, got %s", ch.State())
	}
}

func TestChannelPresenceDispatchViaTrigger(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	var synced int
	ch.Presence().OnSync(func() { synced++ })

	ch.trigger(&Frame{
		Event: eventPresenceState,
		Topic: "room:lobby",
		Payload: map[string]any{
			"u1": map[string]any{"metas": []any{map[string]any{"phx_ref": "a"}}},
		},
	})

	if synced != 1 {
		t.Fatalf("expected one sync callback, got %d", synced)
	}
	state := ch.Presence().State()
	if _, ok := state["u1"]; !ok {
		t.Fatalf("expected u1 present in presence state, got %v", state)
	}
}
