package realtime

import (
	"testing"
	"time"
)

func testClient() *Client {
	return NewClient("wss://example.invalid/realtime/v1/websocket")
}

func TestPushSendRegistersReplyBindingRoutedViaChannelTrigger(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")

	var gotResponse any
	p := newPush(ch, "broadcast", func() map[string]any { return map[string]any{"type": "broadcast"} }, time.Second)
	p.receive(pushStatusOK, func(r any) { gotResponse = r })
	p.send()

	if p.ref == "" {
		t.Fatal("expected send to assign a ref")
	}

	ch.trigger(&Frame{Event: replyEvent, Ref: p.ref, Payload: map[string]any{"status": "ok", "response": map[string]any{"ok": true}}})

	if p.receivedStatus != pushStatusOK {
		t.Fatalf("expected resolved status ok, got %q", p.receivedStatus)
	}
	if gotResponse == nil {
		t.Fatal("expected ok hook to fire with the reply's response")
	}
}

func TestPushTimesOutAndSynthesizesTimeoutStatus(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")

	fired := make(chan string, 1)
	p := newPush(ch, "broadcast", func() map[string]any { return map[string]any{} }, 20*time.Millisecond)
	p.receive(pushStatusTimeout, func(any) { fired <- "timeout" })
	p.send()

	select {
	case s := <-fired:
		if s != "timeout" {
			t.Fatalf("unexpected hook firing: %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("push never timed out")
	}
}

func TestPushReceiveFiresImmediatelyIfAlreadyResolved(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	p := newPush(ch, "broadcast", func() map[string]any { return map[string]any{} }, time.Second)
	p.matchReceive(pushStatusOK, map[string]any{"k": "v"})

	called := false
	p.receive(pushStatusOK, func(any) { called = true })
	if !called {
		t.Fatal("expected immediate callback for an already-resolved status")
	}
}

func TestPushDestroyIsIdempotent(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	p := newPush(ch, "broadcast", func() map[string]any { return map[string]any{} }, time.Second)
	p.send()
	p.destroy()
	p.destroy()
}

func TestPushSendNoOpsAfterTimeout(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	p := newPush(ch, "broadcast", func() map[string]any { return map[string]any{} }, time.Second)
	p.matchReceive(pushStatusTimeout, map[string]any{"status": "timeout"})

	beforeRef := p.ref
	p.send()
	if p.ref != beforeRef {
		t.Fatal("send should no-op once a push has already timed out")
	}
}

func TestPushResendResetsTransientStateAndReassignsRef(t *testing.T) {
	ch := newChannel(testClient(), "room:lobby")
	p := newPush(ch, "broadcast", func() map[string]any { return map[string]any{} }, time.Second)
	p.send()
	firstRef := p.ref

	p.resend(time.Second)
	if p.ref == firstRef {
		t.Fatal("expected resend to allocate a fresh ref")
	}
	if p.haveResponse {
		t.Fatal("expected resend to clear any prior response")
	}
}
