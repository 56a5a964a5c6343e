package realtime

import (
	"sync"
	"time"
)

const (
	pushStatusOK      = "ok"
	pushStatusError   = "error"
	pushStatusTimeout = "timeout"
)

type pushStatusHook struct {
	status string
	cb     func(response any)
}

// Push tracks a single in-flight request: its server reply, timeout, and
// status listeners. payloadFn is invoked lazily at send time so a buffered
// push carries the freshest access token. A Push is owned by its
// originating Channel and is destroyed on leave, teardown, or eviction from
// a full push_buffer.
type Push struct {
	mu sync.Mutex

	channel   *Channel
	event     string
	payloadFn func() map[string]any
	timeout   time.Duration

	ref      string
	refEvent string

	hooks []pushStatusHook

	receivedStatus   string
	receivedResponse any
	haveResponse     bool

	sent         bool
	timeoutTimer *time.Timer
	destroyed    bool
}

func newPush(ch *Channel, event string, payloadFn func() map[string]any, timeout time.Duration) *Push {
	return &Push{
		channel:   ch,
		event:     event,
		payloadFn: payloadFn,
		timeout:   timeout,
	}
}

// send publishes the push's frame through the channel's client. If a prior
// terminal "timeout" status has already been recorded, send is a no-op —
// sending is idempotent to failure.
func (p *Push) send() {
	p.mu.Lock()
	if p.haveResponse && p.receivedStatus == pushStatusTimeout {
		p.mu.Unlock()
		return
	}

	ref := p.channel.client.nextRef()
	p.ref = ref
	p.refEvent = channelReplyEventName(ref)
	p.sent = true
	p.mu.Unlock()

	p.channel.bindOnce(p.refEvent, func(status string, response any) {
		p.cancelTimeout()
		p.matchReceive(status, response)
	})

	p.startTimeout()

	payload := map[string]any{}
	if p.payloadFn != nil {
		payload = p.payloadFn()
	}

	p.channel.client.push(&Frame{
		JoinRef: p.channel.joinRef(),
		Ref:     ref,
		Topic:   p.channel.topic,
		Event:   p.event,
		Payload: payload,
	})
}

// receive registers a status hook. If a matching response is already
// recorded, the callback fires immediately. Returns the Push so callers can
// chain .receive("ok", ...).receive("error", ...).
func (p *Push) receive(status string, cb func(response any)) *Push {
	p.mu.Lock()
	if p.haveResponse && p.receivedStatus == status {
		resp := p.receivedResponse
		p.mu.Unlock()
		cb(resp)
		return p
	}
	p.hooks = append(p.hooks, pushStatusHook{status: status, cb: cb})
	p.mu.Unlock()
	return p
}

// resend cancels any current state and resends with a new timeout.
func (p *Push) resend(timeout time.Duration) {
	p.mu.Lock()
	p.cancelTimeoutLocked()
	p.ref = ""
	p.refEvent = ""
	p.receivedStatus = ""
	p.receivedResponse = nil
	p.haveResponse = false
	p.sent = false
	p.timeout = timeout
	p.mu.Unlock()

	p.send()
}

// destroy cancels the timeout, removes the ref-event binding, and releases
// hooks. Idempotent.
func (p *Push) destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	refEvent := p.refEvent
	p.cancelTimeoutLocked()
	p.hooks = nil
	p.mu.Unlock()

	if refEvent != "" {
		p.channel.unbind(refEvent)
	}
}

func (p *Push) startTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
	}
	p.timeoutTimer = time.AfterFunc(p.timeout, func() {
		p.channel.unbind(p.refEvent)
		p.matchReceive(pushStatusTimeout, map[string]any{"status": pushStatusTimeout})
	})
}

func (p *Push) cancelTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelTimeoutLocked()
}

func (p *Push) cancelTimeoutLocked() {
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
		p.timeoutTimer = nil
	}
}

// matchReceive resolves the push with a terminal status and fires every
// hook registered for that status, in registration order. Hooks whose
// status doesn't match stay registered in case of a subsequent resend.
func (p *Push) matchReceive(status string, response any) {
	p.mu.Lock()
	p.receivedStatus = status
	p.receivedResponse = response
	p.haveResponse = true
	var toFire []func(any)
	for _, h := range p.hooks {
		if h.status == status {
			toFire = append(toFire, h.cb)
		}
	}
	p.mu.Unlock()

	for _, cb := range toFire {
		cb(response)
	}
}

// currentRef reports the ref last assigned by send, or "" before the first
// send. Channel uses this for the join push specifically: its own ref IS the
// channel's join_ref for that join generation.
func (p *Push) currentRef() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ref
}

func channelReplyEventName(ref string) string {
	return "chan_reply_" + ref
}
