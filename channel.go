package realtime

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Protocol event names, matching the wire vocabulary used throughout codec.go
// and push.go. replyEvent ("phx_reply") lives in codec.go since the codec
// itself special-cases it for binary framing.
const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventClose           = "phx_close"
	eventErrorEvt        = "phx_error"
	eventBroadcast       = "broadcast"
	eventPresence        = "presence"
	eventPresenceState   = "presence_state"
	eventPresenceDiff    = "presence_diff"
	eventPostgresChanges = "postgres_changes"
	eventSystem          = "system"
)

const (
	defaultPushTimeout = 10 * time.Second
	pushBufferCap      = 100
)

// ChannelState is the channel's join state machine, per the protocol's
// closed -> joining -> joined/errored -> leaving -> closed lifecycle.
type ChannelState int

const (
	ChannelClosed ChannelState = iota
	ChannelErrored
	ChannelJoining
	ChannelJoined
	ChannelLeaving
)

func (s ChannelState) String() string {
	switch s {
	case ChannelClosed:
		return "closed"
	case ChannelErrored:
		return "errored"
	case ChannelJoining:
		return "joining"
	case ChannelJoined:
		return "joined"
	case ChannelLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// BroadcastOptions configures the channel's own broadcast behavior,
// negotiated in the join payload's config.broadcast block.
type BroadcastOptions struct {
	// Ack, when true, makes the server wait for persistence before replying
	// to a broadcast push.
	Ack bool
	// Self, when true, echoes the sender's own broadcasts back to it.
	Self bool
}

// PresenceOptions configures presence tracking, negotiated in the join
// payload's config.presence block.
type PresenceOptions struct {
	Enabled bool
	Key     string
}

// ChannelOptions holds everything negotiated in a channel's phx_join config.
type ChannelOptions struct {
	Broadcast       BroadcastOptions
	Presence        PresenceOptions
	PostgresChanges []PostgresFilter
	Private         bool
}

// ChannelOption mutates a ChannelOptions during Channel construction.
type ChannelOption func(*ChannelOptions)

func WithBroadcastAck() ChannelOption {
	return func(o *ChannelOptions) { o.Broadcast.Ack = true }
}

func WithBroadcastSelf() ChannelOption {
	return func(o *ChannelOptions) { o.Broadcast.Self = true }
}

func WithPresence(key string) ChannelOption {
	return func(o *ChannelOptions) {
		o.Presence.Enabled = true
		o.Presence.Key = key
	}
}

func WithPrivate() ChannelOption {
	return func(o *ChannelOptions) { o.Private = true }
}

func WithPostgresChanges(filters ...PostgresFilter) ChannelOption {
	return func(o *ChannelOptions) { o.PostgresChanges = append(o.PostgresChanges, filters...) }
}

// Channel multiplexes one topic over the Client's socket: broadcast,
// presence, and postgres_changes bindings, plus the join/leave handshake and
// its own rejoin backoff. A Channel may be subscribed exactly once; create a
// new one via Client.Channel to rejoin with different config.
type Channel struct {
	mu sync.Mutex

	client *Client
	topic  string
	opts   ChannelOptions

	state      ChannelState
	joinedOnce bool
	statusCB   func(status string, err error)

	joinPush    *Push
	rejoinTimer *backoffTimer

	pushBuffer []*Push

	bindings    []*binding
	refBindings []refBinding

	presence *Presence
}

func newChannel(client *Client, topic string, opts ...ChannelOption) *Channel {
	ch := &Channel{
		client:   client,
		topic:    topic,
		state:    ChannelClosed,
		presence: newPresence(),
	}
	for _, o := range opts {
		o(&ch.opts)
	}
	ch.rejoinTimer = newBackoffTimer(client.rejoinAfter(), ch.rejoinAfterBackoff)
	ch.joinPush = newPush(ch, eventJoin, ch.joinPayload, defaultPushTimeout)
	return ch
}

// Topic returns the channel's topic string.
func (ch *Channel) Topic() string { return ch.topic }

// State returns the channel's current join state.
func (ch *Channel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Presence returns the channel's presence tracker. It is always non-nil,
// even when presence was never enabled in ChannelOptions — it simply never
// receives a sync in that case.
func (ch *Channel) Presence() *Presence { return ch.presence }

// joinRef is the join_ref shared by every frame this channel sends for its
// current join generation. It is the join push's own ref: a fresh generation
// begins the moment that ref is assigned, at send time.
func (ch *Channel) joinRef() string {
	return ch.joinPush.currentRef()
}

func (ch *Channel) joinPayload() map[string]any {
	ch.mu.Lock()
	cfg := map[string]any{
		"broadcast": map[string]any{
			"ack":  ch.opts.Broadcast.Ack,
			"self": ch.opts.Broadcast.Self,
		},
		"presence": map[string]any{
			"enabled": ch.opts.Presence.Enabled,
			"key":     ch.opts.Presence.Key,
		},
		"postgres_changes": pgChangesWire(ch.opts.PostgresChanges),
		"private":          ch.opts.Private,
	}
	ch.mu.Unlock()

	payload := map[string]any{"config": cfg}
	if tok := ch.client.currentAccessToken(); tok != "" {
		payload["access_token"] = tok
	}
	return payload
}

func pgChangesWire(filters []PostgresFilter) []map[string]any {
	out := make([]map[string]any, len(filters))
	for i, f := range filters {
		out[i] = map[string]any{
			"event":  f.Event,
			"schema": f.Schema,
			"table":  f.Table,
			"filter": f.Filter,
		}
	}
	return out
}

// Subscribe joins the channel, latching joined_once. A second call on the
// same Channel returns ErrAlreadyJoinedOnce — rejoining with different
// config means building a new Channel. onStatus, if non-nil, is called with
// "SUBSCRIBED", "CHANNEL_ERROR", "TIMED_OUT", or "CLOSED" as the join
// settles and across any subsequent rejoin.
func (ch *Channel) Subscribe(onStatus func(status string, err error)) error {
	ch.mu.Lock()
	if ch.joinedOnce {
		ch.mu.Unlock()
		return ErrAlreadyJoinedOnce
	}
	ch.joinedOnce = true
	ch.state = ChannelJoining
	ch.statusCB = onStatus
	ch.mu.Unlock()

	ch.armJoinPush()
	ch.client.registerChannel(ch)
	ch.rejoin()
	return nil
}

// armJoinPush wires the current joinPush's terminal-status hooks. Called by
// Subscribe, and again by EnablePresence's mid-flight reconfigure, which
// rebuilds joinPush after the teardown driven by its own unsubscribe.
func (ch *Channel) armJoinPush() {
	ch.joinPush.receive(pushStatusOK, ch.handleJoinOK)
	ch.joinPush.receive(pushStatusError, func(response any) {
		ch.mu.Lock()
		ch.state = ChannelErrored
		ch.mu.Unlock()
		if ch.statusCB != nil {
			ch.statusCB("CHANNEL_ERROR", fmt.Errorf("realtime: join rejected: %v", response))
		}
		ch.maybeScheduleRejoin()
	})
	ch.joinPush.receive(pushStatusTimeout, func(any) {
		if ch.statusCB != nil {
			ch.statusCB("TIMED_OUT", ErrPushTimeout)
		}
		ch.maybeScheduleRejoin()
	})
}

// rejoin (re)sends the join push for a fresh generation. Presence is reset
// here, not just on the first Subscribe, so that a presence_diff arriving
// after a socket drop but before the new generation's presence_state is
// queued rather than applied against the stale pre-drop snapshot.
func (ch *Channel) rejoin() {
	ch.presence.reset()
	ch.mu.Lock()
	ch.state = ChannelJoining
	ch.mu.Unlock()
	ch.joinPush.resend(ch.client.pushTimeout())
}

func (ch *Channel) rejoinAfterBackoff() {
	ch.mu.Lock()
	leaving := ch.state == ChannelLeaving || ch.state == ChannelClosed
	ch.mu.Unlock()
	if leaving {
		return
	}
	ch.rejoin()
}

func (ch *Channel) maybeScheduleRejoin() {
	ch.mu.Lock()
	leaving := ch.state == ChannelLeaving
	ch.mu.Unlock()
	if leaving {
		return
	}
	ch.rejoinTimer.scheduleTimer()
}

// handleJoinOK validates any postgres_changes acknowledgement, stamps server
// subscription IDs, transitions to joined, and flushes whatever was buffered
// while the channel wasn't yet pushable.
func (ch *Channel) handleJoinOK(response any) {
	if err := ch.applyPostgresChangesAck(response); err != nil {
		ch.mu.Lock()
		ch.state = ChannelErrored
		ch.mu.Unlock()
		if ch.statusCB != nil {
			ch.statusCB("CHANNEL_ERROR", err)
		}
		return
	}

	ch.mu.Lock()
	ch.state = ChannelJoined
	buffered := ch.pushBuffer
	ch.pushBuffer = nil
	ch.mu.Unlock()

	ch.rejoinTimer.reset()

	for _, p := range buffered {
		p.send()
	}

	if ch.statusCB != nil {
		ch.statusCB("SUBSCRIBED", nil)
	}
}

// applyPostgresChangesAck matches the server's acknowledged postgres_changes
// list positionally against what was requested, stamping each filter's
// ServerID. A length or field mismatch means the server and client disagree
// about what was subscribed, which is always a bug, never a retryable fault.
func (ch *Channel) applyPostgresChangesAck(response any) error {
	m, ok := response.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["postgres_changes"].([]any)
	if !ok {
		return nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(raw) != len(ch.opts.PostgresChanges) {
		return fmt.Errorf("%w: server acknowledged %d subscriptions, client requested %d",
			ErrPostgresChangesMismatch, len(raw), len(ch.opts.PostgresChanges))
	}
	for i, item := range raw {
		ack, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: malformed acknowledgement at index %d", ErrPostgresChangesMismatch, i)
		}
		want := ch.opts.PostgresChanges[i]
		got := PostgresFilter{Event: str(ack["event"]), Schema: str(ack["schema"]), Table: str(ack["table"]), Filter: str(ack["filter"])}
		if !want.matchesSpec(got) {
			return fmt.Errorf("%w: at index %d, requested %+v, server acknowledged %+v", ErrPostgresChangesMismatch, i, want, got)
		}
		id := intFromAny(ack["id"])
		ch.opts.PostgresChanges[i].ServerID = &id
	}
	return nil
}

// canPush reports whether a push can go straight to the socket: the client
// has a live connection and this channel has completed its join handshake.
func (ch *Channel) canPush() bool {
	ch.mu.Lock()
	joined := ch.state == ChannelJoined
	ch.mu.Unlock()
	return joined && ch.client.isConnected()
}

// push enqueues event for sending, sending immediately if the channel is
// already joined or buffering until it is. A buffered push starts its
// timeout clock immediately, same as a sent one, so it still reports
// "timeout" if the channel never joins. The buffer evicts and destroys its
// oldest entry past capacity rather than growing unbounded while
// disconnected.
func (ch *Channel) push(event string, payloadFn func() map[string]any, timeout time.Duration) *Push {
	if timeout <= 0 {
		timeout = ch.client.pushTimeout()
	}
	p := newPush(ch, event, payloadFn, timeout)

	ch.mu.Lock()
	if ch.state == ChannelJoined {
		ch.mu.Unlock()
		p.send()
		return p
	}
	p.startTimeout()
	ch.pushBuffer = append(ch.pushBuffer, p)
	var evicted *Push
	if len(ch.pushBuffer) > pushBufferCap {
		evicted = ch.pushBuffer[0]
		ch.pushBuffer = ch.pushBuffer[1:]
	}
	ch.mu.Unlock()
	if evicted != nil {
		evicted.destroy()
		ch.client.logger.Warn("realtime: push_buffer full, evicting oldest push", "topic", ch.topic, "event", evicted.event)
	}
	return p
}

// Broadcast publishes a broadcast event on this channel. When the channel
// can't presently push — no live socket, or still joining — the payload is
// sent through the server's HTTP broadcast endpoint instead of queuing,
// since a caller expecting fire-and-forget delivery shouldn't have their
// message silently stuck behind a reconnect. Returns the underlying Push
// when it went over the socket, so the caller can await acknowledgement.
func (ch *Channel) Broadcast(event string, payload map[string]any) (*Push, error) {
	if !ch.canPush() {
		return nil, ch.client.httpBroadcast(ch.topic, event, payload, ch.opts.Private)
	}
	p := ch.push(eventBroadcast, func() map[string]any {
		return map[string]any{"type": "broadcast", "event": event, "payload": payload}
	}, ch.client.pushTimeout())
	return p, nil
}

// Track announces this client's presence with the given metadata.
func (ch *Channel) Track(meta map[string]any) *Push {
	return ch.push(eventPresence, func() map[string]any {
		return map[string]any{"type": "presence", "event": "track", "payload": meta}
	}, ch.client.pushTimeout())
}

// Untrack withdraws this client's presence.
func (ch *Channel) Untrack() *Push {
	return ch.push(eventPresence, func() map[string]any {
		return map[string]any{"type": "presence", "event": "untrack"}
	}, ch.client.pushTimeout())
}

// OnBroadcast registers cb for broadcast messages whose event matches name,
// or every broadcast message when name is "*".
func (ch *Channel) OnBroadcast(name string, cb func(Payload)) {
	ch.mu.Lock()
	ch.bindings = append(ch.bindings, &binding{kind: BindingBroadcast, event: name, callback: cb})
	ch.mu.Unlock()
}

// OnPostgresChanges registers cb for a postgres_changes filter. It must be
// called before Subscribe: the join handshake negotiates one server
// subscription ID per filter present at join time.
func (ch *Channel) OnPostgresChanges(filter PostgresFilter, cb func(Payload)) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.joinedOnce {
		return ErrAlreadyJoinedOnce
	}
	ch.opts.PostgresChanges = append(ch.opts.PostgresChanges, filter)
	ch.bindings = append(ch.bindings, &binding{kind: BindingPostgresChanges, pg: filter, callback: cb})
	return nil
}

// OnSystem registers cb for subscription lifecycle notices (the "system"
// event): postgres_changes acknowledgements and extension-level warnings.
func (ch *Channel) OnSystem(cb func(Payload)) {
	ch.mu.Lock()
	ch.bindings = append(ch.bindings, &binding{kind: BindingSystem, callback: cb})
	ch.mu.Unlock()
}

// OnPresence registers cb for presence lifecycle notices whose event matches
// "sync" or "diff", or every presence notice when event is "*". It is the
// generic binding counterpart to the dedicated join/leave/sync callbacks
// reachable through Presence().
func (ch *Channel) OnPresence(event string, cb func(Payload)) {
	ch.mu.Lock()
	ch.bindings = append(ch.bindings, &binding{kind: BindingPresence, event: event, callback: cb})
	ch.mu.Unlock()
}

// EnablePresence turns presence tracking on, mirroring the protocol's
// on("presence", …) binding. If the channel is already joined, it performs
// unsubscribe().then(subscribe) to re-announce config.presence with
// enabled=true — the one documented case where registering a binding
// mutates join state as a side effect, so it bypasses the joined_once latch
// that otherwise forbids a second join on the same Channel.
func (ch *Channel) EnablePresence(key string) {
	ch.mu.Lock()
	ch.opts.Presence.Enabled = true
	ch.opts.Presence.Key = key
	joined := ch.state == ChannelJoined
	ch.mu.Unlock()

	if !joined {
		return
	}

	rejoinForPresence := func(any) {
		ch.joinPush = newPush(ch, eventJoin, ch.joinPayload, defaultPushTimeout)
		ch.armJoinPush()
		ch.client.registerChannel(ch)
		ch.rejoin()
	}
	leave := ch.Unsubscribe()
	leave.receive(pushStatusOK, rejoinForPresence)
	leave.receive(pushStatusTimeout, rejoinForPresence)
}

func (ch *Channel) bindOnce(event string, cb func(status string, response any)) {
	ch.mu.Lock()
	ch.refBindings = append(ch.refBindings, refBinding{ref: event, cb: cb})
	ch.mu.Unlock()
}

func (ch *Channel) unbind(event string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	kept := ch.refBindings[:0]
	for _, b := range ch.refBindings {
		if b.ref != event {
			kept = append(kept, b)
		}
	}
	ch.refBindings = kept
}

// trigger routes one incoming frame addressed to this channel's topic: push
// replies correlate by ref regardless of join generation, while close/error
// events from a superseded join generation are dropped.
func (ch *Channel) trigger(f *Frame) {
	if f.Event == replyEvent {
		ch.triggerReply(f)
		return
	}

	switch f.Event {
	case eventClose, eventErrorEvt:
		if f.JoinRef != "" && f.JoinRef != ch.joinRef() {
			return
		}
	}

	switch f.Event {
	case eventClose:
		ch.handleServerClose()
	case eventErrorEvt:
		ch.handleServerError()
	case eventPresenceState:
		ch.presence.syncState(decodePresenceState(f.Payload))
		ch.dispatchPresence("sync")
	case eventPresenceDiff:
		joins, leaves := decodePresenceDiff(f.Payload)
		ch.presence.syncDiff(joins, leaves)
		ch.dispatchPresence("diff")
	case eventPostgresChanges:
		ch.dispatchPostgresChanges(f.Payload)
	case eventBroadcast:
		ch.dispatchBroadcast(f.Payload)
	case eventSystem:
		ch.dispatchSystem(f.Payload)
	}
}

func (ch *Channel) triggerReply(f *Frame) {
	replyName := channelReplyEventName(f.Ref)
	ch.mu.Lock()
	var cbs []func(string, any)
	for _, b := range ch.refBindings {
		if b.ref == replyName {
			cbs = append(cbs, b.cb)
		}
	}
	ch.mu.Unlock()

	status, response := statusAndResponse(f.Payload)
	for _, cb := range cbs {
		cb(status, response)
	}
}

func (ch *Channel) handleServerClose() {
	ch.rejoinTimer.reset()
	ch.mu.Lock()
	ch.state = ChannelClosed
	ch.mu.Unlock()
	ch.client.removeChannel(ch)
	if ch.statusCB != nil {
		ch.statusCB("CLOSED", nil)
	}
}

func (ch *Channel) handleServerError() {
	ch.mu.Lock()
	if ch.state == ChannelLeaving {
		ch.mu.Unlock()
		return
	}
	ch.state = ChannelErrored
	ch.mu.Unlock()
	if ch.statusCB != nil {
		ch.statusCB("CHANNEL_ERROR", ErrChannelClosed)
	}
	ch.maybeScheduleRejoin()
}

func (ch *Channel) dispatchPostgresChanges(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	ids := idSet(m["ids"])
	data, ok := m["data"].(map[string]any)
	if !ok {
		return
	}
	change := decodePostgresChangePayload(data)

	ch.mu.Lock()
	var matchedEvents []string
	for _, f := range ch.opts.PostgresChanges {
		if f.ServerID != nil && ids[*f.ServerID] {
			matchedEvents = append(matchedEvents, f.Event)
		}
	}
	var cbs []func(Payload)
	for _, b := range ch.bindings {
		if b.kind != BindingPostgresChanges {
			continue
		}
		for _, ev := range matchedEvents {
			if strings.EqualFold(b.pg.Event, "*") || strings.EqualFold(b.pg.Event, ev) {
				cbs = append(cbs, b.callback)
				break
			}
		}
	}
	ch.mu.Unlock()

	p := Payload{Kind: BindingPostgresChanges, PostgresChange: &change}
	for _, cb := range cbs {
		cb(p)
	}
}

func (ch *Channel) dispatchBroadcast(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	event := str(m["event"])
	inner, _ := m["payload"].(map[string]any)

	ch.mu.Lock()
	var cbs []func(Payload)
	for _, b := range ch.bindings {
		if b.kind == BindingBroadcast && b.matchesEvent(event) {
			cbs = append(cbs, b.callback)
		}
	}
	ch.mu.Unlock()

	p := Payload{Kind: BindingBroadcast, Broadcast: &BroadcastPayload{Event: event, Payload: inner}}
	for _, cb := range cbs {
		cb(p)
	}
}

func (ch *Channel) dispatchPresence(event string) {
	state := ch.presence.State()

	ch.mu.Lock()
	var cbs []func(Payload)
	for _, b := range ch.bindings {
		if b.kind == BindingPresence && b.matchesEvent(event) {
			cbs = append(cbs, b.callback)
		}
	}
	ch.mu.Unlock()

	p := Payload{Kind: BindingPresence, Presence: &PresencePayload{Event: event, State: state}}
	for _, cb := range cbs {
		cb(p)
	}
}

func (ch *Channel) dispatchSystem(payload any) {
	m, _ := payload.(map[string]any)
	sp := &SystemPayload{Status: str(m["status"]), Message: str(m["message"]), Extension: str(m["extension"]), Raw: m}

	ch.mu.Lock()
	var cbs []func(Payload)
	for _, b := range ch.bindings {
		if b.kind == BindingSystem {
			cbs = append(cbs, b.callback)
		}
	}
	ch.mu.Unlock()

	p := Payload{Kind: BindingSystem, System: sp}
	for _, cb := range cbs {
		cb(p)
	}
}

// Unsubscribe leaves the channel. It is idempotent, and leaving a channel
// that never reached "joined" synthesizes an immediate "ok" reply since
// there is nothing the server needs to be told.
func (ch *Channel) Unsubscribe() *Push {
	ch.rejoinTimer.reset()

	leavePush := newPush(ch, eventLeave, func() map[string]any { return map[string]any{} }, ch.client.pushTimeout())
	leavePush.receive(pushStatusOK, func(any) { ch.teardown() })
	leavePush.receive(pushStatusTimeout, func(any) { ch.teardown() })

	ch.mu.Lock()
	ch.joinPush.destroy()
	canPush := ch.state == ChannelJoined && ch.client.isConnected()
	ch.state = ChannelLeaving
	ch.mu.Unlock()

	if !canPush {
		leavePush.matchReceive(pushStatusOK, map[string]any{})
		return leavePush
	}

	leavePush.send()
	return leavePush
}

func (ch *Channel) teardown() {
	ch.rejoinTimer.reset()

	ch.mu.Lock()
	ch.state = ChannelClosed
	buffered := ch.pushBuffer
	ch.pushBuffer = nil
	ch.mu.Unlock()

	ch.joinPush.destroy()
	for _, p := range buffered {
		p.destroy()
	}
	ch.client.removeChannel(ch)
}

func statusAndResponse(payload any) (string, any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", nil
	}
	return str(m["status"]), m["response"]
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func idSet(v any) map[int]bool {
	out := map[int]bool{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range arr {
		out[intFromAny(item)] = true
	}
	return out
}

func decodePostgresChangePayload(data map[string]any) PostgresChangePayload {
	pc := PostgresChangePayload{
		EventType:       str(data["type"]),
		Schema:          str(data["schema"]),
		Table:           str(data["table"]),
		CommitTimestamp: str(data["commit_timestamp"]),
	}
	if cols, ok := data["columns"].([]any); ok {
		for _, c := range cols {
			if cm, ok := c.(map[string]any); ok {
				pc.Columns = append(pc.Columns, ColumnMeta{Name: str(cm["name"]), Type: str(cm["type"])})
			}
		}
	}
	if rec, ok := data["record"].(map[string]any); ok {
		pc.New = rec
	}
	if old, ok := data["old_record"].(map[string]any); ok {
		pc.Old = old
	}
	if errs, ok := data["errors"].([]any); ok {
		for _, e := range errs {
			if s, ok := e.(string); ok {
				pc.Errors = append(pc.Errors, s)
			}
		}
	}
	return pc
}

// decodePresenceState converts a presence_state frame's payload, keyed by
// presence key with each value a {"metas": [...]} object, into Presence's
// internal shape.
func decodePresenceState(payload any) map[string][]Meta {
	m, ok := payload.(map[string]any)
	if !ok {
		return map[string][]Meta{}
	}
	out := make(map[string][]Meta, len(m))
	for key, v := range m {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		metas, _ := entry["metas"].([]any)
		out[key] = metasFromAny(metas)
	}
	return out
}

// decodePresenceDiff converts a presence_diff frame's payload, shaped
// {"joins": {...}, "leaves": {...}} with the same per-key metas shape as
// presence_state.
func decodePresenceDiff(payload any) (joins, leaves map[string][]Meta) {
	m, ok := payload.(map[string]any)
	if !ok {
		return map[string][]Meta{}, map[string][]Meta{}
	}
	return decodePresenceState(m["joins"]), decodePresenceState(m["leaves"])
}

func metasFromAny(raw []any) []Meta {
	out := make([]Meta, 0, len(raw))
	for _, item := range raw {
		if mm, ok := item.(map[string]any); ok {
			out = append(out, Meta(mm))
		}
	}
	return out
}
