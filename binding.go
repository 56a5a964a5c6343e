package realtime

import "strings"

// BindingKind tags which sum-type variant a Binding's callback expects. Go
// has no sum types, so user-visible dispatch is modeled as a tagged struct
// (Payload) rather than an interface hierarchy.
type BindingKind int

const (
	BindingBroadcast BindingKind = iota
	BindingPostgresChanges
	BindingSystem
	BindingPresence
)

// PostgresFilter describes one postgres_changes subscription. ServerID is
// nil until the join handshake stamps it (see Channel's handshake logic).
type PostgresFilter struct {
	Event    string // "INSERT", "UPDATE", "DELETE", or "*"
	Schema   string
	Table    string
	Filter   string // PostgREST-style column filter, e.g. "id=eq.1"
	ServerID *int
}

func (f PostgresFilter) matchesSpec(other PostgresFilter) bool {
	return f.Event == other.Event && f.Schema == other.Schema &&
		f.Table == other.Table && f.Filter == other.Filter
}

// ColumnMeta describes one column's Postgres type, carried alongside a
// postgres_changes row so callers can disambiguate values the JSON decoder
// only partially types (e.g. numeric arriving as a string).
type ColumnMeta struct {
	Name string
	Type string
}

// BroadcastPayload is delivered to BindingBroadcast callbacks.
type BroadcastPayload struct {
	Event   string
	Payload map[string]any
}

// SystemPayload is delivered to BindingSystem callbacks: subscription
// handshake acknowledgements and other non-data protocol notices.
type SystemPayload struct {
	Status    string
	Message   string
	Extension string
	Raw       map[string]any
}

// PresencePayload is delivered to BindingPresence callbacks: a snapshot of
// presence state alongside which server event ("sync" or "diff") produced
// it. Join/leave detail is available through Presence()'s own callbacks;
// this is the generic binding counterpart, matched by event like broadcast.
type PresencePayload struct {
	Event string
	State map[string][]Meta
}

// PostgresChangePayload is delivered to BindingPostgresChanges callbacks,
// transformed from the raw postgres_changes wire frame.
type PostgresChangePayload struct {
	EventType       string // "INSERT", "UPDATE", "DELETE"
	Schema          string
	Table           string
	CommitTimestamp string
	Columns         []ColumnMeta
	New             map[string]any
	Old             map[string]any
	Errors          []string
}

// Payload is the tagged union handed to a binding's callback. Exactly one of
// the pointer fields is non-nil, selected by Kind.
type Payload struct {
	Kind           BindingKind
	Broadcast      *BroadcastPayload
	PostgresChange *PostgresChangePayload
	System         *SystemPayload
	Presence       *PresencePayload
}

type binding struct {
	kind     BindingKind
	event    string // match key for broadcast/presence; "*" matches any
	pg       PostgresFilter
	callback func(Payload)
}

func (b *binding) matchesEvent(event string) bool {
	if b.event == "*" {
		return true
	}
	return strings.EqualFold(b.event, event)
}

// refBinding is the channel's ad hoc correlation table for Push replies: a
// single-shot listener on the pseudo event "chan_reply_<ref>".
type refBinding struct {
	ref string
	cb  func(status string, response any)
}
