package realtime

import "sync"

// Meta is one presence record. Its "phx_ref" entry (the presence_ref, read by
// ref) uniquely identifies it within its key's meta list.
type Meta map[string]any

func (m Meta) ref() string {
	if r, ok := m["phx_ref"].(string); ok {
		return r
	}
	return ""
}

func cloneMeta(m Meta) Meta {
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMetaList(in []Meta) []Meta {
	out := make([]Meta, len(in))
	for i, m := range in {
		out[i] = cloneMeta(m)
	}
	return out
}

// JoinCallback and LeaveCallback receive clones of the affected meta slices;
// the Presence instance otherwise treats its state as owned and callers must
// not mutate it beyond the clone.
type JoinCallback func(key string, currentMetas, newMetas []Meta)
type LeaveCallback func(key string, remainingMetas, leftMetas []Meta)
type SyncCallback func()

// presenceDiff is the wire shape of a presence_diff frame.
type presenceDiff struct {
	Joins  map[string][]Meta
	Leaves map[string][]Meta
}

// Presence is a CRDT-like store mirroring who is online for one channel. It
// replays diffs received before the first sync once that sync arrives,
// since diffs name metas only the snapshot can resolve.
type Presence struct {
	mu    sync.Mutex
	state map[string][]Meta

	syncedOnce   bool
	pendingDiffs []presenceDiff

	onJoins  []JoinCallback
	onLeaves []LeaveCallback
	onSyncs  []SyncCallback
}

func newPresence() *Presence {
	return &Presence{state: make(map[string][]Meta)}
}

// OnJoin registers a join listener.
func (p *Presence) OnJoin(cb JoinCallback) {
	p.mu.Lock()
	p.onJoins = append(p.onJoins, cb)
	p.mu.Unlock()
}

// OnLeave registers a leave listener.
func (p *Presence) OnLeave(cb LeaveCallback) {
	p.mu.Lock()
	p.onLeaves = append(p.onLeaves, cb)
	p.mu.Unlock()
}

// OnSync registers a sync listener, fired after every syncState/syncDiff
// application (and after any pending diffs replayed alongside a sync).
func (p *Presence) OnSync(cb SyncCallback) {
	p.mu.Lock()
	p.onSyncs = append(p.onSyncs, cb)
	p.mu.Unlock()
}

// State returns a clone of the current presence state.
func (p *Presence) State() map[string][]Meta {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]Meta, len(p.state))
	for k, v := range p.state {
		out[k] = cloneMetaList(v)
	}
	return out
}

// reset marks the presence as unsynced and drops pending diffs; called when
// a channel begins a fresh join attempt so stale diffs from a prior
// generation are never replayed against the new snapshot.
func (p *Presence) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncedOnce = false
	p.pendingDiffs = nil
}

// syncState replaces state wholesale, firing onJoin for keys/metas newly
// present and onLeave for keys/metas no longer present, onJoin/onLeave
// firing before onSync on every call, per spec.
func (p *Presence) syncState(newState map[string][]Meta) {
	p.mu.Lock()

	joins, leaves := diffStates(p.state, newState)
	p.state = newState
	p.syncedOnce = true
	pending := p.pendingDiffs
	p.pendingDiffs = nil

	joinCBs := append([]JoinCallback{}, p.onJoins...)
	leaveCBs := append([]LeaveCallback{}, p.onLeaves...)
	syncCBs := append([]SyncCallback{}, p.onSyncs...)
	p.mu.Unlock()

	fireJoinsAndLeaves(joins, leaves, joinCBs, leaveCBs)

	for _, d := range pending {
		p.applyDiff(d, joinCBs, leaveCBs)
	}

	for _, cb := range syncCBs {
		cb()
	}
}

// syncDiff applies an incremental join/leave diff. Diffs arriving before the
// first post-join sync are queued and replayed once that sync lands.
func (p *Presence) syncDiff(joins, leaves map[string][]Meta) {
	p.mu.Lock()
	if !p.syncedOnce {
		p.pendingDiffs = append(p.pendingDiffs, presenceDiff{Joins: joins, Leaves: leaves})
		p.mu.Unlock()
		return
	}
	joinCBs := append([]JoinCallback{}, p.onJoins...)
	leaveCBs := append([]LeaveCallback{}, p.onLeaves...)
	syncCBs := append([]SyncCallback{}, p.onSyncs...)
	p.mu.Unlock()

	p.applyDiff(presenceDiff{Joins: joins, Leaves: leaves}, joinCBs, leaveCBs)

	for _, cb := range syncCBs {
		cb()
	}
}

// applyDiff mutates p.state for one diff and fires join/leave callbacks. It
// takes already-snapshotted callback slices so it can be reused by both
// syncDiff (live) and syncState's pending-diff replay (already under a
// released lock).
func (p *Presence) applyDiff(d presenceDiff, joinCBs []JoinCallback, leaveCBs []LeaveCallback) {
	p.mu.Lock()
	var joinEvents, leaveEvents []keyMetaEvent

	for key, metas := range d.Joins {
		existing := p.state[key]
		p.state[key] = append(append([]Meta{}, existing...), metas...)
		joinEvents = append(joinEvents, keyMetaEvent{key: key, current: cloneMetaList(existing), changed: cloneMetaList(metas)})
	}

	for key, metas := range d.Leaves {
		existing := p.state[key]
		removeRefs := make(map[string]bool, len(metas))
		for _, m := range metas {
			removeRefs[m.ref()] = true
		}
		var remaining []Meta
		for _, m := range existing {
			if !removeRefs[m.ref()] {
				remaining = append(remaining, m)
			}
		}
		if len(remaining) == 0 {
			delete(p.state, key)
		} else {
			p.state[key] = remaining
		}
		leaveEvents = append(leaveEvents, keyMetaEvent{key: key, current: cloneMetaList(remaining), changed: cloneMetaList(metas)})
	}
	p.mu.Unlock()

	for _, e := range joinEvents {
		for _, cb := range joinCBs {
			cb(e.key, e.current, e.changed)
		}
	}
	for _, e := range leaveEvents {
		for _, cb := range leaveCBs {
			cb(e.key, e.current, e.changed)
		}
	}
}

type keyMetaEvent struct {
	key     string
	current []Meta
	changed []Meta
}

// diffStates computes the join set (keys/metas in next not in prev) and
// leave set (the inverse), comparing metas by presence_ref.
func diffStates(prev, next map[string][]Meta) (joins, leaves []keyMetaEvent) {
	for key, nextMetas := range next {
		prevMetas := prev[key]
		prevRefs := refSet(prevMetas)
		var newMetas []Meta
		for _, m := range nextMetas {
			if !prevRefs[m.ref()] {
				newMetas = append(newMetas, m)
			}
		}
		if len(newMetas) > 0 {
			joins = append(joins, keyMetaEvent{key: key, current: cloneMetaList(prevMetas), changed: cloneMetaList(newMetas)})
		}
	}

	for key, prevMetas := range prev {
		nextMetas := next[key]
		nextRefs := refSet(nextMetas)
		var leftMetas []Meta
		for _, m := range prevMetas {
			if !nextRefs[m.ref()] {
				leftMetas = append(leftMetas, m)
			}
		}
		if len(leftMetas) > 0 {
			leaves = append(leaves, keyMetaEvent{key: key, current: cloneMetaList(nextMetas), changed: cloneMetaList(leftMetas)})
		}
	}
	return joins, leaves
}

func refSet(metas []Meta) map[string]bool {
	out := make(map[string]bool, len(metas))
	for _, m := range metas {
		out[m.ref()] = true
	}
	return out
}

func fireJoinsAndLeaves(joins, leaves []keyMetaEvent, joinCBs []JoinCallback, leaveCBs []LeaveCallback) {
	for _, e := range joins {
		for _, cb := range joinCBs {
			cb(e.key, e.current, e.changed)
		}
	}
	for _, e := range leaves {
		for _, cb := range leaveCBs {
			cb(e.key, e.current, e.changed)
		}
	}
}
