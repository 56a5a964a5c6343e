package realtime

import "testing"

func metaWithRef(ref string) Meta {
	return Meta{"phx_ref": ref}
}

func TestPresenceSyncStateFiresJoinForEveryNewKey(t *testing.T) {
	p := newPresence()
	var joined []string
	p.OnJoin(func(key string, current, added []Meta) { joined = append(joined, key) })

	p.syncState(map[string][]Meta{
		"u1": {metaWithRef("a")},
		"u2": {metaWithRef("b")},
	})

	if len(joined) != 2 {
		t.Fatalf("expected 2 joins, got %d: %v", len(joined), joined)
	}
}

func TestPresenceDiffBeforeFirstSyncIsQueuedAndReplayedAfterSync(t *testing.T) {
	p := newPresence()
	var leftKeys []string
	var synced int
	p.OnLeave(func(key string, remaining, left []Meta) { leftKeys = append(leftKeys, key) })
	p.OnSync(func() { synced++ })

	// A diff arrives before any sync — must be queued, not applied yet.
	p.syncDiff(map[string][]Meta{}, map[string][]Meta{"u2": {metaWithRef("r")}})
	if len(leftKeys) != 0 {
		t.Fatalf("expected no leave callback before the first sync, got %v", leftKeys)
	}
	if got := p.State(); len(got) != 0 {
		t.Fatalf("expected empty state before sync, got %v", got)
	}

	// The snapshot arrives, containing both u1 and u2; the queued leave for
	// u2 must replay on top of it.
	p.syncState(map[string][]Meta{
		"u1": {metaWithRef("a")},
		"u2": {metaWithRef("r")},
	})

	state := p.State()
	if _, ok := state["u2"]; ok {
		t.Fatalf("expected u2 removed by the replayed pending diff, got state %v", state)
	}
	if _, ok := state["u1"]; !ok {
		t.Fatalf("expected u1 to remain, got state %v", state)
	}
	if len(leftKeys) != 1 || leftKeys[0] != "u2" {
		t.Fatalf("expected exactly one leave for u2, got %v", leftKeys)
	}
	if synced != 1 {
		t.Fatalf("expected exactly one sync callback, got %d", synced)
	}
}

func TestPresenceApplyDiffRemovesKeyWhenMetaListEmpties(t *testing.T) {
	p := newPresence()
	p.syncState(map[string][]Meta{"u1": {metaWithRef("a")}})

	p.syncDiff(map[string][]Meta{}, map[string][]Meta{"u1": {metaWithRef("a")}})

	state := p.State()
	if _, ok := state["u1"]; ok {
		t.Fatalf("expected key removed once its meta list is empty, got %v", state)
	}
}

func TestPresenceStateReturnsDeepCloneNotLiveReference(t *testing.T) {
	p := newPresence()
	p.syncState(map[string][]Meta{"u1": {metaWithRef("a")}})

	snap := p.State()
	snap["u1"][0]["mutated"] = true

	again := p.State()
	if _, ok := again["u1"][0]["mutated"]; ok {
		t.Fatal("mutating a returned snapshot must not affect internal state")
	}
}

func TestPresenceResetDropsPendingDiffsForSupersededGeneration(t *testing.T) {
	p := newPresence()
	p.syncDiff(map[string][]Meta{}, map[string][]Meta{"stale": {metaWithRef("x")}})

	p.reset()

	var leftKeys []string
	p.OnLeave(func(key string, remaining, left []Meta) { leftKeys = append(leftKeys, key) })
	p.syncState(map[string][]Meta{"u1": {metaWithRef("a")}})

	if len(leftKeys) != 0 {
		t.Fatalf("expected the stale pending diff to be dropped by reset, got leaves %v", leftKeys)
	}
}
