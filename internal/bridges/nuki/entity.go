package nuki

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-nuki/internal/lock"
)

// EntityDomain prefixes every lock entity id.
const EntityDomain = "lock"

// Attribute keys exposed for each lock.
const (
	AttrName            = "name"
	AttrIsLocked        = "is_locked"
	AttrAvailable       = "available"
	AttrBatteryCritical = "battery_critical"
	AttrNukiID          = "nuki_id"
)

// Entity is one lock as exposed to Core. Polls and commands on the same
// entity never overlap.
type Entity struct {
	ID string

	rec  *lock.Reconciler
	opMu sync.Mutex

	snap      lock.Snapshot
	published bool
	snapMu    sync.RWMutex
}

func newEntity(id string, rec *lock.Reconciler) *Entity {
	return &Entity{
		ID:   id,
		rec:  rec,
		snap: rec.Snapshot(),
	}
}

// Snapshot returns the entity's last known state without touching the bridge.
func (e *Entity) Snapshot() lock.Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

// Attributes returns the state attributes published for the entity.
func (e *Entity) Attributes() map[string]any {
	return snapshotAttributes(e.Snapshot())
}

// markPublished records that the state went out and reports whether it
// already had before.
func (e *Entity) markPublished() bool {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	was := e.published
	e.published = true
	return was
}

// apply runs fn against the reconciler with exclusive access and returns the
// snapshots before and after.
func (e *Entity) apply(ctx context.Context, fn func(context.Context, *lock.Reconciler) lock.Snapshot) (before, after lock.Snapshot) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	before = e.rec.Snapshot()
	after = fn(ctx, e.rec)

	e.snapMu.Lock()
	e.snap = after
	e.snapMu.Unlock()

	return before, after
}

// call runs a pass-through action with exclusive access.
func (e *Entity) call(ctx context.Context, fn func(context.Context, *lock.Reconciler) error) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return fn(ctx, e.rec)
}

func snapshotAttributes(s lock.Snapshot) map[string]any {
	return map[string]any{
		AttrName:            s.Name,
		AttrIsLocked:        s.Locked,
		AttrAvailable:       s.Available,
		AttrBatteryCritical: s.BatteryCritical,
		AttrNukiID:          s.NukiID,
	}
}

// assignEntityIDs derives lock.<slug> ids from lock names. Duplicate slugs
// get _2, _3 and so on in input order.
func assignEntityIDs(handles []lock.Handle) []string {
	ids := make([]string, len(handles))
	seen := make(map[string]int, len(handles))

	for i, h := range handles {
		slug := slugify(h.Name())
		if slug == "" {
			slug = fmt.Sprintf("nuki_%d", h.NukiID())
		}

		base := EntityDomain + "." + slug
		id := base
		seen[base]++
		for n := seen[base]; n > 1; n++ {
			id = fmt.Sprintf("%s_%d", base, n)
			if seen[id] == 0 {
				seen[id]++
				break
			}
		}
		ids[i] = id
	}

	return ids
}

// slugify lowercases s and collapses every run of other characters into a
// single underscore.
func slugify(s string) string {
	var b strings.Builder
	pendingSep := false

	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	return b.String()
}
