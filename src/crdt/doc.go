// Package crdt implements a replicated text buffer. Every character carries a
// unique (clock, site) identifier and remembers the character it was inserted
// after; replicas that have applied the same set of operations hold the same
// text regardless of delivery order.
package crdt

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrDestroyed is returned by operations on a destroyed document.
var ErrDestroyed = errors.New("crdt: document destroyed")

// ID identifies one character. The zero ID is the document head.
type ID struct {
	Clock uint64 `json:"clock"`
	Site  string `json:"site"`
}

// IsZero reports whether id is the document head.
func (id ID) IsZero() bool { return id.Clock == 0 && id.Site == "" }

// Less orders ids by clock, breaking ties by site.
func (id ID) Less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Site < other.Site
}

// OpKind discriminates operations.
type OpKind string

const (
	OpInsert OpKind = "ins"
	OpDelete OpKind = "del"
)

// Op is one replicated change. Inserts carry the new character and its
// left neighbour at creation time; deletes name the removed character.
type Op struct {
	Kind  OpKind `json:"kind"`
	ID    ID     `json:"id"`
	After ID     `json:"after,omitempty"`
	Value string `json:"value,omitempty"`
}

// Update is delivered to observers after the document changed.
// Origin is nil for local edits and the value passed to Apply otherwise.
type Update struct {
	Ops    []Op
	Origin any
}

type element struct {
	id      ID
	after   ID
	value   string
	deleted bool
}

// Doc is a replicated text buffer. It is safe for concurrent use.
type Doc struct {
	site string

	mu        sync.Mutex
	clock     uint64
	elems     []*element
	byID      map[ID]*element
	pending   []Op
	observers map[int]func(Update)
	nextObs   int
	destroyed bool
}

// New returns an empty document with a random site id.
func New() *Doc {
	return NewWithSite(uuid.NewString())
}

// NewWithSite returns an empty document whose local edits are tagged site.
func NewWithSite(site string) *Doc {
	return &Doc{
		site:      site,
		byID:      make(map[ID]*element),
		observers: make(map[int]func(Update)),
	}
}

// Site returns the id tagging local edits.
func (d *Doc) Site() string { return d.site }

// Length returns the number of visible characters.
func (d *Doc) Length() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lengthLocked()
}

func (d *Doc) lengthLocked() int {
	n := 0
	for _, e := range d.elems {
		if !e.deleted {
			n++
		}
	}
	return n
}

// String returns the visible text.
func (d *Doc) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	for _, e := range d.elems {
		if !e.deleted {
			b.WriteString(e.value)
		}
	}
	return b.String()
}

// Insert inserts text before the visible character at offset. Offsets
// count characters, not bytes, and are clamped to the document length.
func (d *Doc) Insert(offset int, text string) ([]Op, error) {
	return d.insert(offset, text, false)
}

// InsertIfEmpty inserts text only while the document has no visible
// characters. It returns no operations when the document already holds text.
func (d *Doc) InsertIfEmpty(text string) ([]Op, error) {
	return d.insert(0, text, true)
}

func (d *Doc) insert(offset int, text string, onlyEmpty bool) ([]Op, error) {
	if text == "" {
		return nil, nil
	}
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil, ErrDestroyed
	}
	if onlyEmpty && d.lengthLocked() != 0 {
		d.mu.Unlock()
		return nil, nil
	}
	after := d.visibleIDLocked(offset - 1)
	ops := make([]Op, 0, len(text))
	for _, r := range text {
		d.clock++
		op := Op{Kind: OpInsert, ID: ID{Clock: d.clock, Site: d.site}, After: after, Value: string(r)}
		d.integrateInsertLocked(op)
		ops = append(ops, op)
		after = op.ID
	}
	obs := d.observersLocked()
	d.mu.Unlock()

	notify(obs, Update{Ops: ops})
	return ops, nil
}

// Delete removes up to n visible characters starting at offset.
func (d *Doc) Delete(offset, n int) ([]Op, error) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil, ErrDestroyed
	}
	var ops []Op
	pos := 0
	for _, e := range d.elems {
		if len(ops) == n {
			break
		}
		if e.deleted {
			continue
		}
		if pos >= offset {
			e.deleted = true
			ops = append(ops, Op{Kind: OpDelete, ID: e.id})
		}
		pos++
	}
	obs := d.observersLocked()
	d.mu.Unlock()

	if len(ops) > 0 {
		notify(obs, Update{Ops: ops})
	}
	return ops, nil
}

// Apply integrates remote operations. Operations already applied are
// skipped; operations whose dependencies are missing are held back until
// those dependencies arrive. Observers receive the operations that changed
// the document, tagged with origin.
func (d *Doc) Apply(ops []Op, origin any) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	var applied []Op
	for _, op := range ops {
		if d.integrateLocked(op) {
			applied = append(applied, op)
			applied = append(applied, d.drainPendingLocked()...)
		}
	}
	obs := d.observersLocked()
	d.mu.Unlock()

	if len(applied) > 0 {
		notify(obs, Update{Ops: applied, Origin: origin})
	}
	return nil
}

// Snapshot returns operations that rebuild the current state on an empty
// replica: every character in document order followed by its deletions.
func (d *Doc) Snapshot() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := make([]Op, 0, len(d.elems))
	var dels []Op
	for _, e := range d.elems {
		ops = append(ops, Op{Kind: OpInsert, ID: e.id, After: e.after, Value: e.value})
		if e.deleted {
			dels = append(dels, Op{Kind: OpDelete, ID: e.id})
		}
	}
	return append(ops, dels...)
}

// Pending returns the number of operations waiting for a dependency.
func (d *Doc) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Observe calls fn after every change until cancel is called.
func (d *Doc) Observe(fn func(Update)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

// Destroy drops every observer and rejects further edits.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.observers = make(map[int]func(Update))
	d.pending = nil
}

func (d *Doc) integrateLocked(op Op) bool {
	switch op.Kind {
	case OpInsert:
		if _, dup := d.byID[op.ID]; dup {
			return false
		}
		if !op.After.IsZero() {
			if _, ok := d.byID[op.After]; !ok {
				d.pending = append(d.pending, op)
				return false
			}
		}
		d.integrateInsertLocked(op)
		return true
	case OpDelete:
		e, ok := d.byID[op.ID]
		if !ok {
			d.pending = append(d.pending, op)
			return false
		}
		if e.deleted {
			return false
		}
		e.deleted = true
		return true
	}
	return false
}

// integrateInsertLocked places op right of its anchor, after every sibling
// subtree with a greater id.
func (d *Doc) integrateInsertLocked(op Op) {
	if op.ID.Clock > d.clock {
		d.clock = op.ID.Clock
	}
	pos := 0
	if !op.After.IsZero() {
		pos = d.indexLocked(op.After) + 1
	}
	for pos < len(d.elems) && op.ID.Less(d.elems[pos].id) {
		pos++
	}
	e := &element{id: op.ID, after: op.After, value: op.Value}
	d.elems = append(d.elems, nil)
	copy(d.elems[pos+1:], d.elems[pos:])
	d.elems[pos] = e
	d.byID[op.ID] = e
}

func (d *Doc) drainPendingLocked() []Op {
	var applied []Op
	for {
		queued := d.pending
		d.pending = nil
		progress := false
		// integrateLocked re-queues whatever is still blocked.
		for _, op := range queued {
			if d.integrateLocked(op) {
				applied = append(applied, op)
				progress = true
			}
		}
		if !progress {
			return applied
		}
	}
}

func (d *Doc) indexLocked(id ID) int {
	for i, e := range d.elems {
		if e.id == id {
			return i
		}
	}
	return -1
}

// visibleIDLocked returns the id of the visible character at offset, or
// the head when offset is negative. Offsets past the end yield the last
// visible character.
func (d *Doc) visibleIDLocked(offset int) ID {
	if offset < 0 {
		return ID{}
	}
	last := ID{}
	pos := 0
	for _, e := range d.elems {
		if e.deleted {
			continue
		}
		last = e.id
		if pos == offset {
			return e.id
		}
		pos++
	}
	return last
}

func (d *Doc) observersLocked() []func(Update) {
	out := make([]func(Update), 0, len(d.observers))
	for _, fn := range d.observers {
		out = append(out, fn)
	}
	return out
}

func notify(obs []func(Update), u Update) {
	for _, fn := range obs {
		fn(u)
	}
}
