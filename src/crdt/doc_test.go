package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndDelete(t *testing.T) {
	d := NewWithSite("a")

	_, err := d.Insert(0, "helo")
	require.NoError(t, err)
	_, err = d.Insert(3, "l")
	require.NoError(t, err)
	assert.Equal(t, "hello", d.String())

	_, err = d.Insert(99, "!")
	require.NoError(t, err)
	assert.Equal(t, "hello!", d.String())

	ops, err := d.Delete(1, 3)
	require.NoError(t, err)
	assert.Len(t, ops, 3)
	assert.Equal(t, "ho!", d.String())
	assert.Equal(t, 3, d.Length())
}

func TestUnicodeOffsets(t *testing.T) {
	d := NewWithSite("a")
	_, _ = d.Insert(0, "协同编辑")
	_, _ = d.Insert(2, "-")
	assert.Equal(t, "协同-编辑", d.String())
	assert.Equal(t, 5, d.Length())
}

func TestConcurrentInsertsConverge(t *testing.T) {
	a := NewWithSite("a")
	b := NewWithSite("b")

	base, _ := a.Insert(0, "xy")
	require.NoError(t, b.Apply(base, nil))

	opsA, _ := a.Insert(1, "AA")
	opsB, _ := b.Insert(1, "BB")

	require.NoError(t, a.Apply(opsB, "b"))
	require.NoError(t, b.Apply(opsA, "a"))

	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, 6, a.Length())
}

func TestConcurrentDeleteAndInsert(t *testing.T) {
	a := NewWithSite("a")
	b := NewWithSite("b")
	base, _ := a.Insert(0, "abc")
	require.NoError(t, b.Apply(base, nil))

	del, _ := a.Delete(1, 1)
	ins, _ := b.Insert(2, "Z")

	require.NoError(t, a.Apply(ins, nil))
	require.NoError(t, b.Apply(del, nil))

	assert.Equal(t, "aZc", a.String())
	assert.Equal(t, a.String(), b.String())
}

func TestOutOfOrderOpsAreHeld(t *testing.T) {
	a := NewWithSite("a")
	ops, _ := a.Insert(0, "abc")
	del, _ := a.Delete(0, 1)

	b := NewWithSite("b")
	require.NoError(t, b.Apply(del, nil))
	require.NoError(t, b.Apply([]Op{ops[2], ops[1]}, nil))
	assert.Equal(t, 3, b.Pending())
	assert.Equal(t, "", b.String())

	require.NoError(t, b.Apply(ops[:1], nil))
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, "bc", b.String())
}

func TestApplyIsIdempotent(t *testing.T) {
	a := NewWithSite("a")
	ops, _ := a.Insert(0, "abc")

	b := NewWithSite("b")
	var updates int
	b.Observe(func(Update) { updates++ })

	require.NoError(t, b.Apply(ops, nil))
	require.NoError(t, b.Apply(ops, nil))
	assert.Equal(t, "abc", b.String())
	assert.Equal(t, 1, updates)
}

func TestSnapshotRebuildsState(t *testing.T) {
	a := NewWithSite("a")
	_, _ = a.Insert(0, "hello world")
	_, _ = a.Delete(5, 6)
	_, _ = a.Insert(5, "!")

	b := NewWithSite("b")
	require.NoError(t, b.Apply(a.Snapshot(), nil))
	assert.Equal(t, "hello!", b.String())

	// Later edits from b land where a expects them.
	ops, _ := b.Insert(0, ">")
	require.NoError(t, a.Apply(ops, nil))
	assert.Equal(t, ">hello!", a.String())
}

func TestObserveOrigin(t *testing.T) {
	d := NewWithSite("a")
	var origins []any
	cancel := d.Observe(func(u Update) { origins = append(origins, u.Origin) })

	_, _ = d.Insert(0, "x")
	remote := NewWithSite("r")
	ops, _ := remote.Insert(0, "y")
	_ = d.Apply(ops, "peer")
	cancel()
	_, _ = d.Insert(0, "z")

	assert.Equal(t, []any{nil, "peer"}, origins)
}

func TestInsertIfEmpty(t *testing.T) {
	d := NewWithSite("a")
	ops, err := d.InsertIfEmpty("seed")
	require.NoError(t, err)
	assert.Len(t, ops, 4)

	ops, err = d.InsertIfEmpty("again")
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Equal(t, "seed", d.String())

	_, err = d.Delete(0, 4)
	require.NoError(t, err)
	_, err = d.InsertIfEmpty("fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", d.String())
}

func TestInsertIfEmptyAfterRemoteState(t *testing.T) {
	remote := NewWithSite("b")
	_, _ = remote.Insert(0, "print(1)")

	d := NewWithSite("a")
	require.NoError(t, d.Apply(remote.Snapshot(), "peer"))
	ops, err := d.InsertIfEmpty("print(1)")
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Equal(t, "print(1)", d.String())
}

func TestInsertIfEmptySeedsOnce(t *testing.T) {
	d := NewWithSite("a")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.InsertIfEmpty("x")
		}()
	}
	wg.Wait()
	assert.Equal(t, "x", d.String())
}

func TestDestroy(t *testing.T) {
	d := New()
	assert.NotEmpty(t, d.Site())
	d.Destroy()

	_, err := d.Insert(0, "x")
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = d.InsertIfEmpty("x")
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, d.Apply(nil, nil), ErrDestroyed)
}

func TestIDOrdering(t *testing.T) {
	assert.True(t, ID{Clock: 1, Site: "z"}.Less(ID{Clock: 2, Site: "a"}))
	assert.True(t, ID{Clock: 2, Site: "a"}.Less(ID{Clock: 2, Site: "b"}))
	assert.False(t, ID{Clock: 2, Site: "b"}.Less(ID{Clock: 2, Site: "b"}))
	assert.True(t, ID{}.IsZero())
}
