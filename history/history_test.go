package history

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

// counter is a Canvas whose whole state is one integer.
type counter struct {
	v      int
	failOn string
	loads  int
}

func (c *counter) ToJSON() ([]byte, error) { return []byte(strconv.Itoa(c.v)), nil }

func (c *counter) LoadFromJSON(b []byte) error {
	if string(b) == c.failOn {
		return errors.New("corrupt")
	}
	v, err := strconv.Atoi(string(b))
	if err != nil {
		return err
	}
	c.v = v
	c.loads++
	return nil
}

type brokenCanvas struct{}

func (brokenCanvas) ToJSON() ([]byte, error) { return nil, errors.New("nope") }
func (brokenCanvas) LoadFromJSON([]byte) error { return nil }

func pushN(t *testing.T, m *Manager, c *counter, from, to int) {
	t.Helper()
	for i := from; i <= to; i++ {
		c.v = i
		if err := m.Push(c); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEmpty(t *testing.T) {
	m := New()
	c := &counter{}
	if m.Index() != -1 || m.CanUndo() || m.CanRedo() {
		t.Fatal("fresh manager should be empty")
	}
	if m.Undo(c) || m.Redo(c) {
		t.Fatal("undo/redo on empty history must be false")
	}
	if c.loads != 0 {
		t.Fatal("canvas touched")
	}
}

func TestSinglePushCannotUndo(t *testing.T) {
	m := New()
	c := &counter{}
	pushN(t, m, c, 1, 1)
	if m.CanUndo() {
		t.Fatal("single snapshot is the floor")
	}
}

func TestUndoRedo(t *testing.T) {
	m := New()
	c := &counter{}
	pushN(t, m, c, 1, 3)

	if !m.Undo(c) || c.v != 2 {
		t.Fatalf("undo: v=%d", c.v)
	}
	if !m.Undo(c) || c.v != 1 {
		t.Fatalf("undo: v=%d", c.v)
	}
	if m.Undo(c) {
		t.Fatal("undo past first snapshot")
	}
	if !m.Redo(c) || c.v != 2 {
		t.Fatalf("redo: v=%d", c.v)
	}
	if !m.CanRedo() {
		t.Fatal("should be able to redo to 3")
	}
}

func TestPushTruncatesRedo(t *testing.T) {
	m := New()
	c := &counter{}
	pushN(t, m, c, 1, 3)
	m.Undo(c)
	m.Undo(c)
	pushN(t, m, c, 9, 9)

	if m.CanRedo() {
		t.Fatal("redo branch must be discarded")
	}
	if m.Len() != 2 || m.Index() != 1 {
		t.Fatalf("len=%d index=%d", m.Len(), m.Index())
	}
	m.Undo(c)
	if c.v != 1 {
		t.Fatalf("v=%d", c.v)
	}
}

func TestBoundEvictsOldest(t *testing.T) {
	m := New()
	c := &counter{}
	pushN(t, m, c, 1, 60)

	if m.Len() != DefaultMaxSize {
		t.Fatalf("len=%d", m.Len())
	}
	if m.Index() != DefaultMaxSize-1 {
		t.Fatalf("index=%d", m.Index())
	}
	for m.Undo(c) {
	}
	if c.v != 11 {
		t.Fatalf("oldest retained = %d, want 11", c.v)
	}
}

func TestWithMaxSize(t *testing.T) {
	m := New(WithMaxSize(3), WithMaxSize(0))
	c := &counter{}
	pushN(t, m, c, 1, 5)
	if m.Len() != 3 {
		t.Fatalf("len=%d", m.Len())
	}
	cur, ok := m.Current()
	if !ok || cur.State != "5" {
		t.Fatalf("current=%q", cur.State)
	}
}

func TestFailedRestoreKeepsIndex(t *testing.T) {
	m := New()
	c := &counter{failOn: "1"}
	pushN(t, m, c, 1, 2)
	if m.Undo(c) {
		t.Fatal("undo should fail")
	}
	if m.Index() != 1 || c.v != 2 {
		t.Fatalf("index=%d v=%d", m.Index(), c.v)
	}
}

func TestPushError(t *testing.T) {
	m := New()
	if err := m.Push(brokenCanvas{}); err == nil {
		t.Fatal("expected error")
	}
	if m.Len() != 0 || m.Index() != -1 {
		t.Fatal("failed push must not record")
	}
}

func TestClearAndClock(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := New(WithClock(func() time.Time { return ts }))
	c := &counter{}
	pushN(t, m, c, 1, 2)
	cur, _ := m.Current()
	if !cur.Timestamp.Equal(ts) {
		t.Fatalf("timestamp=%v", cur.Timestamp)
	}
	m.Clear()
	if m.Len() != 0 || m.Index() != -1 || m.CanUndo() || m.CanRedo() {
		t.Fatal("clear")
	}
}
