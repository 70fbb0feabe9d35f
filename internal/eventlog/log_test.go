package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAppendsAndReturnsLength(t *testing.T) {
	l := New(Entry{"event": "page_view"})
	require.Equal(t, 1, l.Len())

	n := l.Push(Entry{"event": "purchase"}, Entry{"value": 10})
	assert.Equal(t, 3, n)
	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "purchase", entries[1].Event())
}

func TestEntriesIsSnapshot(t *testing.T) {
	l := New()
	l.Push(Entry{"a": 1})
	snap := l.Entries()
	l.Push(Entry{"b": 2})
	assert.Len(t, snap, 1)
}

func TestSubscribeIsIdempotentByName(t *testing.T) {
	l := New()
	var calls int
	fn := func([]Entry) { calls++ }

	assert.True(t, l.Subscribe("reporter", fn))
	assert.False(t, l.Subscribe("reporter", fn))

	l.Push(Entry{"event": "purchase"})
	assert.Equal(t, 1, calls, "double registration must not double-notify")
}

func TestObserverSeesAppendedState(t *testing.T) {
	l := New()
	var lenAtNotify int
	var got []Entry
	l.Subscribe("probe", func(entries []Entry) {
		lenAtNotify = l.Len()
		got = entries
	})

	l.Push(Entry{"event": "purchase", "value": 79.99})
	assert.Equal(t, 1, lenAtNotify)
	require.Len(t, got, 1)
	assert.Equal(t, "purchase", got[0].Event())
}

func TestObserverMayPushWithoutDeadlock(t *testing.T) {
	l := New()
	l.Subscribe("echo", func(entries []Entry) {
		if entries[0].Event() == "purchase" {
			l.Push(Entry{"event": "ack"})
		}
	})
	l.Push(Entry{"event": "purchase"})
	assert.Equal(t, 2, l.Len())
}

func TestUnsubscribe(t *testing.T) {
	l := New()
	var calls int
	l.Subscribe("x", func([]Entry) { calls++ })
	l.Unsubscribe("x")
	l.Push(Entry{})
	assert.Zero(t, calls)
	assert.True(t, l.Subscribe("x", func([]Entry) {}))
}

func TestEmptyPushDoesNotNotify(t *testing.T) {
	l := New()
	var calls int
	l.Subscribe("x", func([]Entry) { calls++ })
	assert.Equal(t, 0, l.Push())
	assert.Zero(t, calls)
}
