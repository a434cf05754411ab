package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func push(h *History, prices ...float64) {
	at := time.Now()
	for _, p := range prices {
		h.Push(Sample{Price: p, At: at})
		at = at.Add(time.Second)
	}
}

func TestHistoryChange(t *testing.T) {
	h := NewHistory(10)
	push(h, 100, 101, 102, 103)

	change, ok := h.Change(4)
	require.True(t, ok)
	assert.InDelta(t, 0.03, change, 1e-9)

	change, ok = h.Change(2)
	require.True(t, ok)
	assert.InDelta(t, (103.0-102.0)/102.0, change, 1e-9)
}

func TestHistoryChangeNeedsFullWindow(t *testing.T) {
	h := NewHistory(10)
	push(h, 100, 101)

	_, ok := h.Change(3)
	assert.False(t, ok)

	_, ok = h.Change(1)
	assert.False(t, ok, "window below 2 is meaningless")
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	push(h, 1, 2, 3, 4, 5)

	assert.Equal(t, 3, h.Len())
	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Price)

	change, ok := h.Change(3)
	require.True(t, ok)
	assert.InDelta(t, (5.0-3.0)/3.0, change, 1e-9)
}

func TestHistoryCloneIsIndependent(t *testing.T) {
	h := NewHistory(5)
	push(h, 10, 11)

	cp := h.Clone()
	push(h, 12)

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 2, cp.Len())
}
