package cell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignalFanOut(t *testing.T) {
	s := NewSignal[int]()
	var got []int
	for i := 0; i < 3; i++ {
		s.Connect(func(v int) { got = append(got, v) })
	}
	s.Emit(42)
	require.Len(t, got, 3)
	for _, v := range got {
		require.Equal(t, 42, v)
	}
}

func TestConnectionDisconnectStopsDelivery(t *testing.T) {
	s := NewSignal[int]()
	calls := 0
	conn := s.Connect(func(v int) { calls++ })
	conn.Disconnect()
	s.Emit(1)
	require.Equal(t, 0, calls)
}

func TestReentrantEmitIsQueuedNotRecursive(t *testing.T) {
	s := NewSignal[int]()
	var order []int
	s.Connect(func(v int) {
		order = append(order, v)
		if v == 1 {
			s.Emit(2)
		}
	})
	s.Emit(1)
	require.Equal(t, []int{1, 2}, order)
}

func TestCellSetNotifiesOnChange(t *testing.T) {
	c := NewCell(0)
	var observed int
	c.OnChange(func(v int) { observed = v })
	c.Set(5, func(old, new int) bool { return old != new })
	require.Equal(t, 5, observed)
	require.Equal(t, 5, c.Get())
}

func TestCellSetSkipsNotifyWhenUnchanged(t *testing.T) {
	c := NewCell(5)
	calls := 0
	c.OnChange(func(v int) { calls++ })
	c.Set(5, func(old, new int) bool { return old != new })
	require.Equal(t, 0, calls)
}

func TestCellUpdateCommitsAndNotifiesOnTrue(t *testing.T) {
	c := NewCell(10)
	var observed int
	c.OnChange(func(v int) { observed = v })
	c.Update(func(cur *int) bool {
		*cur += 1
		return true
	})
	require.Equal(t, 11, c.Get())
	require.Equal(t, 11, observed)
}

func TestCellUpdateFalseSkipsNotify(t *testing.T) {
	c := NewCell(10)
	calls := 0
	c.OnChange(func(v int) { calls++ })
	c.Update(func(cur *int) bool {
		*cur += 1
		return false
	})
	require.Equal(t, 11, c.Get())
	require.Equal(t, 0, calls)
}

func TestSignalSubscriberPanicDoesNotStopOthers(t *testing.T) {
	s := NewSignal[int]()
	secondCalled := false
	s.Connect(func(v int) { panic("boom") })
	s.Connect(func(v int) { secondCalled = true })
	require.NotPanics(t, func() { s.Emit(1) })
	require.True(t, secondCalled)
}
