package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_NotifiesOnlyOnChange(t *testing.T) {
	v := NewValue([]string{"a"})
	var seen [][]string
	sub := v.Subscribe(func(s []string) { seen = append(seen, s) })

	v.Set([]string{"a"})
	v.Update(func(s []string) []string { return append(append([]string{}, s...), "b") })

	assert.Equal(t, [][]string{{"a", "b"}}, seen)
	assert.Equal(t, []string{"a", "b"}, v.Get())

	sub.Unsubscribe()
	v.Set(nil)
	assert.Len(t, seen, 1)
	assert.Zero(t, v.Listeners())
}

func TestValue_CustomEquality(t *testing.T) {
	calls := 0
	v := NewValue(1).WithEquals(func(a, b int) bool { return a%2 == b%2 })
	v.Subscribe(func(int) { calls++ })

	v.Set(3)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, v.Get())

	v.Set(4)
	assert.Equal(t, 1, calls)
}

func TestNotifier(t *testing.T) {
	var n Notifier
	calls := 0
	sub := n.Subscribe(func() { calls++ })
	n.Notify()
	n.Notify()
	sub.Unsubscribe()
	n.Notify()
	assert.Equal(t, 2, calls)
	assert.Zero(t, n.Listeners())
}
