package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDropsOldestWhenFull(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.Send(i)
	}

	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{3, 4, 5}, got)
	assert.EqualValues(t, 2, rc.Dropped())
}

func TestSendPreservesOrder(t *testing.T) {
	rc := New[int](10)
	for i := 0; i < 5; i++ {
		assert.False(t, rc.Send(i))
	}
	rc.Close()

	want := 0
	for v := range rc.C() {
		require.Equal(t, want, v)
		want++
	}
	assert.Equal(t, 5, want)
	assert.Zero(t, rc.Dropped())
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
