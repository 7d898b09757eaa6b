package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	a := Key("ua/data/p1", []byte("x"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Key("ua/data/p1", []byte("x")))
	assert.NotEqual(t, a, Key("ua/data/p2", []byte("x")))
	assert.NotEqual(t, Key("ab", []byte("c")), Key("a", []byte("bc")))
}

func TestShouldProcessWindow(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := New(time.Minute, 10)
	d.now = func() time.Time { return clock }

	assert.True(t, d.ShouldProcess("a"))
	assert.False(t, d.ShouldProcess("a"))
	assert.True(t, d.ShouldProcess(""))
	assert.True(t, d.ShouldProcess(""))

	clock = clock.Add(2 * time.Minute)
	assert.True(t, d.ShouldProcess("a"))
}

func TestEvictionBoundsSize(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := New(time.Hour, 3)
	d.now = func() time.Time { return clock }

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		clock = clock.Add(time.Second)
		assert.True(t, d.ShouldProcess(id))
	}
	assert.Equal(t, 3, d.Len())
	assert.False(t, d.ShouldProcess("e"))
	assert.True(t, d.ShouldProcess("a"))
}

func TestNilDeduper(t *testing.T) {
	var d *Deduper
	assert.True(t, d.ShouldProcess("a"))
}
