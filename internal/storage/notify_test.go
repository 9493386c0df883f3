package storage

import (
	"testing"
	"time"

	"github.com/fmedlin/touchdb/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_DeliversInOrder(t *testing.T) {
	n := NewNotifier()
	sub := n.Subscribe()
	defer sub.Close()

	for i := 1; i <= 100; i++ {
		n.Publish(Change{Database: "db", Revision: &model.Revision{Sequence: int64(i)}})
	}

	for i := 1; i <= 100; i++ {
		select {
		case c := <-sub.C():
			require.Equal(t, int64(i), c.Revision.Sequence)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for change %d", i)
		}
	}
}

func TestNotifier_CloseReleases(t *testing.T) {
	n := NewNotifier()
	sub := n.Subscribe()
	assert.Equal(t, 1, n.Len())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, n.Len())

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// Publishing after close must not block or panic
	n.Publish(Change{Database: "db"})
}

func TestNotifier_CloseAll(t *testing.T) {
	n := NewNotifier()
	a := n.Subscribe()
	b := n.Subscribe()
	n.Close()
	assert.Equal(t, 0, n.Len())

	for _, s := range []*Subscription{a, b} {
		select {
		case _, ok := <-s.C():
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("channel not closed")
		}
	}
}

func TestCalculateRevIDDeterministic(t *testing.T) {
	a, err := CalculateRevID(1, "", false, map[string]interface{}{"x": 1.0})
	require.NoError(t, err)
	b, err := CalculateRevID(1, "", false, map[string]interface{}{"x": 1.0})
	require.NoError(t, err)
	c, err := CalculateRevID(1, "", true, map[string]interface{}{"x": 1.0})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	gen, suffix, ok := model.ParseRevID(a)
	assert.True(t, ok)
	assert.Equal(t, 1, gen)
	assert.Len(t, suffix, 32)
}
