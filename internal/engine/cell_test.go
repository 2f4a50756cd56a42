package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCell_CommitAndSnapshot(t *testing.T) {
	c := NewCell(testDB{Counter: 1})

	v, version := c.Snapshot()
	assert.Equal(t, 1, v.Counter)
	assert.Equal(t, int64(0), version)

	assert.Equal(t, int64(1), c.commit(testDB{Counter: 2}))
	assert.Equal(t, 2, c.Get().Counter)
	assert.Equal(t, int64(1), c.Version())
}

func TestCell_Watch(t *testing.T) {
	c := NewCell(0)

	var seen [][2]int
	cancel := c.Watch(func(old, new int) {
		seen = append(seen, [2]int{old, new})
	})

	c.commit(1)
	c.commit(5)
	cancel()
	c.commit(9)

	assert.Equal(t, [][2]int{{0, 1}, {1, 5}}, seen)
}

func TestCell_ReadersSeeWholeValues(t *testing.T) {
	type pair struct{ A, B int }
	c := NewCell(pair{})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				p := c.Get()
				assert.Equal(t, p.A, p.B, "torn read")
			}
		}
	}()

	for i := 1; i <= 1000; i++ {
		c.commit(pair{A: i, B: i})
	}
	close(stop)
	wg.Wait()
}
