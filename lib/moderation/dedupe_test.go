package moderation

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupe_AddIfNew(t *testing.T) {
	d := NewDedupe(time.Minute, 100)
	assert.True(t, d.AddIfNew(1, 10))
	assert.False(t, d.AddIfNew(1, 10), "same pair rejected")
	assert.True(t, d.AddIfNew(1, 11), "different message accepted")
	assert.True(t, d.AddIfNew(2, 10), "different chat accepted")
	assert.Equal(t, 3, d.Len())
}

func TestDedupe_TTLExpiry(t *testing.T) {
	d := NewDedupe(50*time.Millisecond, 100)
	assert.True(t, d.AddIfNew(1, 10))
	assert.False(t, d.AddIfNew(1, 10))
	time.Sleep(75 * time.Millisecond)
	assert.True(t, d.AddIfNew(1, 10), "expired pair accepted again")
}

func TestDedupe_Concurrent(t *testing.T) {
	d := NewDedupe(time.Minute, 1000)
	var accepted int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.AddIfNew(1, 42) {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted, "exactly one caller wins per key")
}
