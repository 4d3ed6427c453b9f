package ratelimit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerKeyAllowsWithinBurst(t *testing.T) {
	limiter := NewPerKey(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("client-1"), "request %d within burst", i)
	}
	assert.False(t, limiter.Allow("client-1"))
}

func TestPerKeyIsolatesKeys(t *testing.T) {
	limiter := NewPerKey(1, 1)

	assert.True(t, limiter.Allow("client-1"))
	assert.False(t, limiter.Allow("client-1"))
	assert.True(t, limiter.Allow("client-2"))
}

func TestPerKeyConcurrentAccess(t *testing.T) {
	limiter := NewPerKey(1000, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%5))
			for j := 0; j < 10; j++ {
				limiter.Allow(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestUnlimited(t *testing.T) {
	limiter := Unlimited{}

	for i := 0; i < 1000; i++ {
		assert.True(t, limiter.Allow("anyone"))
	}
}
